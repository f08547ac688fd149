package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	apiKeyHeader      = "X-MBX-APIKEY"
	DefaultRecvWindow = 5000
	serverTimePath    = "/fapi/v1/time"
	maxErrorBody      = 2048
)

type Options struct {
	Timeout         time.Duration
	RecvWindow      int64
	RateLimitPerSec float64
	RateLimitBurst  int
}

// Client talks to one account. Credentials are fixed for its lifetime.
type Client struct {
	baseURL    string
	apiKey     string
	secret     string
	recvWindow int64
	http       *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger
	now        func() time.Time
}

func New(baseURL, apiKey, secret string, opts Options, log *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RecvWindow <= 0 {
		opts.RecvWindow = DefaultRecvWindow
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimitPerSec > 0 {
		burst := opts.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitPerSec), burst)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		secret:     secret,
		recvWindow: opts.RecvWindow,
		http:       &http.Client{Timeout: opts.Timeout},
		limiter:    limiter,
		log:        log,
		now:        time.Now,
	}
}

func (c *Client) PublicGet(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, encodeParams(params), false, out)
}

func (c *Client) SignedGet(ctx context.Context, path string, params url.Values, out any) error {
	query, err := c.signedQuery(ctx, path, params)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodGet, path, query, true, out)
}

func (c *Client) SignedPost(ctx context.Context, path string, params url.Values, out any) error {
	query, err := c.signedQuery(ctx, path, params)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, query, true, out)
}

// Timestamp returns the local clock corrected by the offset to the exchange clock.
// The offset is measured on every call.
func (c *Client) Timestamp(ctx context.Context) (int64, error) {
	server, err := c.ServerTime(ctx)
	if err != nil {
		return 0, err
	}
	local := c.now().UnixMilli()
	offset := server - local
	return c.now().UnixMilli() + offset, nil
}

func (c *Client) signedQuery(ctx context.Context, path string, params url.Values) (string, error) {
	ts, err := c.Timestamp(ctx)
	if err != nil {
		return "", &RequestFailed{Endpoint: path, Cause: fmt.Errorf("server time: %w", err)}
	}
	signed := cloneParams(params)
	signed.Del("signature")
	signed.Set("timestamp", strconv.FormatInt(ts, 10))
	signed.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	payload := encodeParams(signed)
	return payload + "&signature=" + Sign(c.secret, payload), nil
}

func (c *Client) do(ctx context.Context, method, path, payload string, signed bool, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &RequestFailed{Endpoint: path, Cause: err}
	}
	endpoint := c.baseURL + path
	var body io.Reader
	if method == http.MethodGet {
		if payload != "" {
			endpoint += "?" + payload
		}
	} else {
		body = strings.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return &RequestFailed{Endpoint: path, Cause: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if signed {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &RequestFailed{Endpoint: path, Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RequestFailed{Endpoint: path, Status: resp.StatusCode, Cause: decodeAPIError(resp.StatusCode, raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RequestFailed{Endpoint: path, Status: resp.StatusCode, Cause: fmt.Errorf("decode response: %w", err)}
	}
	c.log.Debug("request ok", zap.String("method", method), zap.String("path", path))
	return nil
}

func decodeAPIError(status int, raw []byte) error {
	var apiErr APIError
	if err := json.Unmarshal(raw, &apiErr); err == nil && (apiErr.Code != 0 || apiErr.Msg != "") {
		return &apiErr
	}
	return errors.New("http " + strconv.Itoa(status) + ": " + strings.TrimSpace(string(raw)))
}

func cloneParams(params url.Values) url.Values {
	out := make(url.Values, len(params)+3)
	for key, vals := range params {
		out[key] = append([]string(nil), vals...)
	}
	return out
}

// encodeParams is url.Values.Encode: keys sorted, values in insertion order.
func encodeParams(params url.Values) string {
	if len(params) == 0 {
		return ""
	}
	return params.Encode()
}
