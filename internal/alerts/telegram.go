package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"aster-hedge-bot/internal/config"

	"go.uber.org/zap"
)

const (
	telegramBaseURL = "https://api.telegram.org"
	sendTimeout     = 5 * time.Second
	flushTimeout    = 15 * time.Second
	queueSize       = 32
	messagePrefix   = "[hedge-bot] "
	maxMessageRunes = 4096
)

// Notifier delivers operator-visible messages. Implementations must not block
// the caller.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

type Nop struct{}

func (Nop) Notify(context.Context, string) {}

// Telegram delivers alerts from a single background goroutine so callers
// never wait on the Telegram API. Close flushes what is still queued.
type Telegram struct {
	enabled bool
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	log     *zap.Logger

	start  sync.Once
	mu     sync.Mutex
	closed bool
	queue  chan string
	done   chan struct{}
}

func NewTelegram(cfg config.TelegramConfig, log *zap.Logger) *Telegram {
	return newTelegram(cfg, log, telegramBaseURL, &http.Client{Timeout: 10 * time.Second})
}

func newTelegram(cfg config.TelegramConfig, log *zap.Logger, baseURL string, client *http.Client) *Telegram {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Telegram{
		enabled: cfg.Enabled,
		token:   strings.TrimSpace(cfg.Token),
		chatID:  strings.TrimSpace(cfg.ChatID),
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     log,
		queue:   make(chan string, queueSize),
		done:    make(chan struct{}),
	}
}

// Notify queues message and returns immediately. Alerts that do not fit in
// the queue, or arrive after Close, are logged and dropped.
func (t *Telegram) Notify(_ context.Context, message string) {
	if t == nil || !t.enabled {
		return
	}
	t.start.Do(func() { go t.drain() })
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		t.log.Warn("telegram alert dropped after close", zap.String("message", message))
		return
	}
	select {
	case t.queue <- message:
	default:
		t.log.Warn("telegram queue full, alert dropped", zap.String("message", message))
	}
}

// Close stops accepting alerts and waits, up to flushTimeout, for queued
// ones to be sent.
func (t *Telegram) Close() {
	if t == nil || !t.enabled {
		return
	}
	t.start.Do(func() { go t.drain() })
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()
	select {
	case <-t.done:
	case <-time.After(flushTimeout):
		t.log.Warn("telegram flush timed out", zap.Int("pending", len(t.queue)))
	}
}

func (t *Telegram) drain() {
	defer close(t.done)
	for message := range t.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := t.Send(ctx, messagePrefix+message); err != nil {
			t.log.Warn("telegram alert failed", zap.Error(err))
		}
		cancel()
	}
}

// Send posts one message. Messages over the Telegram limit are truncated and
// the bot token is redacted from transport errors.
func (t *Telegram) Send(ctx context.Context, message string) error {
	if !t.enabled {
		return nil
	}
	if t.token == "" || t.chatID == "" {
		return errors.New("telegram token and chat_id are required")
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return errors.New("telegram message is empty")
	}
	if utf8.RuneCountInString(message) > maxMessageRunes {
		message = string([]rune(message)[:maxMessageRunes-1]) + "…"
	}
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                t.chatID,
		Text:                  message,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}
	endpoint := t.baseURL + "/bot" + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return t.redact(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return t.redact(err)
	}
	defer resp.Body.Close()

	var result apiResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&result)
	switch {
	case resp.StatusCode >= 300:
		return fmt.Errorf("telegram sendMessage: http %d: %s", resp.StatusCode, result.describe())
	case decodeErr != nil:
		return fmt.Errorf("telegram sendMessage: decode response: %w", decodeErr)
	case !result.OK:
		return fmt.Errorf("telegram sendMessage: %s", result.describe())
	}
	return nil
}

func (t *Telegram) redact(err error) error {
	return errors.New(strings.ReplaceAll(err.Error(), t.token, "<token>"))
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

func (r apiResponse) describe() string {
	desc := strings.TrimSpace(r.Description)
	if desc == "" {
		desc = "unknown telegram error"
	}
	if r.ErrorCode != 0 {
		return fmt.Sprintf("%d %s", r.ErrorCode, desc)
	}
	return desc
}
