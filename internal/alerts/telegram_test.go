package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"aster-hedge-bot/internal/config"

	"go.uber.org/zap"
)

func TestTelegramSendDisabled(t *testing.T) {
	cfg := config.TelegramConfig{Enabled: false}
	client := newTelegram(cfg, zap.NewNop(), "http://unused", nil)
	if err := client.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("expected nil error when disabled, got %v", err)
	}
}

func TestTelegramSendMissingConfig(t *testing.T) {
	cfg := config.TelegramConfig{Enabled: true}
	client := newTelegram(cfg, zap.NewNop(), "http://unused", nil)
	if err := client.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error for missing token/chat_id")
	}
}

func TestTelegramSendPostsMessage(t *testing.T) {
	var gotPath string
	var gotPayload sendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123"}
	client := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	if err := client.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("expected send success, got %v", err)
	}
	if gotPath != "/bottoken/sendMessage" {
		t.Fatalf("expected path /bottoken/sendMessage, got %s", gotPath)
	}
	if gotPayload.ChatID != "123" || gotPayload.Text != "hello" || !gotPayload.DisableWebPagePreview {
		t.Fatalf("unexpected payload %+v", gotPayload)
	}
}

func TestTelegramNotifySurvivesCancelledContext(t *testing.T) {
	var mu sync.Mutex
	var texts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload sendMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		texts = append(texts, payload.Text)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123"}
	client := newTelegram(cfg, zap.NewNop(), server.URL, server.Client())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client.Notify(ctx, "shutdown reconcile done")
	client.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(texts) != 1 || texts[0] != messagePrefix+"shutdown reconcile done" {
		t.Fatalf("unexpected messages %v", texts)
	}
}

func TestTelegramSendReportsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer server.Close()

	client := newTelegram(config.TelegramConfig{Enabled: true, Token: "token", ChatID: "1"}, nil, server.URL, server.Client())
	err := client.Send(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "400 Bad Request: chat not found") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestTelegramSendTruncatesLongMessages(t *testing.T) {
	var got sendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := newTelegram(config.TelegramConfig{Enabled: true, Token: "token", ChatID: "1"}, nil, server.URL, server.Client())
	if err := client.Send(context.Background(), strings.Repeat("x", maxMessageRunes+10)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if n := utf8.RuneCountInString(got.Text); n != maxMessageRunes {
		t.Fatalf("expected %d runes, got %d", maxMessageRunes, n)
	}
}

func TestTelegramTransportErrorRedactsToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTelegram(config.TelegramConfig{Enabled: true, Token: "secret-token", ChatID: "1"}, nil, url, nil)
	err := client.Send(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Fatalf("token leaked in error: %v", err)
	}
}

func TestTelegramNotifyDoesNotWaitForSlowAPI(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var texts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload sendMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&payload)
		<-release
		mu.Lock()
		texts = append(texts, payload.Text)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := newTelegram(config.TelegramConfig{Enabled: true, Token: "token", ChatID: "1"}, nil, server.URL, server.Client())
	returned := make(chan struct{})
	go func() {
		client.Notify(context.Background(), "partial open")
		client.Notify(context.Background(), "close failed")
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatalf("notify blocked on a slow telegram API")
	}

	close(release)
	client.Close()
	mu.Lock()
	defer mu.Unlock()
	if len(texts) != 2 || texts[0] != messagePrefix+"partial open" || texts[1] != messagePrefix+"close failed" {
		t.Fatalf("unexpected messages %v", texts)
	}
}

func TestTelegramNotifyAfterCloseIsDropped(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := newTelegram(config.TelegramConfig{Enabled: true, Token: "token", ChatID: "1"}, nil, server.URL, server.Client())
	client.Close()
	client.Notify(context.Background(), "late")
	client.Close()

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("expected no sends after close, got %d", calls)
	}
}
