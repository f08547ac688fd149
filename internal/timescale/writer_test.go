package timescale

import (
	"context"
	"testing"
	"time"

	"aster-hedge-bot/internal/config"

	"go.uber.org/zap"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	w, err := New(config.TimescaleConfig{Enabled: false}, zap.NewNop())
	if err != nil || w != nil {
		t.Fatalf("expected nil writer, got %v %v", w, err)
	}
}

func TestNewRequiresDSN(t *testing.T) {
	if _, err := New(config.TimescaleConfig{Enabled: true}, zap.NewNop()); err == nil {
		t.Fatalf("expected error without dsn")
	}
}

func TestNilWriterIsSafe(t *testing.T) {
	var w *Writer
	w.EnqueueAccount(AccountSample{Account: "account1"})
	w.EnqueueStats(StatsSample{})
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run on nil writer: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close on nil writer: %v", err)
	}
}

func TestEnqueueDropsWhenFull(t *testing.T) {
	w := newWriter(nil, "public", 1, zap.NewNop())
	w.EnqueueAccount(AccountSample{Account: "account1"})
	w.EnqueueAccount(AccountSample{Account: "account2"})
	w.EnqueueStats(StatsSample{TradeCount: 1})
	w.EnqueueStats(StatsSample{TradeCount: 2})
	w.EnqueueStats(StatsSample{TradeCount: 3})
	accounts, stats := w.Dropped()
	if accounts != 1 || stats != 2 {
		t.Fatalf("expected 1/2 drops, got %d/%d", accounts, stats)
	}
}

func TestRunDrainsWithoutDatabase(t *testing.T) {
	w := newWriter(nil, "public", 4, zap.NewNop())
	w.EnqueueAccount(AccountSample{Account: "account1", Time: time.Now()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	deadline := time.After(2 * time.Second)
	for len(w.accounts) > 0 {
		select {
		case <-deadline:
			t.Fatalf("queue not drained")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := w.Run(context.Background()); err == nil {
		t.Fatalf("expected error on second run")
	}
}

func TestTableQualifiesSchema(t *testing.T) {
	w := newWriter(nil, "hedge", 1, nil)
	if got := w.table("cycle_stats"); got != "hedge.cycle_stats" {
		t.Fatalf("unexpected table name %s", got)
	}
}
