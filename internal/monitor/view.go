package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"aster-hedge-bot/internal/account"
	"aster-hedge-bot/internal/strategy"

	"go.uber.org/zap"
)

const DefaultRenderInterval = time.Second

type SnapshotSource interface {
	Snapshot() account.Snapshot
}

type StatsSource interface {
	Stats() strategy.CycleStatistics
}

// Sink receives every model the view builds. Observe runs on the view's
// goroutine and must return quickly.
type Sink interface {
	Observe(m Model)
}

type SinkFunc func(m Model)

func (f SinkFunc) Observe(m Model) { f(m) }

type View struct {
	accounts []SnapshotSource
	stats    StatsSource
	interval time.Duration
	sinks    []Sink
	log      *zap.Logger
	now      func() time.Time

	latest atomic.Pointer[Model]
}

func NewView(accounts []SnapshotSource, stats StatsSource, interval time.Duration, log *zap.Logger, sinks ...Sink) *View {
	if interval <= 0 {
		interval = DefaultRenderInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &View{
		accounts: accounts,
		stats:    stats,
		interval: interval,
		sinks:    sinks,
		log:      log,
		now:      time.Now,
	}
}

// Run builds a model every interval until ctx is cancelled.
func (v *View) Run(ctx context.Context) error {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return nil
		}
		v.Tick()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick builds one model, stores it and hands it to the sinks.
func (v *View) Tick() Model {
	snaps := make([]account.Snapshot, 0, len(v.accounts))
	for _, src := range v.accounts {
		snaps = append(snaps, src.Snapshot())
	}
	var stats strategy.CycleStatistics
	if v.stats != nil {
		stats = v.stats.Stats()
	}
	m := Build(snaps, stats, v.now())
	v.latest.Store(&m)
	for _, sink := range v.sinks {
		sink.Observe(m)
	}
	return m
}

// Latest returns the last model built, if any.
func (v *View) Latest() (Model, bool) {
	m := v.latest.Load()
	if m == nil {
		return Model{}, false
	}
	return *m, true
}
