package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"aster-hedge-bot/internal/account"
	"aster-hedge-bot/internal/alerts"
	"aster-hedge-bot/internal/aster/rest"
	"aster-hedge-bot/internal/config"
	"aster-hedge-bot/internal/engine"
	"aster-hedge-bot/internal/exec"
	"aster-hedge-bot/internal/metrics"
	"aster-hedge-bot/internal/monitor"
	"aster-hedge-bot/internal/reconcile"
	"aster-hedge-bot/internal/state"
	"aster-hedge-bot/internal/state/sqlite"
	"aster-hedge-bot/internal/timescale"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	log        *zap.Logger
	store      *sqlite.Store
	trackers   []*account.Tracker
	engine     *engine.Engine
	reconciler *reconcile.Reconciler
	view       *monitor.View
	server     *monitor.Server
	metrics    *metrics.Metrics
	notifier   alerts.Notifier
	telegram   *alerts.Telegram
	timescale  *timescale.Writer
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if len(cfg.Accounts) != 2 {
		return nil, fmt.Errorf("expected two accounts, got %d", len(cfg.Accounts))
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: log, store: store, notifier: alerts.Nop{}}

	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		a.metrics = prom.Metrics
	} else {
		a.metrics = metrics.NewNoop()
	}
	if cfg.Telegram.Enabled {
		a.telegram = alerts.NewTelegram(cfg.Telegram, log)
		a.notifier = a.telegram
	}
	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("timescale: %w", err)
	}
	a.timescale = writer

	opts := rest.Options{
		Timeout:         cfg.REST.Timeout,
		RecvWindow:      cfg.REST.RecvWindow,
		RateLimitPerSec: cfg.REST.RateLimitPerSec,
		RateLimitBurst:  cfg.REST.RateLimitBurst,
	}
	legs := make([]engine.Leg, 0, len(cfg.Accounts))
	reconcileAccounts := make([]reconcile.Account, 0, len(cfg.Accounts))
	sources := make([]monitor.SnapshotSource, 0, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		client := rest.New(cfg.REST.BaseURL, acct.APIKey, acct.APISecret, opts, log.With(zap.String("account", acct.Name)))
		orders := exec.New(acct.Name, client, store, a.metrics, log)
		tracker := account.NewTracker(acct.Name, cfg.Trading.Symbol, client, cfg.Monitor.PollInterval, a.metrics, log)

		a.trackers = append(a.trackers, tracker)
		sources = append(sources, tracker)
		legs = append(legs, engine.Leg{Name: acct.Name, Venue: client, Orders: orders})
		reconcileAccounts = append(reconcileAccounts, reconcile.Account{Name: acct.Name, Positions: client, Orders: orders})
	}

	a.engine = engine.New(cfg.Trading, legs[0], legs[1], engine.Deps{
		Store:    store,
		Notifier: a.notifier,
		Metrics:  a.metrics,
		Log:      log,
	})
	a.reconciler = reconcile.New(reconcileAccounts, cfg.Shutdown.ReconcileTimeout, a.metrics, log)

	sinks := []monitor.Sink{monitor.NewMetricsSink(a.metrics)}
	if cfg.Monitor.Console {
		sinks = append(sinks, monitor.NewConsole(os.Stdout, true))
	}
	if writer != nil {
		sinks = append(sinks, monitor.SinkFunc(a.recordTimescale))
	}
	a.view = monitor.NewView(sources, a.engine, cfg.Monitor.RenderInterval, log, sinks...)

	if prom != nil {
		a.server = monitor.NewServer(cfg.Metrics.Addr, monitor.NewRouter(a.view, prom.Handler()), log)
	}
	return a, nil
}

// Run blocks until ctx is cancelled or a fatal error occurs. Open positions
// are flattened on the way out in both cases.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	symbol := a.cfg.Trading.Symbol

	if err := a.recoverUnfinishedCycle(ctx); err != nil {
		return err
	}
	if err := a.engine.Prepare(ctx); err != nil {
		a.log.Error("startup failed", zap.Error(err))
		a.notifier.Notify(ctx, "startup failed: "+err.Error())
		return errors.Join(err, a.flatten(ctx, symbol))
	}
	a.log.Info("hedge bot started",
		zap.String("symbol", symbol),
		zap.Int("leverage", a.cfg.Trading.Leverage),
		zap.String("notional_usdt", a.cfg.Trading.NotionalUSDT.String()),
		zap.Int("hold_seconds", a.cfg.Trading.HoldSeconds),
	)
	a.notifier.Notify(ctx, fmt.Sprintf("started %s with %dx leverage", symbol, a.cfg.Trading.Leverage))

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	for _, tracker := range a.trackers {
		tracker := tracker
		g.Go(func() error { return tracker.Run(gctx) })
	}
	g.Go(func() error { return a.view.Run(gctx) })
	if a.server != nil {
		g.Go(func() error { return a.server.Run(gctx) })
	}
	if a.timescale != nil {
		g.Go(func() error { return a.timescale.Run(gctx) })
	}

	engineErr := a.engine.Run(gctx)
	cancel()
	taskErr := g.Wait()
	if taskErr != nil {
		a.log.Error("background task failed", zap.Error(taskErr))
	}

	a.log.Info("shutting down")
	flattenErr := a.flatten(ctx, symbol)
	stats := a.engine.Stats()
	a.log.Info("final statistics",
		zap.Int64("trades", stats.TradeCount),
		zap.Int64("failed_cycles", stats.FailedCycles),
		zap.String("volume_base", stats.TotalVolumeBase.String()),
		zap.String("volume_quote", stats.TotalVolumeQuote.String()),
	)
	a.notifier.Notify(ctx, fmt.Sprintf("stopped after %d trades", stats.TradeCount))
	return errors.Join(engineErr, taskErr, flattenErr)
}

// recoverUnfinishedCycle flattens both accounts when the previous run left
// a cycle between OPEN and CLOSE.
func (a *App) recoverUnfinishedCycle(ctx context.Context) error {
	last, ok, err := state.LoadCycleSnapshot(ctx, a.store)
	if err != nil {
		a.log.Warn("cycle snapshot load failed", zap.Error(err))
		return nil
	}
	if !ok || !last.Unfinished() {
		return nil
	}
	a.log.Warn("previous run left an unfinished cycle",
		zap.Int64("cycle", last.Cycle),
		zap.String("phase", last.Phase),
	)
	if err := a.flatten(ctx, a.cfg.Trading.Symbol); err != nil {
		return fmt.Errorf("startup reconcile: %w", err)
	}
	return nil
}

// flatten reconciles both accounts and records the outcome. The returned
// error is non-nil when any account may still hold a position.
func (a *App) flatten(ctx context.Context, symbol string) error {
	results := a.reconciler.Reconcile(ctx, symbol)
	err := reconcile.Err(results)
	if err != nil {
		a.notifier.Notify(ctx, "reconcile failed: "+err.Error())
		return err
	}
	for _, res := range results {
		if res.Flattened() {
			a.notifier.Notify(ctx, fmt.Sprintf("%s: closed residual %s with %s", res.Account, res.Residual, res.Side))
		}
	}
	saveCtx := context.WithoutCancel(ctx)
	if err := state.SaveCycleSnapshot(saveCtx, a.store, state.CycleSnapshot{
		Phase:       state.PhaseReconciled,
		Symbol:      symbol,
		UpdatedAtMS: time.Now().UnixMilli(),
	}); err != nil {
		a.log.Warn("cycle snapshot save failed", zap.Error(err))
	}
	return nil
}

func (a *App) close() {
	a.telegram.Close()
	if accounts, stats := a.timescale.Dropped(); accounts+stats > 0 {
		a.log.Warn("timescale samples dropped", zap.Uint64("accounts", accounts), zap.Uint64("stats", stats))
	}
	if err := a.timescale.Close(); err != nil {
		a.log.Warn("timescale close failed", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("state store close failed", zap.Error(err))
	}
}
