package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"aster-hedge-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// AccountSample is one account's state at a render tick.
type AccountSample struct {
	Time             time.Time
	Account          string
	Symbol           string
	PositionSide     string
	Quantity         float64
	EntryPrice       float64
	MarkPrice        float64
	UnrealizedPnl    float64
	WalletBalance    float64
	MarginBalance    float64
	LiquidationPrice float64
	InitialBalance   float64
	Status           string
}

// StatsSample is the engine's running totals at a render tick.
type StatsSample struct {
	Time                time.Time
	Symbol              string
	Phase               string
	TradeCount          int64
	FailedCycles        int64
	FundingRate         float64
	LastPrice           float64
	VolumeBase          float64
	VolumeQuote         float64
	TotalPnl            float64
	InitialTotalBalance float64
}

type Writer struct {
	db        *sql.DB
	log       *zap.Logger
	schema    string
	accounts  chan AccountSample
	stats     chan StatsSample
	started   atomic.Bool
	dropAcct  atomic.Uint64
	dropStats atomic.Uint64
}

// New returns nil when the writer is disabled.
func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:       db,
		log:      log,
		schema:   schema,
		accounts: make(chan AccountSample, queueSize),
		stats:    make(chan StatsSample, queueSize),
	}
}

// Run drains the queues until ctx is cancelled.
func (w *Writer) Run(ctx context.Context) error {
	if w == nil {
		return nil
	}
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("timescale writer already running")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case sample := <-w.accounts:
			w.writeAccount(ctx, sample)
		case sample := <-w.stats:
			w.writeStats(ctx, sample)
		}
	}
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// EnqueueAccount never blocks; samples are dropped when the queue is full.
func (w *Writer) EnqueueAccount(sample AccountSample) {
	if w == nil {
		return
	}
	select {
	case w.accounts <- sample:
	default:
		if w.dropAcct.Add(1) == 1 {
			w.log.Warn("timescale account queue full")
		}
	}
}

func (w *Writer) EnqueueStats(sample StatsSample) {
	if w == nil {
		return
	}
	select {
	case w.stats <- sample:
	default:
		if w.dropStats.Add(1) == 1 {
			w.log.Warn("timescale stats queue full")
		}
	}
}

// Dropped reports how many samples were discarded per queue.
func (w *Writer) Dropped() (accounts, stats uint64) {
	if w == nil {
		return 0, 0
	}
	return w.dropAcct.Load(), w.dropStats.Load()
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		account TEXT NOT NULL,
		symbol TEXT NOT NULL,
		position_side TEXT NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		mark_price DOUBLE PRECISION NOT NULL,
		unrealized_pnl DOUBLE PRECISION NOT NULL,
		wallet_balance DOUBLE PRECISION NOT NULL,
		margin_balance DOUBLE PRECISION NOT NULL,
		liquidation_price DOUBLE PRECISION NOT NULL,
		initial_balance DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL
	)`, w.table("account_samples"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		phase TEXT NOT NULL,
		trade_count BIGINT NOT NULL,
		failed_cycles BIGINT NOT NULL,
		funding_rate DOUBLE PRECISION NOT NULL,
		last_price DOUBLE PRECISION NOT NULL,
		volume_base DOUBLE PRECISION NOT NULL,
		volume_quote DOUBLE PRECISION NOT NULL,
		total_pnl DOUBLE PRECISION NOT NULL,
		initial_total_balance DOUBLE PRECISION NOT NULL
	)`, w.table("cycle_stats"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"account_samples", "cycle_stats"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeAccount(ctx context.Context, s AccountSample) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, account, symbol, position_side, quantity, entry_price, mark_price, unrealized_pnl,
		wallet_balance, margin_balance, liquidation_price, initial_balance, status
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`, w.table("account_samples"))
	if _, err := w.db.ExecContext(ctx, query,
		s.Time,
		s.Account,
		s.Symbol,
		s.PositionSide,
		s.Quantity,
		s.EntryPrice,
		s.MarkPrice,
		s.UnrealizedPnl,
		s.WalletBalance,
		s.MarginBalance,
		s.LiquidationPrice,
		s.InitialBalance,
		s.Status,
	); err != nil {
		w.log.Warn("timescale account insert failed", zap.Error(err))
	}
}

func (w *Writer) writeStats(ctx context.Context, s StatsSample) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, symbol, phase, trade_count, failed_cycles, funding_rate, last_price,
		volume_base, volume_quote, total_pnl, initial_total_balance
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`, w.table("cycle_stats"))
	if _, err := w.db.ExecContext(ctx, query,
		s.Time,
		s.Symbol,
		s.Phase,
		s.TradeCount,
		s.FailedCycles,
		s.FundingRate,
		s.LastPrice,
		s.VolumeBase,
		s.VolumeQuote,
		s.TotalPnl,
		s.InitialTotalBalance,
	); err != nil {
		w.log.Warn("timescale stats insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
