package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"aster-hedge-bot/internal/aster/rest"
	"aster-hedge-bot/internal/config"
	"aster-hedge-bot/internal/exec"
	"aster-hedge-bot/internal/logging"
	"aster-hedge-bot/internal/reconcile"
	"aster-hedge-bot/internal/state/sqlite"

	"go.uber.org/zap"
)

const defaultVerifyEnvFile = ".env"

// verify checks credentials and connectivity for both accounts without
// trading. With -flatten it closes any residual position.
func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flatten := flag.Bool("flatten", false, "close any open position on both accounts and exit")
	journal := flag.Int("journal", 0, "print the last N journaled orders")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	opts := rest.Options{
		Timeout:         cfg.REST.Timeout,
		RecvWindow:      cfg.REST.RecvWindow,
		RateLimitPerSec: cfg.REST.RateLimitPerSec,
		RateLimitBurst:  cfg.REST.RateLimitBurst,
	}
	symbol := cfg.Trading.Symbol
	clients := make([]*rest.Client, 0, len(cfg.Accounts))
	for _, acct := range cfg.Accounts {
		clients = append(clients, rest.New(cfg.REST.BaseURL, acct.APIKey, acct.APISecret, opts, log.With(zap.String("account", acct.Name))))
	}

	before := time.Now().UnixMilli()
	serverTime, err := clients[0].ServerTime(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("server time: %d skew_ms=%d\n", serverTime, serverTime-before)

	premium, err := clients[0].PremiumIndex(ctx, symbol)
	if err != nil {
		fatal(err)
	}
	price, err := clients[0].TickerPrice(ctx, symbol)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("%s: price=%s mark=%s funding=%s\n", symbol, price, premium.MarkPrice, premium.LastFundingRate)

	failed := false
	for i, client := range clients {
		name := cfg.Accounts[i].Name
		pos, err := client.Position(ctx, symbol)
		if err != nil {
			failed = true
			fmt.Printf("%s: position error: %v\n", name, err)
			continue
		}
		wallet, err := client.WalletBalance(ctx)
		if err != nil {
			failed = true
			fmt.Printf("%s: balance error: %v\n", name, err)
			continue
		}
		fmt.Printf("%s: position=%s entry=%s upnl=%s wallet=%s USDT\n",
			name, pos.PositionAmt, pos.EntryPrice, pos.UnrealizedProfit, wallet)
	}

	if *journal > 0 || *flatten {
		store, err := sqlite.New(cfg.State.SQLitePath)
		if err != nil {
			fatal(err)
		}
		defer store.Close()
		if *journal > 0 {
			printJournal(ctx, store, *journal)
		}
		if *flatten {
			accounts := make([]reconcile.Account, 0, len(clients))
			for i, client := range clients {
				name := cfg.Accounts[i].Name
				accounts = append(accounts, reconcile.Account{
					Name:      name,
					Positions: client,
					Orders:    exec.New(name, client, store, nil, log),
				})
			}
			results := reconcile.New(accounts, cfg.Shutdown.ReconcileTimeout, nil, log).Reconcile(ctx, symbol)
			for _, res := range results {
				switch {
				case res.Err != nil:
					fmt.Printf("%s: flatten failed: %v\n", res.Account, res.Err)
				case res.Flattened():
					fmt.Printf("%s: closed %s with %s order %d\n", res.Account, res.Residual, res.Side, res.OrderID)
				default:
					fmt.Printf("%s: already flat\n", res.Account)
				}
			}
			if err := reconcile.Err(results); err != nil {
				failed = true
			}
		}
	}
	if failed {
		fatal(errors.New("verification failed"))
	}
}

func printJournal(ctx context.Context, store *sqlite.Store, limit int) {
	records, err := exec.Journal(ctx, store)
	if err != nil {
		fatal(err)
	}
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	for _, rec := range records {
		line := fmt.Sprintf("%s %s %s %s %s qty=%s status=%s order_id=%d",
			time.UnixMilli(rec.CreatedAtMS).UTC().Format(time.RFC3339), rec.Account, rec.Purpose, rec.Symbol, rec.Side, rec.Quantity, rec.Status, rec.OrderID)
		if rec.Error != "" {
			line += " error=" + rec.Error
		}
		fmt.Println(line)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
