package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/consolidation/cmd/consolctl/cli"
	"github.com/odyssey-erp/consolidation/internal/app"
	"github.com/odyssey-erp/consolidation/internal/consol"
	"github.com/odyssey-erp/consolidation/internal/consol/fx"
	"github.com/odyssey-erp/consolidation/internal/platform/db"
)

type backend struct {
	cfg *app.Config
}

func (b backend) open(ctx context.Context) (*pgxpool.Pool, error) {
	return db.New(ctx, b.cfg.PGDSN, b.cfg.DBOptions("consolctl"))
}

func (b backend) FX(ctx context.Context) (*cli.FXOpsCLI, func(), error) {
	pool, err := b.open(ctx)
	if err != nil {
		return nil, nil, err
	}
	var feed fx.QuoteProvider
	if b.cfg.RateFeedURL != "" {
		feed = fx.NewRateFeed(b.cfg.RateFeedURL, b.cfg.RateFeedTimeout)
	}
	ops, err := cli.NewFXOpsCLI(consol.NewRepository(pool), feed)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return ops, pool.Close, nil
}

func (b backend) Jobs(context.Context) (*cli.JobsCLI, error) {
	return cli.DialJobsCLI(b.cfg.RedisAddr)
}

func (b backend) Sync(ctx context.Context) (cli.SyncPreviewer, func(), error) {
	pool, err := b.open(ctx)
	if err != nil {
		return nil, nil, err
	}
	cfg := consol.ServiceConfig{
		Logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
		Options: b.cfg.ConsolOptions(),
	}
	return consol.NewService(consol.NewRepository(pool), cfg), pool.Close, nil
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "consolctl: load config: %v\n", err)
		os.Exit(1)
	}

	err = cli.NewRootCmd(backend{cfg: cfg}).ExecuteContext(ctx)
	if err == nil {
		return
	}
	var exit *cli.ExitError
	if errors.As(err, &exit) {
		os.Exit(exit.Code)
	}
	fmt.Fprintf(os.Stderr, "consolctl: %v\n", err)
	os.Exit(1)
}
