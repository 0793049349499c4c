// Command uplas runs the payments and subscriptions service.
//
//	uplas serve                  run the HTTP API and the webhook replay sweeper
//	uplas migrate                apply database migrations
//	uplas seed-plans -f plans.yaml  upsert the plan catalog from a seed file
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gapeva/uplas/internal/app"
	"github.com/gapeva/uplas/internal/payments"
	"github.com/gapeva/uplas/pkg/logger"
)

const usage = `usage: uplas <command> [flags]

commands:
  serve        run the HTTP API and the webhook replay sweeper
  migrate      apply database migrations
  seed-plans   upsert plans from a YAML seed file (-f)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "serve":
		err = runServe(ctx)
	case "migrate":
		err = runMigrate(ctx)
	case "seed-plans":
		err = runSeedPlans(ctx, args)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "uplas %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cfg, err := app.Load()
	if err != nil {
		return err
	}
	log := app.NewLogger(cfg.Base)
	log.Info("starting uplas", slog.String("env", cfg.AppEnv), slog.String("addr", cfg.HTTP.Addr))
	if err := app.Serve(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("uplas stopped", logger.Error(err))
		return err
	}
	log.Info("uplas stopped")
	return nil
}

func runMigrate(ctx context.Context) error {
	b, err := app.LoadBase()
	if err != nil {
		return err
	}
	return app.Migrate(ctx, b, app.NewLogger(b))
}

func runSeedPlans(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seed-plans", flag.ContinueOnError)
	file := fs.String("f", "plans.yaml", "path to the plan seed file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	b, err := app.LoadBase()
	if err != nil {
		return err
	}
	log := app.NewLogger(b)

	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()

	inputs, err := payments.LoadPlanSeed(f)
	if err != nil {
		return fmt.Errorf("%s: %w", *file, err)
	}
	plans, err := app.SeedPlans(ctx, b, inputs, log)
	if err != nil {
		return err
	}
	log.Info("plans seeded", slog.Int("count", len(plans)), slog.String("file", *file))
	return nil
}
