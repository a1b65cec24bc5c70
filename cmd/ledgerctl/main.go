// Command ledgerctl performs operator tasks against the ledger database:
// queueing sync batches, loading exchange rates, registering accounts,
// provider links and securities, and remapping holding securities.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/josh-kwaku/ledger-sync/internal/config"
	"github.com/josh-kwaku/ledger-sync/internal/logging"
	"github.com/josh-kwaku/ledger-sync/internal/repository"
)

type command struct {
	usage string
	run   func(ctx context.Context, db *sql.DB, args []string) error
}

var commands = map[string]command{
	"enqueue":  {"enqueue -account ID -source NAME -key KEY [-link ID] FILE", runEnqueue},
	"rate":     {"rate -from USD -to EUR -date 2026-01-31 -rate 0.92", runRate},
	"account":  {"account -family ID -name NAME -type TYPE -currency CUR", runAccount},
	"accounts": {"accounts -family ID", runAccounts},
	"link":     {"link -account ID -provider TYPE -ref REF [-lock-deletion]", runLink},
	"security": {"security -ticker TICKER [-mic MIC] [-name NAME]", runSecurity},
	"holding":  {"holding -account ID -id HOLDING (-security ID | -reset)", runHolding},
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Init("ledgerctl", cfg.LogLevel, cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     2,
		MaxIdleConns:     1,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	})
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := cmd.run(ctx, db, os.Args[2:]); err != nil {
		slog.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ledgerctl <command> [flags]")
	for name, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-9s ledgerctl %s\n", name, c.usage)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet("ledgerctl "+name, flag.ContinueOnError)
}
