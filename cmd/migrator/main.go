package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"msat_auth/internal/config"
	sl "msat_auth/internal/lib/logger"
	"msat_auth/internal/storage/postgres"
)

const usage = `usage: migrator [-config path] [up|down|version]`

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Usage = func() {
		fmt.Fprintln(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	command := "up"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	log = log.With(slog.String("command", command))

	cfg, err := config.LoadPostgres(*configPath)
	if err != nil {
		log.Error("failed to read config", sl.Err(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn := cfg.DSN()

	switch command {
	case "up":
		err = postgres.Migrate(ctx, dsn)
	case "down":
		err = postgres.Rollback(ctx, dsn)
	case "version":
		var version int64
		version, err = postgres.MigrationVersion(ctx, dsn)
		if err == nil {
			log.Info("current schema version", slog.Int64("version", version))
		}
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		log.Error("migration failed", sl.Err(err))
		os.Exit(1)
	}

	log.Info("done")
}
