package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/nbyrd/staggerd/internal/app/migrate"
	"github.com/nbyrd/staggerd/pkg/config"
	"github.com/nbyrd/staggerd/pkg/logger"
)

func main() {
	command := flag.String("command", "up", "migrate command (up|status|down)")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	target := flag.Int64("target", 0, "target version for down command (optional)")
	flag.Parse()

	cfg := config.LoadAPIConfig()
	log := logger.New("migrate", slog.LevelInfo)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var err error
	switch *command {
	case "up":
		err = migrate.Up(ctx, cfg.DatabaseURL, cfg.MigrationsDir, log)
	case "status":
		err = migrate.Status(ctx, cfg.DatabaseURL, cfg.MigrationsDir, log)
	case "down":
		err = migrate.Down(ctx, cfg.DatabaseURL, cfg.MigrationsDir, *target, log)
	default:
		log.Error("unsupported command", "command", *command)
		os.Exit(1)
	}
	if err != nil {
		log.Error("migration command failed", "command", *command, "error", err)
		os.Exit(1)
	}
	log.Info("migration command completed", "command", *command)
}
