package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"example.com/arbiter/db"
	"example.com/arbiter/internal/app"
	"example.com/arbiter/internal/config"
	"example.com/arbiter/internal/migrate"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("read .env", "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" && cfg.Postgres.RunMigrations {
		// an explicit MIGRATIONS_DIR wins over the embedded set
		var fsys fs.FS = db.Migrations
		dir := "migrations"
		if os.Getenv("MIGRATIONS_DIR") != "" {
			fsys, dir = nil, cfg.Postgres.MigrationsDir
		}
		if err := migrate.Up(ctx, cfg.Postgres.URL, fsys, dir, log); err != nil {
			log.Error("migrations", "err", err)
			os.Exit(1)
		}
	}

	static, err := webHandler()
	if err != nil {
		log.Error("web assets", "err", err)
		os.Exit(1)
	}

	a, err := app.New(ctx, cfg, log, app.Options{Static: static})
	if err != nil {
		log.Error("init", "err", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		log.Error("run", "err", err)
		os.Exit(1)
	}
	log.Info("bye")
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.Log.Format == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(h).With("service", "arbiter", "env", cfg.Env)
}
