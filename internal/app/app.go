package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"example.com/arbiter/internal/auth"
	"example.com/arbiter/internal/config"
	"example.com/arbiter/internal/game"
	"example.com/arbiter/internal/httpapi"
	"example.com/arbiter/internal/ledger"
	"example.com/arbiter/internal/notify"
	"example.com/arbiter/internal/store"
	"example.com/arbiter/internal/verify"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	db  *pgxpool.Pool
	rdb *redis.Client
	evm *ledger.EVMClient

	orch *game.Orchestrator
	hub  *game.Hub
	srv  *http.Server
}

type Options struct {
	Static http.Handler // optional; if nil, no frontend is served
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger, opts Options) (_ *App, err error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	// --- Ledger ---
	var l ledger.Ledger
	switch cfg.Ledger.Backend {
	case "sim":
		log.Warn("using the in-memory ledger simulator")
		l = ledger.NewSimulator()
	default:
		a.evm, err = ledger.DialEVM(ctx, ledger.EVMConfig{
			RPCURL:       cfg.Ledger.RPCURL,
			Contract:     cfg.Ledger.Contract,
			PrivateKey:   cfg.Ledger.PrivateKey,
			ChainID:      cfg.Ledger.ChainID,
			PollInterval: cfg.Ledger.PollInterval,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("ledger: %w", err)
		}
		l = a.evm
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// --- Postgres (archive) ---
	var (
		archive  game.Archive
		archiveH *httpapi.ArchiveHandler
	)
	if cfg.Postgres.URL != "" {
		a.db, err = pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("pgxpool: %w", err)
		}
		if err = a.db.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		games := store.NewGamesStore(a.db)
		archive = games
		archiveH = &httpapi.ArchiveHandler{Games: games, Stats: store.NewStatsStore(a.db), Log: log}
	} else {
		log.Warn("postgres disabled; finished games are not archived")
	}

	// --- Redis (participant directory) ---
	var dir game.Directory
	if cfg.Redis.Addr != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr,
			DB:   cfg.Redis.DB,
		})
		if err = a.rdb.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping (%s db=%d): %w", cfg.Redis.Addr, cfg.Redis.DB, err)
		}
		dir = game.NewRedisDirectory(a.rdb, cfg.Redis.Prefix, cfg.Redis.TTL)
	} else {
		log.Warn("redis disabled; registrations live in memory only")
	}

	// --- Game ---
	notifier := notify.New(notify.Config{
		Timeout:     cfg.Notify.Timeout,
		Concurrency: cfg.Notify.Concurrency,
		GameName:    cfg.Notify.GameName,
		WakeMode:    cfg.Notify.WakeMode,
	}, notify.NewHTTPClient(), log)

	var verifier game.ProfileVerifier
	if cfg.Verify.Enabled {
		verifier = verify.NewClient(cfg.Verify.BaseURL, cfg.Verify.Timeout, log)
	}

	a.hub = game.NewHub(log)
	a.orch = game.New(game.Config{
		CommitWindow:         cfg.Game.CommitWindow,
		RevealWindow:         cfg.Game.RevealWindow,
		RuleWindow:           cfg.Game.RuleWindow,
		MinPlayers:           cfg.Game.MinPlayers,
		MaxRounds:            cfg.Game.MaxRounds,
		AutoStartDelay:       cfg.Game.AutoStartDelay,
		PlatformFeeAddress:   cfg.Game.PlatformFeeAddress,
		PlatformFeeBps:       uint64(cfg.Game.PlatformFeeBps),
		DeadlinePollAttempts: cfg.Game.DeadlinePollAttempts,
		DeadlinePollInterval: cfg.Game.DeadlinePollInterval,
		RecoveryWindow:       cfg.Game.RecoveryWindow,
	}, game.Deps{
		Ledger:      l,
		Notifier:    notifier,
		Verifier:    verifier,
		Directory:   dir,
		Archive:     archive,
		Broadcaster: a.hub,
		Log:         log,
	})
	a.hub.Snapshot = func(ctx context.Context) (any, error) {
		return a.orch.Status(ctx)
	}

	// --- Auth ---
	authSvc := auth.NewService([]byte(cfg.Auth.Secret))
	authH := &httpapi.AuthHandler{
		Auth:                 authSvc,
		OperatorUser:         cfg.Auth.OperatorUser,
		OperatorPasswordHash: cfg.Auth.OperatorPasswordHash,
		TokenTTL:             cfg.Auth.TokenTTL,
		Log:                  log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	game.NewServer(a.orch, a.hub, log).RegisterRoutes(mux, httpapi.OperatorMiddleware(authSvc))
	mux.HandleFunc("/api/auth/login", authH.Login)
	if archiveH != nil {
		archiveH.RegisterRoutes(mux)
	}

	if opts.Static != nil {
		mux.Handle("/", opts.Static)
	}

	a.srv = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	return a, nil
}

// Run serves HTTP and the orchestrator until ctx is cancelled. On shutdown the
// HTTP server stops first; a game in flight then runs to settlement.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr, "ledger", a.cfg.Ledger.Backend)

	g.Go(func() error {
		err := a.srv.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		if err := a.orch.Run(gctx); err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}
		a.orch.Wait()
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		a.log.Info("http server shutting down")
		_ = a.srv.Shutdown(shutdownCtx)
		return nil
	})

	err := g.Wait()
	_ = a.Close(context.Background())
	return err
}

func (a *App) Close(ctx context.Context) error {
	// best-effort
	if a.db != nil {
		a.db.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.evm != nil {
		a.evm.Close()
	}
	return nil
}
