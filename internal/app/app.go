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

	"example.com/twotruths/internal/auth"
	"example.com/twotruths/internal/commitment"
	"example.com/twotruths/internal/config"
	"example.com/twotruths/internal/game"
	"example.com/twotruths/internal/httpapi"
	"example.com/twotruths/internal/ledger"
	"example.com/twotruths/internal/narrative"
	"example.com/twotruths/internal/store"
)

const pingTimeout = 10 * time.Second

type App struct {
	cfg config.Config
	log *slog.Logger

	db  *pgxpool.Pool
	rdb *redis.Client

	sessions *game.SessionService
	handler  http.Handler
	srv      *http.Server
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *App, err error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	// --- Postgres (optional in dev) ---
	if cfg.Postgres.URL != "" {
		if a.db, err = pgxpool.New(ctx, cfg.Postgres.URL); err != nil {
			return nil, fmt.Errorf("pgxpool: %w", err)
		}
		if err := a.db.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
	}

	// --- Redis (optional in dev) ---
	var persist game.SessionPersistence = game.NewMemorySessionStore()
	if cfg.Redis.Addr != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err := a.rdb.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping (%s db=%d): %w", cfg.Redis.Addr, cfg.Redis.DB, err)
		}
		persist = game.NewRedisSessionStore(a.rdb, cfg.Redis.SessionTTL)
	} else {
		log.Warn("REDIS_ADDR not set; session snapshots are kept in memory")
	}

	authSvc, err := auth.NewService([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}

	ledgerClient, err := newLedgerClient(cfg, log)
	if err != nil {
		return nil, err
	}

	gen, err := narrative.New(narrative.Options{
		Backend:       cfg.Narrative.Backend,
		OpenAIKey:     cfg.Narrative.OpenAIKey,
		OpenAIModel:   cfg.Narrative.OpenAIModel,
		OpenAIBaseURL: cfg.Narrative.OpenAIBaseURL,
		OllamaURL:     cfg.Narrative.OllamaURL,
		OllamaModel:   cfg.Narrative.OllamaModel,
		Timeout:       cfg.Narrative.Timeout,
	})
	if err != nil {
		return nil, err
	}

	alg, err := commitment.ParseAlgorithm(cfg.Game.Algorithm)
	if err != nil {
		return nil, err
	}

	authH := &httpapi.AuthHandler{Auth: authSvc}
	var results game.ResultRecorder
	if a.db != nil {
		stats := store.NewStatsStore(a.db)
		authH.Users = store.NewUserStore(a.db)
		authH.Stats = stats
		results = resultRecorder{stats: stats}
	}

	gameCfg := game.Config{
		MaxViolations:     cfg.Game.MaxViolations,
		CrossCheckTimeout: cfg.Game.CrossCheckTimeout,
		PublishAttempts:   cfg.Game.PublishAttempts,
		RepublishBackoff:  cfg.Game.RepublishBackoff,
		Algorithm:         alg,
		LedgerNamespace:   cfg.Ledger.Namespace,
	}
	a.sessions = game.NewSessionService(gameCfg, game.Deps{
		Generator: gen,
		Ledger:    ledgerClient,
		Log:       log,
	}, persist, results)
	gameSrv := game.NewServer(a.sessions, authSvc, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	gameSrv.RegisterRoutes(mux)
	authH.RegisterRoutes(mux, authSvc)
	a.handler = mux

	a.srv = &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	log.Info("app configured",
		"ledger", cfg.Ledger.Network,
		"generator", cfg.Narrative.Backend,
		"algorithm", alg,
		"postgres", a.db != nil,
		"redis", a.rdb != nil,
	)
	return a, nil
}

func newLedgerClient(cfg config.Config, log *slog.Logger) (*ledger.Client, error) {
	var net ledger.Network
	switch cfg.Ledger.Network {
	case "rpc":
		net = ledger.NewRPCNetwork(cfg.Ledger.RPCURL, &http.Client{Timeout: 15 * time.Second})
	default:
		net = ledger.NewMemoryNetwork(ledger.MemoryOptions{
			MinFee:         cfg.Ledger.Fee,
			InclusionDelay: cfg.Ledger.InclusionDelay,
		})
	}

	feePayer, err := keyPair(cfg.Ledger.FeePayerKey, "fee payer", log)
	if err != nil {
		return nil, err
	}
	owner, err := keyPair(cfg.Ledger.OwnerKey, "owner", log)
	if err != nil {
		return nil, err
	}

	return ledger.NewClient(net, ledger.Credentials{FeePayer: feePayer, Owner: owner}, ledger.Config{
		Fee:              cfg.Ledger.Fee,
		PollInterval:     cfg.Ledger.PollInterval,
		PollAttempts:     cfg.Ledger.PollAttempts,
		InclusionTimeout: cfg.Ledger.InclusionTimeout,
		SubmitAttempts:   cfg.Ledger.SubmitAttempts,
		RetryBase:        cfg.Ledger.RetryBase,
	}, log), nil
}

func keyPair(hexKey, role string, log *slog.Logger) (ledger.KeyPair, error) {
	if hexKey == "" {
		kp := ledger.GenerateKeyPair()
		log.Warn("ledger key not configured; using an ephemeral key", "role", role, "address", kp.Address())
		return kp, nil
	}
	kp, err := ledger.ParseKeyPair(hexKey)
	if err != nil {
		return ledger.KeyPair{}, fmt.Errorf("ledger %s key: %w", role, err)
	}
	return kp, nil
}

// Handler is the routed HTTP surface, without the listener.
func (a *App) Handler() http.Handler { return a.handler }

func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.log.Info("http server starting", "addr", a.cfg.HTTP.Addr)

	g.Go(func() error {
		err := a.srv.ListenAndServe()
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
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
	a.log.Info("server stopped")
	return err
}

// Close ends live sessions and releases the stores. Safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	if a.sessions != nil {
		a.sessions.Shutdown()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	return nil
}

// resultRecorder stores resolved rounds in Postgres.
type resultRecorder struct {
	stats *store.StatsStore
}

func (r resultRecorder) RecordResult(ctx context.Context, snap game.SessionSnapshot) error {
	return r.stats.RecordResult(ctx, store.GameResult{
		SessionID:     snap.SessionID,
		UserID:        snap.PlayerID,
		Won:           snap.Result == game.ResultSuccess,
		Verification:  snap.Verification,
		Algorithm:     snap.Algorithm,
		Commitment:    snap.Commitment,
		LedgerAddress: snap.LedgerAddress,
		Lie:           snap.Lie,
		Answer:        snap.Answer,
		FinishedAt:    snap.UpdatedAt,
	})
}
