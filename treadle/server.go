package treadle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"treadle.sh/core/log"
	"treadle.sh/core/notifier"
	"treadle.sh/core/treadle/api"
	"treadle.sh/core/treadle/config"
	"treadle.sh/core/treadle/db"
	dockerengine "treadle.sh/core/treadle/engines/docker"
	"treadle.sh/core/treadle/models"
	"treadle.sh/core/treadle/queue"
	"treadle.sh/core/treadle/secrets"
)

type Treadle struct {
	db    *db.DB
	l     *slog.Logger
	n     *notifier.Notifier
	eng   models.Engine
	jq    *queue.Queue
	cfg   *config.Config
	vault secrets.Manager

	// base context for enqueued runs; outlives the triggering request
	runCtx context.Context
}

func Run(ctx context.Context) error {
	logger := log.FromContext(ctx)

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	d, err := db.Make(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to setup db: %w", err)
	}

	n := notifier.New()

	eng, err := dockerengine.New(ctx, cfg)
	if err != nil {
		return err
	}

	vault, err := newSecretsManager(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to setup secrets manager: %w", err)
	}
	if stopper, ok := vault.(secrets.Stopper); ok {
		defer stopper.Stop()
	}

	jq := queue.NewQueue(cfg.Runs.QueueSize, cfg.Runs.Workers)

	t := &Treadle{
		db:     d,
		l:      logger,
		n:      &n,
		eng:    eng,
		jq:     jq,
		cfg:    cfg,
		vault:  vault,
		runCtx: ctx,
	}

	// starts the run queue workers in the background
	jq.Start()
	defer jq.Stop()

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: t.Router(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting treadle server", "address", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (t *Treadle) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Use(t.RequestLogger)

	mux.Get("/events", t.Events)
	mux.Post("/events", t.Ingest)
	mux.Get("/logs/{owner}/{name}/{rkey}/{workflow}", t.Logs)

	mux.Mount("/api", (&api.Api{
		Logger: t.l.With("component", "api"),
		Db:     t.db,
		Vault:  t.vault,
		Config: t.cfg,
	}).Router())

	return mux
}

func newSecretsManager(cfg *config.Config, logger *slog.Logger) (secrets.Manager, error) {
	switch cfg.Secrets.Provider {
	case "openbao":
		return secrets.NewOpenBaoManager(
			cfg.Secrets.OpenBao.Addr,
			cfg.Secrets.OpenBao.RoleID,
			cfg.Secrets.OpenBao.SecretID,
			logger.With("component", "openbao"),
			secrets.WithMountPath(cfg.Secrets.OpenBao.Mount),
		)
	case "sqlite", "":
		return secrets.NewSQLiteManager(cfg.Server.DBPath)
	default:
		return nil, fmt.Errorf("unknown secrets provider: %s", cfg.Secrets.Provider)
	}
}
