package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/AlectoTheFirst/esidx/internal/config"
	"github.com/AlectoTheFirst/esidx/internal/elasticsearch"
	"github.com/AlectoTheFirst/esidx/internal/indexer"
	"github.com/AlectoTheFirst/esidx/internal/metrics"
	"github.com/AlectoTheFirst/esidx/internal/progress"
	"github.com/AlectoTheFirst/esidx/internal/repository"
)

const pushTimeout = 10 * time.Second

// app is the wired project: the registry over every configured index and
// the repositories feeding them.
type app struct {
	cfg      config.AppConfig
	client   *elasticsearch.Client
	db       *sql.DB
	repos    map[string]*repository.SQL
	registry *indexer.Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type appOptions struct {
	out         io.Writer
	interactive bool
	// workers overrides populate.workers when positive.
	workers int
}

func newApp(ctx context.Context, opts *rootOptions, ao appOptions) (*app, error) {
	logger := slog.Default()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if ao.workers > 0 {
		cfg.Populate.Workers = ao.workers
	}

	conn, err := opts.conn.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load Elasticsearch connection configuration: %w", err)
	}
	client, err := elasticsearch.NewClient(conn, logger)
	if err != nil {
		return nil, err
	}

	db, err := repository.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.Populate.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Populate.Rate), 1)
	}

	a := &app{
		cfg:     cfg,
		client:  client,
		db:      db,
		repos:   make(map[string]*repository.SQL, len(cfg.Indexes)),
		metrics: metrics.New(),
		logger:  logger,
	}
	a.registry = indexer.New(
		indexer.WithProgress(progress.Multi{progress.NewConsole(ao.out, ao.interactive), progress.NewSlog(logger)}),
		indexer.WithLogger(logger),
		indexer.WithWorkers(cfg.Populate.Workers),
		indexer.WithRateLimit(limiter),
		indexer.WithObserver(a.metrics.Observe),
	)

	for _, ic := range cfg.Indexes {
		repo, err := repository.NewSQL(ctx, db, ic.Source, logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("index %s: %w", ic.Name, err)
		}
		a.repos[ic.Name] = repo

		iopts := elasticsearch.IndexOptions{
			Name:       ic.Name,
			Type:       ic.Type,
			Source:     repo.Table(),
			HTMLFields: ic.HTMLFields,
			Logger:     logger,
		}
		if ic.SettingsFile != "" {
			iopts.Settings, iopts.Mappings, err = elasticsearch.LoadSettings(ic.SettingsFile)
			if err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("index %s: %w", ic.Name, err)
			}
		}
		a.registry.Register(a.metrics.Instrument(elasticsearch.NewDocumentIndex(client, repo, iopts)))
	}
	return a, nil
}

// pushMetrics sends the run's metrics to the configured Pushgateway. A
// failed push is logged, never returned.
func (a *app) pushMetrics() {
	if a.cfg.Pushgateway.URL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()
	if err := a.metrics.Push(ctx, a.cfg.Pushgateway.URL, a.cfg.Pushgateway.Job); err != nil {
		a.logger.Warn("Failed to push metrics", "error", err)
	}
}

func (a *app) Close() error {
	return a.db.Close()
}
