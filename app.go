package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"

	"clip-metrics/config"
	"clip-metrics/scraper/metrics"
	"clip-metrics/scraper/sound"
	"clip-metrics/services"
	"clip-metrics/storage"
	"clip-metrics/utils"
)

// app wires the collaborators of one command from the config.
type app struct {
	cfg      *config.Config
	logger   *utils.Logger
	resolver *services.Resolver
	cleaner  *services.InputCleaner
	handoff  *storage.Handoff
	pipeline *services.Pipeline
	closers  []func() error
}

// newApp builds the pipeline. The sink backend is only opened when withSink
// is set, so the fetch and convert stages never need sheet credentials.
func newApp(ctx context.Context, cfg *config.Config, logger *utils.Logger, withSink bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	a.resolver = services.NewResolver(logger)
	a.cleaner = services.NewInputCleaner(a.resolver, logger)
	a.handoff = storage.NewHandoff(cfg.WorkDir, cfg.HandoffPoll(), cfg.HandoffTimeout(), logger)

	stages := services.Stages{
		Fetcher:    metrics.New(cfg, logger),
		Sound:      sound.NewLookup(cfg.SoundPageBaseURL, buildRenderer(cfg), logger),
		Normalizer: services.NewNormalizer(logger, buildExtractor(cfg, logger)),
		Handoff:    a.handoff,
	}

	if withSink {
		table, err := buildTable(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, table.Close)

		locker, closeLocker, err := buildLocker(cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		if closeLocker != nil {
			a.closers = append(a.closers, closeLocker)
		}
		stages.Sink = storage.NewSink(table, locker, a.handoff, cfg.MaxRetries, logger)
	}

	a.pipeline = services.NewPipeline(stages, logger)
	return a, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("Closing backend: %v", err)
		}
	}
	a.closers = nil
}

func buildTable(ctx context.Context, cfg *config.Config, logger *utils.Logger) (storage.Table, error) {
	switch strings.ToLower(cfg.SinkBackend) {
	case "sheets":
		return storage.NewSheetsTable(ctx, cfg.SpreadsheetID, cfg.ServiceAccountFile, logger)
	case "xlsx":
		return storage.NewWorkbookTable(cfg.WorkbookPath)
	case "postgres":
		return storage.NewPostgresTable(ctx, cfg.DSN(), logger)
	case "memory":
		return storage.NewMemoryTable(), nil
	}
	return nil, fmt.Errorf("unknown SINK_BACKEND %q (want sheets, xlsx, postgres or memory)", cfg.SinkBackend)
}

func buildLocker(cfg *config.Config) (storage.Locker, func() error, error) {
	switch strings.ToLower(cfg.LockBackend) {
	case "file":
		return storage.NewFileLock(filepath.Clean(cfg.WorkDir), cfg.LockTTL()), nil, nil
	case "redis":
		lock := storage.NewRedisLock(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), cfg.LockTTL())
		return lock, lock.Close, nil
	case "none":
		return storage.NopLocker{}, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown LOCK_BACKEND %q (want file, redis or none)", cfg.LockBackend)
}

func buildRenderer(cfg *config.Config) sound.Renderer {
	if strings.ToLower(cfg.SoundRenderer) == "http" {
		return &sound.HTTPRenderer{Client: &http.Client{Timeout: cfg.FetchTimeout()}}
	}
	return &sound.ChromeRenderer{ChromeBin: cfg.ChromeBin, Timeout: cfg.FetchTimeout()}
}

// buildExtractor returns nil without an API key; YouTube records then come
// from direct payload lookups only.
func buildExtractor(cfg *config.Config, logger *utils.Logger) services.Extractor {
	if cfg.OpenAIAPIKey == "" {
		return nil
	}
	return services.NewOpenAIExtractor(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, logger)
}
