// Package bootstrap assembles the services shared by the API and the worker
// from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/davidkvd/nomnom-studio/internal/adapter/memory"
	"github.com/davidkvd/nomnom-studio/internal/adapter/repo"
	"github.com/davidkvd/nomnom-studio/internal/batch"
	"github.com/davidkvd/nomnom-studio/internal/bundle"
	"github.com/davidkvd/nomnom-studio/internal/credits"
	"github.com/davidkvd/nomnom-studio/internal/domain"
	"github.com/davidkvd/nomnom-studio/internal/enhance"
	"github.com/davidkvd/nomnom-studio/internal/infra"
	"github.com/davidkvd/nomnom-studio/internal/infra/credentials"
	"github.com/davidkvd/nomnom-studio/internal/notify"
	"github.com/davidkvd/nomnom-studio/internal/storage"
)

// Repositories groups the persistence ports. SQL is nil for the in-memory
// backend.
type Repositories struct {
	Wallets       domain.WalletRepository
	Batches       domain.BatchRepository
	Bundles       domain.BundleRepository
	Notifications domain.NotificationRepository
	SQL           *infra.SQLRunner
	Ping          func(ctx context.Context) error
	close         func()
}

func (r *Repositories) Close() {
	if r != nil && r.close != nil {
		r.close()
	}
}

// OpenRepositories connects to PostgreSQL, or falls back to in-memory
// repositories when no DATABASE_URL is configured.
func OpenRepositories(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Repositories, error) {
	if !cfg.UsesDatabase() {
		logger.Warn().Msg("bootstrap: DATABASE_URL not set, using in-memory repositories")
		store := memory.NewStore()
		return &Repositories{Wallets: store, Batches: store, Bundles: store, Notifications: store}, nil
	}
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	runner := infra.NewSQLRunner(pool, logger)
	return &Repositories{
		Wallets:       repo.NewWalletRepository(runner),
		Batches:       repo.NewBatchRepository(runner),
		Bundles:       repo.NewBundleRepository(runner),
		Notifications: repo.NewNotificationRepository(runner),
		SQL:           runner,
		Ping:          pool.Ping,
		close:         pool.Close,
	}, nil
}

// OpenBlobStore returns the configured blob store. The FileStore is also
// returned so the API can serve its signed URLs.
func OpenBlobStore(ctx context.Context, cfg *infra.Config) (storage.BlobStore, *storage.FileStore, error) {
	switch cfg.StorageDriver {
	case "s3":
		s3, err := storage.NewS3Store(ctx, storage.S3Options{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		return s3, nil, err
	case "memory":
		return storage.NewMemoryStore(), nil, nil
	default:
		path := cfg.StoragePath
		if !filepath.IsAbs(path) {
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}
		}
		fs, err := storage.NewFileStore(path, cfg.StorageBaseURL, cfg.StorageSigningKey)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs, nil
	}
}

// Services is the fully wired application core.
type Services struct {
	Repos        *Repositories
	Blobs        storage.BlobStore
	Files        *storage.FileStore
	Ledger       *credits.Ledger
	Notifier     *notify.Notifier
	Orchestrator *batch.Orchestrator
	Bundles      *bundle.Service
	closers      []func() error
	waiters      []func()
}

// Build wires repositories, storage, provider, notifier and services.
func Build(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) (*Services, error) {
	repos, err := OpenRepositories(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s := &Services{Repos: repos}

	s.Blobs, s.Files, err = OpenBlobStore(ctx, cfg)
	if err != nil {
		repos.Close()
		return nil, fmt.Errorf("configure storage: %w", err)
	}

	apiKey := s.resolveProviderKey(ctx, cfg, logger)
	provider := enhance.NewClient(enhance.Options{
		BaseURL:    cfg.EnhanceBaseURL,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: cfg.EnhanceTimeout},
	})

	var publisher notify.Publisher
	if cfg.NotifyTopic != "" && cfg.GCPProjectID != "" {
		pub, err := notify.NewPubSubPublisher(ctx, cfg.GCPProjectID)
		if err != nil {
			logger.Warn().Err(err).Msg("bootstrap: pubsub unavailable, email triggers disabled")
		} else {
			publisher = pub
			s.closers = append(s.closers, pub.Close)
		}
	}

	s.Ledger = credits.NewLedger(repos.Wallets, logger)
	s.Notifier = notify.NewNotifier(repos.Notifications, publisher, cfg.NotifyTopic, logger)
	s.Orchestrator = batch.NewOrchestrator(s.Ledger, repos.Batches, s.Blobs, provider, s.Notifier, batch.Options{
		MaxImages:       cfg.MaxImagesPerBatch,
		MaxImageBytes:   cfg.MaxImageBytes,
		Concurrency:     cfg.ItemConcurrency,
		SourceURLTTL:    cfg.SourceURLTTL,
		OutputURLTTL:    cfg.OutputURLTTL,
		PollInterval:    cfg.PollInterval,
		PollMaxAttempts: cfg.PollMaxAttempts,
		StuckItemAfter:  cfg.StuckItemAfter,
	}, logger)
	s.Bundles = bundle.NewService(repos.Batches, repos.Bundles, s.Blobs, bundle.Options{
		URLTTL:     cfg.BundleURLTTL,
		FetchBatch: cfg.BundleFetchBatch,
	}, logger)
	return s, nil
}

// UseLocalDispatch runs dispatched batches inside this process.
func (s *Services) UseLocalDispatch(cfg *infra.Config, logger zerolog.Logger) {
	d := batch.NewLocalDispatcher(s.Orchestrator, cfg.DispatchTimeout, logger)
	s.Orchestrator.SetDispatcher(d)
	s.waiters = append(s.waiters, d.Wait)
}

// UseHTTPDispatch posts dispatched batches to the worker trigger endpoint.
func (s *Services) UseHTTPDispatch(cfg *infra.Config, logger zerolog.Logger) {
	d := batch.NewHTTPDispatcher(cfg.WorkerTriggerURL, cfg.WorkerSecret, cfg.DispatchTimeout, logger)
	s.Orchestrator.SetDispatcher(d)
	s.waiters = append(s.waiters, d.Wait)
}

func (s *Services) resolveProviderKey(ctx context.Context, cfg *infra.Config, logger zerolog.Logger) string {
	resolver := credentials.Resolver{EnvValue: cfg.EnhanceAPIKey}
	if s.Repos.SQL != nil {
		resolver.Store = credentials.NewStore(s.Repos.SQL)
	}
	if cfg.EnhanceAPIKey == "" && cfg.EnhanceAPIKeySecret != "" && cfg.GCPProjectID != "" {
		sm, err := credentials.NewSecretManager(ctx, cfg.GCPProjectID)
		if err != nil {
			logger.Warn().Err(err).Msg("bootstrap: secret manager unavailable")
		} else {
			resolver.Secrets = sm
			resolver.SecretName = credentials.ResourceName(cfg.GCPProjectID, cfg.EnhanceAPIKeySecret)
			s.closers = append(s.closers, sm.Close)
		}
	}
	key, source, err := resolver.EnhanceAPIKey(ctx)
	if err != nil {
		if errors.Is(err, credentials.ErrNoKey) {
			logger.Warn().Msg("bootstrap: enhancement provider key missing, items will fail until one is configured")
		} else {
			logger.Warn().Err(err).Msg("bootstrap: resolve provider key failed")
		}
		return ""
	}
	logger.Info().Str("source", source).Msg("bootstrap: provider key loaded")
	return key
}

// Close waits for in-flight dispatches and releases external clients.
func (s *Services) Close() {
	for _, wait := range s.waiters {
		wait()
	}
	for _, c := range s.closers {
		_ = c()
	}
	s.Repos.Close()
}
