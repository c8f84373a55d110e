package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"roomhistory/internal/blobstore"
	"roomhistory/internal/config"
	"roomhistory/internal/history"
	"roomhistory/internal/reporting"
	"roomhistory/internal/store"
)

// BlobBackend is a blob store the engine can save to, read from and
// reconcile.
type BlobBackend interface {
	history.BlobStore
	history.BlobInventory
	Ping(ctx context.Context) error
}

// Runtime holds the opened backends and the engine components built on
// them. cmd/api and cmd/historyctl share it.
type Runtime struct {
	Config     config.Config
	DB         *sql.DB
	Metadata   *store.VersionStore
	Blobs      BlobBackend
	Failures   *reporting.RedisReporter
	Reporter   reporting.Reporter
	Recorder   *history.Recorder
	Loader     *history.Loader
	Retention  *history.Retention
	Reconciler *history.Reconciler
	Logger     *slog.Logger
}

// OpenRuntime connects the configured backends and applies migrations.
func OpenRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dialect, dsn, err := metadataTarget(cfg)
	if err != nil {
		return nil, err
	}
	db, err := store.Open(ctx, dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	blobs, err := openBlobs(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	rt := &Runtime{
		Config:   cfg,
		DB:       db,
		Metadata: store.NewVersionStore(db, dialect),
		Blobs:    blobs,
		Logger:   logger,
	}

	reporters := reporting.Multi{reporting.NewLogReporter(logger)}
	if cfg.RedisURL != "" {
		failures, err := reporting.NewRedisReporter(cfg.RedisURL, cfg.FailureLogSize, cfg.FailureLogTTL, logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("open failure log: %w", err)
		}
		rt.Failures = failures
		reporters = append(reporters, failures)
	}
	rt.Reporter = reporters

	rt.Recorder = history.NewRecorder(rt.Blobs, rt.Metadata, history.RecorderConfig{}, logger)
	rt.Loader = history.NewLoader(rt.Blobs, rt.Metadata, cfg.SnapshotMaxBytes, logger)
	rt.Retention = history.NewRetention(rt.Metadata, history.RetentionConfig{
		KeepLast:       cfg.MaxVersions,
		ListUpperBound: cfg.ListUpperBound,
		Concurrency:    cfg.PruneConcurrency,
	}, logger)
	rt.Reconciler = history.NewReconciler(rt.Blobs, rt.Metadata, history.ReconcilerConfig{
		Interval:       cfg.ReconcileInterval,
		Grace:          cfg.ReconcileGrace,
		ListUpperBound: cfg.ListUpperBound,
	}, logger)
	return rt, nil
}

// Dependencies exposes the runtime as Service dependencies.
func (rt *Runtime) Dependencies() Dependencies {
	deps := Dependencies{
		Loader:     rt.Loader,
		Recorder:   rt.Recorder,
		Retention:  rt.Retention,
		Reconciler: rt.Reconciler,
		Reporter:   rt.Reporter,
		Metadata:   rt.Metadata,
		Blobs:      rt.Blobs,
	}
	if rt.Failures != nil {
		deps.Failures = rt.Failures
	}
	return deps
}

func (rt *Runtime) Close() error {
	var errs []error
	if rt.Failures != nil {
		errs = append(errs, rt.Failures.Close())
	}
	if rt.DB != nil {
		errs = append(errs, rt.DB.Close())
	}
	return errors.Join(errs...)
}

func metadataTarget(cfg config.Config) (store.Dialect, string, error) {
	dialect, err := store.ParseDialect(cfg.MetadataBackend)
	if err != nil {
		return "", "", err
	}
	if dialect == store.DialectSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return "", "", fmt.Errorf("create sqlite dir: %w", err)
		}
		return dialect, cfg.SQLitePath, nil
	}
	return dialect, cfg.DatabaseURL, nil
}

func openBlobs(ctx context.Context, cfg config.Config) (BlobBackend, error) {
	switch cfg.BlobBackend {
	case config.BlobBackendFS:
		blobs, err := blobstore.NewFileStore(cfg.BlobDir)
		if err != nil {
			return nil, fmt.Errorf("open blob dir: %w", err)
		}
		return blobs, nil
	case config.BlobBackendMinio:
		blobs, err := blobstore.NewMinioStore(blobstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("open minio: %w", err)
		}
		if err := blobs.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return blobs, nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}
