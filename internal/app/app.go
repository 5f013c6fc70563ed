// Package app wires configuration into the archive pipeline and runs it over
// one or more log files.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/loadtrail/loadtrail/internal/config"
	arkerrors "github.com/loadtrail/loadtrail/internal/errors"
	"github.com/loadtrail/loadtrail/internal/lifecycle"
	"github.com/loadtrail/loadtrail/internal/pipeline"
	"github.com/loadtrail/loadtrail/internal/staging"
	"github.com/loadtrail/loadtrail/internal/storage"
	"github.com/loadtrail/loadtrail/internal/warehouse"
	"github.com/loadtrail/loadtrail/pkg/types"
)

// ErrShuttingDown is returned for files not started because shutdown began.
var ErrShuttingDown = errors.New("app: shutting down")

// App owns the shared resources of an archive invocation.
type App struct {
	cfg  *config.Config
	hook pipeline.StepHook

	// Shared resources
	storage   storage.ObjectStorage
	warehouse *warehouse.Warehouse
	transfer  *staging.Transfer
	pipeline  *pipeline.Pipeline
	shutdown  *lifecycle.ShutdownManager

	mu      sync.Mutex
	running bool
}

// Option configures an App.
type Option func(*App)

// WithStepHook installs a hook called before every pipeline state.
func WithStepHook(hook pipeline.StepHook) Option {
	return func(a *App) { a.hook = hook }
}

// WithStorage stages files through store instead of the configured storage.
func WithStorage(store storage.ObjectStorage) Option {
	return func(a *App) { a.storage = store }
}

// New creates a new App with the given configuration.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, arkerrors.NewUsageError(arkerrors.CodeInvalidConfig, fmt.Sprintf("invalid configuration: %v", err))
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Start connects to the warehouse and the staging area.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("app is already running")
	}

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return err
	}
	a.running = true
	return nil
}

// initSharedResources initializes storage, warehouse and the pipeline.
func (a *App) initSharedResources(ctx context.Context) error {
	a.shutdown = lifecycle.NewShutdownManager(lifecycle.DefaultShutdownConfig())

	if a.storage == nil {
		store, err := a.openStorage(ctx)
		if err != nil {
			return arkerrors.NewStagingError(arkerrors.CodeUploadFailed, "failed to initialize staging storage", err)
		}
		a.storage = store
	}
	log.Printf("app: staging initialized: type=%s prefix=%s codec=%s",
		a.cfg.Staging.Type, a.cfg.Staging.Prefix, a.cfg.Staging.Codec)

	codec, err := staging.CodecByName(a.cfg.Staging.Codec)
	if err != nil {
		return arkerrors.NewUsageError(arkerrors.CodeInvalidConfig, err.Error())
	}
	a.transfer = staging.NewTransfer(a.storage, codec, a.cfg.Staging.Prefix)

	dsn := a.cfg.Warehouse.ConnString()
	if a.cfg.Warehouse.Driver == config.DriverSQLite {
		dsn = warehouse.SQLiteDSN(a.cfg.Warehouse.Path)
	}
	a.warehouse, err = warehouse.Open(ctx, warehouse.Options{
		Driver:       a.cfg.Warehouse.Driver,
		DSN:          dsn,
		MaxOpenConns: a.cfg.Warehouse.MaxOpenConns,
		Description:  a.cfg.Warehouse.Description(),
	})
	if err != nil {
		return err
	}
	a.shutdown.RegisterCloser(a.warehouse)

	a.pipeline, err = pipeline.New(a.warehouse, a.transfer, pipeline.Config{
		Flavor:      types.Flavor(a.cfg.Flavor),
		StorageType: a.cfg.Staging.Type,
		Location:    a.stageLocation(),
		BatchSize:   a.cfg.BatchSize,
		Hook:        a.hook,
	})
	return err
}

func (a *App) openStorage(ctx context.Context) (storage.ObjectStorage, error) {
	switch a.cfg.Staging.Type {
	case config.StorageLocal:
		return storage.NewLocalStorage(a.cfg.Staging.Path)
	case config.StorageS3:
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Staging.S3.Region != "" {
			s3Cfg.Region = a.cfg.Staging.S3.Region
		}
		if a.cfg.Staging.S3.Endpoint != "" {
			s3Cfg.Endpoint = a.cfg.Staging.S3.Endpoint
		}
		if a.cfg.Staging.S3.MaxRetries > 0 {
			s3Cfg.MaxRetries = a.cfg.Staging.S3.MaxRetries
		}
		s3Cfg.UsePathStyle = a.cfg.Staging.S3.UsePathStyle
		log.Printf("app: S3 staging: bucket=%s region=%s endpoint=%s",
			a.cfg.Staging.S3.Bucket, s3Cfg.Region, s3Cfg.Endpoint)
		return storage.NewS3Storage(ctx, a.cfg.Staging.S3.Bucket, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.cfg.Staging.Type)
	}
}

func (a *App) stageLocation() string {
	if a.cfg.Staging.Type == config.StorageS3 {
		return "s3://" + a.cfg.Staging.S3.Bucket + "/" + a.cfg.Staging.Prefix
	}
	return a.cfg.Staging.Path
}

// Pipeline returns the pipeline built by Start.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Warehouse returns the warehouse opened by Start.
func (a *App) Warehouse() *warehouse.Warehouse {
	return a.warehouse
}

// Archive archives every file, at most cfg.Concurrency at a time. Each file
// gets an independent pipeline execution; one failing file does not stop the
// others. Results are returned in input order and the error joins every
// per-file failure.
func (a *App) Archive(ctx context.Context, files []string) ([]*pipeline.Result, error) {
	if len(files) == 0 {
		return nil, arkerrors.NewUsageError(arkerrors.CodeMissingArgument, "no data_file given")
	}
	a.mu.Lock()
	running := a.running
	a.mu.Unlock()
	if !running {
		return nil, fmt.Errorf("app is not running")
	}

	results := make([]*pipeline.Result, len(files))
	errs := make([]error, len(files))

	var g errgroup.Group
	g.SetLimit(a.cfg.Concurrency)
	for i, file := range files {
		g.Go(func() error {
			if !a.shutdown.Track() {
				errs[i] = fmt.Errorf("%s: %w", file, ErrShuttingDown)
				return nil
			}
			defer a.shutdown.Untrack()

			res, err := a.pipeline.Archive(ctx, file)
			results[i] = res
			if err != nil {
				log.Printf("app: archive of %s failed: %v", file, err)
				errs[i] = fmt.Errorf("%s: %w", file, err)
			}
			return nil
		})
	}
	g.Wait()

	return results, errors.Join(errs...)
}

// Stop waits for running executions and closes the warehouse.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	return a.shutdown.Shutdown(ctx, "stop")
}

func (a *App) cleanup() {
	if a.warehouse != nil {
		a.warehouse.Close()
	}
}
