package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/i2kashif/CopperCore-sub002/internal/blob"
	"github.com/i2kashif/CopperCore-sub002/internal/config"
	"github.com/i2kashif/CopperCore-sub002/internal/core"
	"github.com/i2kashif/CopperCore-sub002/internal/infra/persistence/memory"
	"github.com/i2kashif/CopperCore-sub002/internal/infra/persistence/sqlite"
	"github.com/i2kashif/CopperCore-sub002/pkg/domain"
)

// Environment is the wired service stack one command invocation runs
// against.
type Environment struct {
	Config   config.Config
	Service  *core.Service
	Store    domain.PersistentStore
	Blob     blob.Store
	Archiver *blob.Archiver
	Logger   *slog.Logger
}

// newEnvironment loads configuration, opens the persistent store and the
// checkpoint archive, and wires the service. Service logs go to errWriter
// so JSON output on stdout stays parseable. Extra options stack on top of
// the defaults.
func newEnvironment(ctx context.Context, opts *RootOptions, errWriter io.Writer, extra ...core.Option) (*Environment, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load configuration", err)
	}
	return buildEnvironment(ctx, cfg, opts, errWriter, extra...)
}

// buildEnvironment wires the stack for an already loaded configuration.
func buildEnvironment(ctx context.Context, cfg config.Config, opts *RootOptions, errWriter io.Writer, extra ...core.Option) (*Environment, error) {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errWriter, &slog.HandlerOptions{Level: level}))

	engine := core.NewDefaultRulesEngine()
	store, err := openStore(cfg.Storage, engine)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open storage", err)
	}
	blobStore, err := openBlob(ctx, cfg.Blob)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open blob store", err)
	}
	archiver := blob.NewArchiver(blobStore, cfg.Blob.ArchivePrefix)

	svcOpts := []core.Option{
		core.WithLogger(core.NewSlogLogger(logger)),
		core.WithCheckpointArchiver(archiver),
	}
	svcOpts = append(svcOpts, extra...)

	return &Environment{
		Config:   cfg,
		Service:  core.NewService(store, svcOpts...),
		Store:    store,
		Blob:     blobStore,
		Archiver: archiver,
		Logger:   logger,
	}, nil
}

// openStore mirrors the driver selection of core.OpenPersistentStore but
// sources the choice from the loaded configuration instead of raw
// environment reads.
func openStore(cfg config.Storage, engine *domain.RulesEngine) (domain.PersistentStore, error) {
	switch core.StorageDriver(cfg.Driver) {
	case core.StorageMemory:
		return memory.NewStore(engine), nil
	case core.StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath, engine)
	case core.StoragePostgres:
		return core.NewPostgresStore(cfg.PostgresDSN, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// openBlob selects the archive backend. S3 credentials and bucket stay
// environment-only; the configuration names the driver and filesystem root.
func openBlob(ctx context.Context, cfg config.Blob) (blob.Store, error) {
	switch blob.Driver(cfg.Driver) {
	case blob.DriverFilesystem:
		return blob.NewFilesystem(cfg.FSRoot)
	case blob.DriverS3:
		return blob.OpenFromEnv(ctx)
	case blob.DriverMemory:
		return blob.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
