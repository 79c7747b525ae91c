// Package config loads operator-facing settings from an optional YAML file
// with environment overrides. The environment names match what the
// package-level factories (storage, blob) read directly, so a deployment
// can configure either way without drift.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config carries the resolved settings of the integrity core.
type Config struct {
	Storage    Storage
	Blob       Blob
	Realtime   Realtime
	Checkpoint Checkpoint
}

// Storage selects the persistent store backend.
type Storage struct {
	Driver      string // memory|sqlite|postgres
	SQLitePath  string
	PostgresDSN string
}

// Blob selects the checkpoint archive backend.
type Blob struct {
	Driver        string // fs|s3|memory
	FSRoot        string
	ArchivePrefix string
}

// Realtime tunes the change notifier and websocket endpoint.
type Realtime struct {
	Window time.Duration
	Listen string
}

// Checkpoint schedules the daily digest worker.
type Checkpoint struct {
	Interval time.Duration
}

// Default returns the settings used when neither file nor environment says
// otherwise. They match the fallbacks baked into the individual factories.
func Default() Config {
	return Config{
		Storage:    Storage{Driver: "sqlite", SQLitePath: "coppercore.db"},
		Blob:       Blob{Driver: "fs", FSRoot: "./blobdata", ArchivePrefix: "checkpoints"},
		Realtime:   Realtime{Window: 300 * time.Millisecond, Listen: ":8787"},
		Checkpoint: Checkpoint{Interval: time.Hour},
	}
}

// Load reads config.yaml from configPath (or the working directory when
// empty) and applies environment overrides. A missing file is fine; the
// defaults plus environment carry a deployment on their own.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath == "" {
		configPath = "."
	}
	v.AddConfigPath(configPath)
	v.AutomaticEnv()

	// Explicit bindings keep the environment names aligned with the ones
	// the factories read themselves.
	bindings := map[string]string{
		"storage.driver":       "COPPERCORE_STORAGE_DRIVER",
		"storage.sqlite_path":  "COPPERCORE_SQLITE_PATH",
		"storage.postgres_dsn": "COPPERCORE_POSTGRES_DSN",
		"blob.driver":          "COPPERCORE_BLOB_DRIVER",
		"blob.fs_root":         "COPPERCORE_BLOB_FS_ROOT",
		"blob.archive_prefix":  "COPPERCORE_BLOB_ARCHIVE_PREFIX",
		"realtime.window_ms":   "COPPERCORE_REALTIME_WINDOW_MS",
		"realtime.listen":      "COPPERCORE_REALTIME_LISTEN",
		"checkpoint.interval":  "COPPERCORE_CHECKPOINT_INTERVAL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return cfg, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, err
		}
	}

	if v.IsSet("storage.driver") {
		cfg.Storage.Driver = v.GetString("storage.driver")
	}
	if v.IsSet("storage.sqlite_path") {
		cfg.Storage.SQLitePath = v.GetString("storage.sqlite_path")
	}
	if v.IsSet("storage.postgres_dsn") {
		cfg.Storage.PostgresDSN = v.GetString("storage.postgres_dsn")
	}
	if v.IsSet("blob.driver") {
		cfg.Blob.Driver = v.GetString("blob.driver")
	}
	if v.IsSet("blob.fs_root") {
		cfg.Blob.FSRoot = v.GetString("blob.fs_root")
	}
	if v.IsSet("blob.archive_prefix") {
		cfg.Blob.ArchivePrefix = v.GetString("blob.archive_prefix")
	}
	if v.IsSet("realtime.window_ms") {
		cfg.Realtime.Window = time.Duration(v.GetInt("realtime.window_ms")) * time.Millisecond
	}
	if v.IsSet("realtime.listen") {
		cfg.Realtime.Listen = v.GetString("realtime.listen")
	}
	if v.IsSet("checkpoint.interval") {
		cfg.Checkpoint.Interval = v.GetDuration("checkpoint.interval")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the factories would choke on later.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %s", c.Storage.Driver)
	}
	switch c.Blob.Driver {
	case "fs", "s3", "memory":
	default:
		return fmt.Errorf("unknown blob driver %s", c.Blob.Driver)
	}
	if c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "" {
		return errors.New("postgres driver requires storage.postgres_dsn")
	}
	if c.Realtime.Window < 0 {
		return errors.New("realtime.window_ms must not be negative")
	}
	if c.Checkpoint.Interval < 0 {
		return errors.New("checkpoint.interval must not be negative")
	}
	return nil
}
