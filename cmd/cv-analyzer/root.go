package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ZoroCRE/cv-analyzer/internal/async"
	"github.com/ZoroCRE/cv-analyzer/internal/common"
	"github.com/ZoroCRE/cv-analyzer/internal/repository"
	"github.com/ZoroCRE/cv-analyzer/internal/storage"
)

const app = "cv-analyzer"

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:          app,
		Short:        "cv-analyzer scores batches of CVs against keywords with OCR and Gemini",
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json) with the same keys as the environment")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// env bundles what every command needs: config, logger and the database.
type env struct {
	cfg    *common.Config
	logger *slog.Logger
	db     *repository.DB
}

func loadEnv(ctx context.Context) (*env, error) {
	cfg, err := common.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}
	if viper.GetBool("debug") {
		cfg.Log.Level = "debug"
	}
	if viper.GetBool("json") {
		cfg.Log.Format = "json"
	}
	logger := common.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := openDB(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, db: db}, nil
}

func (e *env) close() {
	e.db.Close()
}

func openDB(ctx context.Context, c common.DatabaseConfig, logger *slog.Logger) (*repository.DB, error) {
	switch c.Driver {
	case string(repository.SQLite):
		return repository.OpenSQLite(ctx, c.DSN, logger)
	default:
		return repository.Open(ctx, repository.Config{
			DSN:              c.DSN,
			MaxConns:         c.MaxConns,
			MinConns:         c.MinConns,
			MaxConnLifetime:  c.MaxConnLifetime,
			MaxConnIdleTime:  c.MaxConnIdleTime,
			DialTimeout:      c.DialTimeout,
			StatementTimeout: c.StatementTimeout,
		}, logger)
	}
}

func (e *env) storage() (storage.Storage, error) {
	switch e.cfg.Storage.Driver {
	case "local":
		return storage.NewLocalStorage(e.cfg.Storage.LocalDir)
	default:
		return storage.NewS3Storage(e.cfg.Storage)
	}
}

func (e *env) broker(ctx context.Context) (*async.RedisBroker, func(), error) {
	rdb, err := async.NewRedisClient(ctx, e.cfg.Queue.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", common.ErrQueueUnavailable, err)
	}
	b := async.NewRedisBroker(rdb, async.RedisConfig{
		URL:       e.cfg.Queue.RedisURL,
		Queue:     e.cfg.Queue.Name,
		WorkerID:  e.cfg.Queue.WorkerID,
		DeadLimit: int(e.cfg.Queue.DeadLetterSize),
	}, e.logger)
	return b, func() { _ = rdb.Close() }, nil
}

func (e *env) producer(b async.Broker) *async.Producer {
	return async.NewProducer(b, e.cfg.Queue.MaxAttempts, e.logger)
}
