package common

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/cv")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Queue.Concurrency)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Queue.Backoff)
	assert.Equal(t, 2, cfg.LLM.MaxRetries)
	assert.Equal(t, 0.4, cfg.Scoring.WeightTechnical)
	assert.Equal(t, 0.6, cfg.Scoring.WeightKeyword)
	assert.Equal(t, 70, cfg.Retention.FinalScoreThreshold)
	assert.Equal(t, 60, cfg.Retention.KeywordScoreThreshold)
	assert.Equal(t, 1, cfg.Credits.CostPerCV)
	assert.Equal(t, 50, cfg.Credits.MinTextLength)
	assert.Equal(t, "cv-uploads", cfg.Storage.Bucket)
	assert.NotEmpty(t, cfg.Storage.ScratchDir)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigDefaultsFitAIBudget(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/cv")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("GEMINI_API_KEY", "k")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 183*time.Second, cfg.LLM.AnalysisBudget())
	assert.Greater(t, cfg.Queue.JobTimeout, cfg.LLM.AnalysisBudget())
	require.NoError(t, cfg.ValidateWorker())
}

func TestDefaultWorkerIDUniquePerProcess(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/cv")

	a, err := LoadConfig("")
	require.NoError(t, err)
	b, err := LoadConfig("")
	require.NoError(t, err)

	assert.NotEmpty(t, a.Queue.WorkerID)
	assert.NotEqual(t, a.Queue.WorkerID, b.Queue.WorkerID)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("DB_URL", "file:cv.db")
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("WORKER_CONCURRENCY", "12")
	t.Setenv("JOB_BACKOFF", "250ms")
	t.Setenv("SCORE_WEIGHT_KEYWORD", "0.9")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 12, cfg.Queue.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.Backoff)
	assert.Equal(t, 0.9, cfg.Scoring.WeightKeyword)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "DB_URL: postgres://file/cv\nQUEUE_NAME: from-file\nRETENTION_KEYWORD_SCORE_THRESHOLD: 55\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://file/cv", cfg.Database.DSN)
	assert.Equal(t, "from-file", cfg.Queue.Name)
	assert.Equal(t, 55, cfg.Retention.KeywordScoreThreshold)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		worker  bool
		wantErr bool
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "missing dsn", mutate: func(c *Config) { c.Database.DSN = "" }, wantErr: true},
		{name: "bad driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: true},
		{name: "bad storage", mutate: func(c *Config) { c.Storage.Driver = "gcs" }, wantErr: true},
		{name: "worker needs api key", mutate: func(c *Config) { c.LLM.APIKey = "" }, worker: true, wantErr: true},
		{name: "worker ok", mutate: func(*Config) {}, worker: true},
		{
			name:    "job timeout shorter than ai retries",
			mutate:  func(c *Config) { c.Queue.JobTimeout = 3 * time.Minute },
			worker:  true,
			wantErr: true,
		},
		{
			name: "slow ai needs longer job timeout",
			mutate: func(c *Config) {
				c.LLM.Timeout = 2 * time.Minute
				c.Queue.JobTimeout = 6 * time.Minute
			},
			worker:  true,
			wantErr: true,
		},
		{
			name: "zero retries fit a short job",
			mutate: func(c *Config) {
				c.LLM.MaxRetries = 0
				c.Queue.JobTimeout = 91 * time.Second
			},
			worker: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Database: DatabaseConfig{Driver: "postgres", DSN: "postgres://x"},
				Storage:  StorageConfig{Driver: "s3"},
				Queue:    QueueConfig{RedisURL: "redis://x", Concurrency: 5, MaxAttempts: 3, JobTimeout: 4 * time.Minute},
				LLM:      LLMConfig{APIKey: "k", Timeout: time.Minute, MaxRetries: 2, RetryBase: time.Second},
				Credits:  CreditsConfig{CostPerCV: 1},
			}
			tt.mutate(cfg)
			var err error
			if tt.worker {
				err = cfg.ValidateWorker()
			} else {
				err = cfg.Validate()
			}
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidInput))
				return
			}
			require.NoError(t, err)
		})
	}
}
