package common

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Queue     QueueConfig
	Storage   StorageConfig
	OCR       OCRConfig
	LLM       LLMConfig
	Scoring   ScoringConfig
	Retention RetentionConfig
	Credits   CreditsConfig
	Server    ServerConfig
	Log       LogConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "postgres" | "sqlite"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// QueueConfig holds broker and dispatcher settings
type QueueConfig struct {
	RedisURL       string
	Name           string
	WorkerID       string
	Concurrency    int
	MaxAttempts    int
	Backoff        time.Duration
	JobTimeout     time.Duration
	PollTimeout    time.Duration
	DeadLetterSize int64
}

// StorageConfig holds blob store settings
type StorageConfig struct {
	Driver       string // "s3" | "local"
	Bucket       string
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	LocalDir     string
	ScratchDir   string
}

// OCRConfig holds text-extraction binaries
type OCRConfig struct {
	Pdftotext     string
	Pdftoppm      string
	Tesseract     string
	TesseractLang string
	TessdataDir   string
	MaxPages      int
	MaxOutput     int
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Model             string
	APIKey            string
	Temperature       float32
	Timeout           time.Duration
	MaxRetries        int
	RetryBase         time.Duration
	RequestsPerSecond float64
}

// ScoringConfig holds the final score weights
type ScoringConfig struct {
	WeightTechnical float64
	WeightKeyword   float64
}

// RetentionConfig holds the thresholds for keeping raw content
type RetentionConfig struct {
	FinalScoreThreshold   int
	KeywordScoreThreshold int
}

// CreditsConfig holds billing settings
type CreditsConfig struct {
	CostPerCV     int
	MinTextLength int
}

// ServerConfig holds the health endpoint address
type ServerConfig struct {
	HealthAddr string
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string
	Format string
}

var defaults = map[string]any{
	"DB_DRIVER":             "postgres",
	"DB_MAX_CONNS":          20,
	"DB_MIN_CONNS":          2,
	"DB_MAX_CONN_LIFETIME":  30 * time.Minute,
	"DB_MAX_CONN_IDLE_TIME": 5 * time.Minute,
	"DB_DIAL_TIMEOUT":       3 * time.Second,
	"DB_STATEMENT_TIMEOUT":  time.Duration(0),

	"REDIS_URL":          "redis://localhost:6379/0",
	"QUEUE_NAME":         "cv-processing",
	"WORKER_CONCURRENCY": 5,
	"JOB_ATTEMPTS":       3,
	"JOB_BACKOFF":        time.Second,
	"JOB_TIMEOUT":        4 * time.Minute,
	"QUEUE_POLL_TIMEOUT": 5 * time.Second,
	"QUEUE_DEAD_LIMIT":   5000,

	"STORAGE_DRIVER":    "s3",
	"STORAGE_BUCKET":    "cv-uploads",
	"S3_REGION":         "us-east-1",
	"S3_USE_PATH_STYLE": false,
	"STORAGE_LOCAL_DIR": "./data/blobs",

	"PDFTOTEXT_BIN":  "pdftotext",
	"PDFTOPPM_BIN":   "pdftoppm",
	"TESSERACT_BIN":  "tesseract",
	"TESSERACT_LANG": "eng",
	"OCR_MAX_PAGES":  10,
	"OCR_MAX_OUTPUT": 16 << 20,

	"GEMINI_MODEL":           "gemini-2.5-flash",
	"GEMINI_TEMPERATURE":     0.0,
	"AI_TIMEOUT":             60 * time.Second,
	"AI_MAX_RETRIES":         2,
	"AI_RETRY_BASE":          time.Second,
	"AI_REQUESTS_PER_SECOND": 0.0,

	"SCORE_WEIGHT_TECHNICAL":            0.4,
	"SCORE_WEIGHT_KEYWORD":              0.6,
	"RETENTION_FINAL_SCORE_THRESHOLD":   70,
	"RETENTION_KEYWORD_SCORE_THRESHOLD": 60,
	"COST_PER_CV":                       1,
	"MIN_TEXT_LENGTH":                   50,

	"HEALTH_ADDR": ":8081",
	"LOG_LEVEL":   "info",
	"LOG_FORMAT":  "text",
}

// LoadConfig loads configuration from environment variables and, when path is
// not empty, from a config file whose keys use the same names (DB_URL, ...).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, NewAppError("CONFIG_ERROR", "failed to read config file "+path, err)
		}
	}
	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	workerID := v.GetString("WORKER_ID")
	if workerID == "" {
		workerID = defaultWorkerID()
	}
	scratch := v.GetString("SCRATCH_DIR")
	if scratch == "" {
		scratch = os.TempDir()
	}
	return &Config{
		Database: DatabaseConfig{
			Driver:           strings.ToLower(v.GetString("DB_DRIVER")),
			DSN:              v.GetString("DB_URL"),
			MaxConns:         v.GetInt32("DB_MAX_CONNS"),
			MinConns:         v.GetInt32("DB_MIN_CONNS"),
			MaxConnLifetime:  v.GetDuration("DB_MAX_CONN_LIFETIME"),
			MaxConnIdleTime:  v.GetDuration("DB_MAX_CONN_IDLE_TIME"),
			DialTimeout:      v.GetDuration("DB_DIAL_TIMEOUT"),
			StatementTimeout: v.GetDuration("DB_STATEMENT_TIMEOUT"),
		},
		Queue: QueueConfig{
			RedisURL:       v.GetString("REDIS_URL"),
			Name:           v.GetString("QUEUE_NAME"),
			WorkerID:       workerID,
			Concurrency:    v.GetInt("WORKER_CONCURRENCY"),
			MaxAttempts:    v.GetInt("JOB_ATTEMPTS"),
			Backoff:        v.GetDuration("JOB_BACKOFF"),
			JobTimeout:     v.GetDuration("JOB_TIMEOUT"),
			PollTimeout:    v.GetDuration("QUEUE_POLL_TIMEOUT"),
			DeadLetterSize: v.GetInt64("QUEUE_DEAD_LIMIT"),
		},
		Storage: StorageConfig{
			Driver:       strings.ToLower(v.GetString("STORAGE_DRIVER")),
			Bucket:       v.GetString("STORAGE_BUCKET"),
			Endpoint:     v.GetString("S3_ENDPOINT"),
			Region:       v.GetString("S3_REGION"),
			AccessKey:    v.GetString("S3_ACCESS_KEY"),
			SecretKey:    v.GetString("S3_SECRET_KEY"),
			UsePathStyle: v.GetBool("S3_USE_PATH_STYLE"),
			LocalDir:     v.GetString("STORAGE_LOCAL_DIR"),
			ScratchDir:   scratch,
		},
		OCR: OCRConfig{
			Pdftotext:     v.GetString("PDFTOTEXT_BIN"),
			Pdftoppm:      v.GetString("PDFTOPPM_BIN"),
			Tesseract:     v.GetString("TESSERACT_BIN"),
			TesseractLang: v.GetString("TESSERACT_LANG"),
			TessdataDir:   v.GetString("TESSDATA_PREFIX"),
			MaxPages:      v.GetInt("OCR_MAX_PAGES"),
			MaxOutput:     v.GetInt("OCR_MAX_OUTPUT"),
		},
		LLM: LLMConfig{
			Model:             v.GetString("GEMINI_MODEL"),
			APIKey:            v.GetString("GEMINI_API_KEY"),
			Temperature:       float32(v.GetFloat64("GEMINI_TEMPERATURE")),
			Timeout:           v.GetDuration("AI_TIMEOUT"),
			MaxRetries:        v.GetInt("AI_MAX_RETRIES"),
			RetryBase:         v.GetDuration("AI_RETRY_BASE"),
			RequestsPerSecond: v.GetFloat64("AI_REQUESTS_PER_SECOND"),
		},
		Scoring: ScoringConfig{
			WeightTechnical: v.GetFloat64("SCORE_WEIGHT_TECHNICAL"),
			WeightKeyword:   v.GetFloat64("SCORE_WEIGHT_KEYWORD"),
		},
		Retention: RetentionConfig{
			FinalScoreThreshold:   v.GetInt("RETENTION_FINAL_SCORE_THRESHOLD"),
			KeywordScoreThreshold: v.GetInt("RETENTION_KEYWORD_SCORE_THRESHOLD"),
		},
		Credits: CreditsConfig{
			CostPerCV:     v.GetInt("COST_PER_CV"),
			MinTextLength: v.GetInt("MIN_TEXT_LENGTH"),
		},
		Server: ServerConfig{
			HealthAddr: v.GetString("HEALTH_ADDR"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
	}
}

// Validate checks what every command needs: a database.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	switch c.Storage.Driver {
	case "s3", "local":
	default:
		return NewAppError("CONFIG_ERROR", "STORAGE_DRIVER must be s3 or local", ErrInvalidInput)
	}
	if c.Credits.CostPerCV <= 0 {
		return NewAppError("CONFIG_ERROR", "COST_PER_CV must be positive", ErrInvalidInput)
	}
	return nil
}

// ValidateWorker adds the checks only the worker needs.
// extractionMargin is the part of a job's time budget left for download, text
// extraction and persistence once the AI call and its retries are paid for.
const extractionMargin = 30 * time.Second

// AnalysisBudget is the worst-case time one AI analysis can take: every
// attempt running to AI_TIMEOUT plus the backoff sleeps between them.
func (c LLMConfig) AnalysisBudget() time.Duration {
	per := c.Timeout
	if per <= 0 {
		per = 60 * time.Second
	}
	retries := max(c.MaxRetries, 0)
	backoff := c.RetryBase * time.Duration((1<<retries)-1)
	return time.Duration(retries+1)*per + backoff
}

// defaultWorkerID is unique per process so two workers on one host, or a
// restarted container, never share an in-flight list.
func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}

func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "GEMINI_API_KEY is required", ErrInvalidInput)
	}
	if c.Queue.RedisURL == "" {
		return NewAppError("CONFIG_ERROR", "REDIS_URL is required", ErrInvalidInput)
	}
	if c.Queue.Concurrency <= 0 {
		return NewAppError("CONFIG_ERROR", "WORKER_CONCURRENCY must be positive", ErrInvalidInput)
	}
	if c.Queue.MaxAttempts <= 0 {
		return NewAppError("CONFIG_ERROR", "JOB_ATTEMPTS must be positive", ErrInvalidInput)
	}
	if need := c.LLM.AnalysisBudget() + extractionMargin; c.Queue.JobTimeout < need {
		return NewAppError("CONFIG_ERROR",
			fmt.Sprintf("JOB_TIMEOUT %s is shorter than the AI retry budget plus extraction (%s)", c.Queue.JobTimeout, need),
			ErrInvalidInput)
	}
	return nil
}
