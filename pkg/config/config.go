package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvConfigFile names an optional TOML file layered over the defaults.
const EnvConfigFile = "SESSION_PROCESSOR_CONFIG"

type Config struct {
	Server        ServerConfig        `toml:"server"`
	Capture       CaptureConfig       `toml:"capture"`
	Upload        UploadConfig        `toml:"upload"`
	Transcription TranscriptionConfig `toml:"transcription"`
	Analysis      AnalysisConfig      `toml:"analysis"`
	Storage       StorageConfig       `toml:"storage"`
	Pipeline      PipelineConfig      `toml:"pipeline"`
	LogMode       string              `toml:"log_mode"`

	// GoogleCredentialsFile is passed to the GCS and Speech clients. Empty
	// falls back to application default credentials.
	GoogleCredentialsFile string `toml:"google_credentials_file"`
}

type ServerConfig struct {
	Address      string        `toml:"address"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
}

type CaptureConfig struct {
	MaxChunkDuration  time.Duration `toml:"max_chunk_duration"`
	MaxChunkSizeBytes int           `toml:"max_chunk_size_bytes"`
	QueueSize         int           `toml:"queue_size"`
}

type UploadConfig struct {
	Sink        string        `toml:"sink"` // "http", "gcs" or "none"
	Endpoint    string        `toml:"endpoint"`
	APIKey      string        `toml:"-"`
	GCSBucket   string        `toml:"gcs_bucket"`
	GCSPrefix   string        `toml:"gcs_prefix"`
	MaxAttempts int           `toml:"max_attempts"`
	BaseDelay   time.Duration `toml:"base_delay"`
	Multiplier  float64       `toml:"multiplier"`
	Timeout     time.Duration `toml:"timeout"`
}

type TranscriptionConfig struct {
	Provider    string        `toml:"provider"` // "whisper" or "google"
	Endpoint    string        `toml:"endpoint"`
	Model       string        `toml:"model"`
	APIKey      string        `toml:"-"`
	Language    string        `toml:"language"`
	Concurrency int           `toml:"concurrency"`
	Timeout     time.Duration `toml:"timeout"`
}

type AnalysisConfig struct {
	Provider          string        `toml:"provider"` // "openai" or "gemini"
	Endpoint          string        `toml:"endpoint"`
	Model             string        `toml:"model"`
	APIKey            string        `toml:"-"`
	TokenBudget       int           `toml:"token_budget"` // 0 derives the budget from Model
	RequestsPerSecond float64       `toml:"requests_per_second"`
	Temperature       float32       `toml:"temperature"`
	Timeout           time.Duration `toml:"timeout"`
}

type PipelineConfig struct {
	IngestQueueSize int `toml:"ingest_queue_size"`
	RosterWorkers   int `toml:"roster_workers"`
	EventBuffer     int `toml:"event_buffer"`
}

type StorageConfig struct {
	Backend   string `toml:"backend"` // "badger", "redis" or "memory"
	Path      string `toml:"path"`
	RedisAddr string `toml:"redis_addr"`
	RedisDB   int    `toml:"redis_db"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Capture: CaptureConfig{
			MaxChunkDuration:  25 * time.Minute,
			MaxChunkSizeBytes: 25 * 1024 * 1024,
			QueueSize:         64,
		},
		Upload: UploadConfig{
			Sink:        "none",
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			Multiplier:  2,
			Timeout:     2 * time.Minute,
		},
		Transcription: TranscriptionConfig{
			Provider:    "whisper",
			Endpoint:    "https://api.openai.com/v1/audio/transcriptions",
			Model:       "whisper-1",
			Language:    "en-US",
			Concurrency: 2,
			Timeout:     5 * time.Minute,
		},
		Analysis: AnalysisConfig{
			Provider:          "openai",
			Endpoint:          "https://api.openai.com/v1/chat/completions",
			Model:             "gpt-4",
			RequestsPerSecond: 1,
			Temperature:       0.7,
			Timeout:           2 * time.Minute,
		},
		Storage: StorageConfig{
			Backend: "badger",
			Path:    "./data",
		},
		Pipeline: PipelineConfig{
			IngestQueueSize: 32,
			RosterWorkers:   4,
			EventBuffer:     16,
		},
		LogMode: "dev",
	}
}

// Load builds the configuration from defaults, an optional .env file, an
// optional TOML file named by SESSION_PROCESSOR_CONFIG, and environment
// variables, in that order of precedence (later wins).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Config: no .env file loaded: %v", err)
	}

	cfg := Default()
	if path := os.Getenv(EnvConfigFile); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Server.Address, "HTTP_ADDR")
	setString(&cfg.LogMode, "LOG_MODE")
	setString(&cfg.GoogleCredentialsFile, "GOOGLE_CREDENTIALS_FILE")

	setString(&cfg.Storage.Backend, "STORAGE_BACKEND")
	setString(&cfg.Storage.Path, "STORAGE_PATH")
	setString(&cfg.Storage.RedisAddr, "REDIS_ADDR")

	setString(&cfg.Upload.Sink, "UPLOAD_SINK")
	setString(&cfg.Upload.Endpoint, "UPLOAD_ENDPOINT")
	setString(&cfg.Upload.GCSBucket, "UPLOAD_GCS_BUCKET")

	setString(&cfg.Transcription.Provider, "TRANSCRIBE_PROVIDER")
	setString(&cfg.Transcription.Model, "TRANSCRIBE_MODEL")
	setString(&cfg.Analysis.Provider, "ANALYZE_PROVIDER")
	setString(&cfg.Analysis.Model, "ANALYZE_MODEL")

	cfg.Upload.APIKey = os.Getenv("UPLOAD_API_KEY")
	cfg.Transcription.APIKey = os.Getenv("OPENAI_API_KEY")
	cfg.Analysis.APIKey = os.Getenv("OPENAI_API_KEY")
	if cfg.Analysis.Provider == "gemini" {
		cfg.Analysis.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := setInt(&cfg.Upload.MaxAttempts, "UPLOAD_MAX_ATTEMPTS"); err != nil {
		return err
	}
	if err := setInt(&cfg.Analysis.TokenBudget, "ANALYZE_TOKEN_BUDGET"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Capture.MaxChunkDuration, "CAPTURE_MAX_CHUNK_DURATION"); err != nil {
		return err
	}
	return setDuration(&cfg.Upload.BaseDelay, "UPLOAD_BASE_DELAY")
}

// Validate rejects limits that would make the pipeline spin or stall.
func (c *Config) Validate() error {
	switch {
	case c.Capture.MaxChunkDuration <= 0:
		return fmt.Errorf("capture.max_chunk_duration must be positive")
	case c.Capture.MaxChunkSizeBytes <= 0:
		return fmt.Errorf("capture.max_chunk_size_bytes must be positive")
	case c.Upload.MaxAttempts <= 0:
		return fmt.Errorf("upload.max_attempts must be positive")
	case c.Upload.BaseDelay < 0:
		return fmt.Errorf("upload.base_delay must not be negative")
	case c.Upload.Multiplier < 1:
		return fmt.Errorf("upload.multiplier must be at least 1")
	case c.Transcription.Concurrency <= 0:
		return fmt.Errorf("transcription.concurrency must be positive")
	case c.Analysis.TokenBudget < 0:
		return fmt.Errorf("analysis.token_budget must not be negative")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}
