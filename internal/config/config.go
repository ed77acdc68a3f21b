package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath  = "config.toml"
	DefaultHTTPAddr    = ":8080"
	DefaultPGHost      = "127.0.0.1"
	DefaultPGPort      = 5432
	DefaultPGUser      = "postgres"
	DefaultPGDatabase  = "textmill"
	DefaultPGSSLMode   = "disable"
	DefaultStorageRoot = "data"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Postgres PostgresConfig `toml:"postgres"`
	Storage  StorageConfig  `toml:"storage"`
	OCR      OCRConfig      `toml:"ocr"`
	Speech   SpeechConfig   `toml:"speech"`
	Render   RenderConfig   `toml:"render"`
	Drive    DriveConfig    `toml:"drive"`
	Extract  ExtractConfig  `toml:"extract"`
	Worker   WorkerConfig   `toml:"worker"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// StorageConfig configures the archival object store.
type StorageConfig struct {
	Root      string `toml:"root"`
	PublicURL string `toml:"public_url"`
}

// OCRConfig points at the text-detection service.
type OCRConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// SpeechConfig points at the transcription service.
type SpeechConfig struct {
	BaseURL     string `toml:"base_url"`
	APIKey      string `toml:"api_key"`
	PollSeconds int    `toml:"poll_seconds"`
	MaxPolls    int    `toml:"max_polls"`
}

// RenderConfig points at the PDF page rasterization service.
type RenderConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// DriveConfig points at the cloud-drive file resolution service.
type DriveConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// ExtractConfig tunes the PDF extraction ladder.
type ExtractConfig struct {
	RenderScale     float64 `toml:"render_scale"`
	PageConcurrency int     `toml:"page_concurrency"`
	MaxPages        int     `toml:"max_pages"`
}

// WorkerConfig tunes the scheduling loop.
type WorkerConfig struct {
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	Concurrency         int `toml:"concurrency"`
	MaxItemsPerPass     int `toml:"max_items_per_pass"`
	MaxAttempts         int `toml:"max_attempts"`
	StaleAfterSeconds   int `toml:"stale_after_seconds"`
	FetchTimeoutSeconds int `toml:"fetch_timeout_seconds"`
}

// PollInterval returns the scheduling pass interval as a duration.
func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// StaleAfter returns the processing staleness threshold as a duration.
func (c WorkerConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterSeconds) * time.Second
}

// FetchTimeout returns the per-download timeout as a duration.
func (c WorkerConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// DSN renders the Postgres config as a pgx connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Storage: StorageConfig{
			Root: DefaultStorageRoot,
		},
		OCR: OCRConfig{
			TimeoutSeconds: 60,
		},
		Speech: SpeechConfig{
			PollSeconds: 5,
			MaxPolls:    60,
		},
		Render: RenderConfig{
			TimeoutSeconds: 60,
		},
		Extract: ExtractConfig{
			RenderScale:     2.0,
			PageConcurrency: 3,
			MaxPages:        20,
		},
		Worker: WorkerConfig{
			PollIntervalSeconds: 30,
			Concurrency:         3,
			MaxItemsPerPass:     10,
			MaxAttempts:         3,
			StaleAfterSeconds:   300,
			FetchTimeoutSeconds: 60,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Extract.RenderScale <= 0 {
		return fmt.Errorf("extract.render_scale must be greater than 0")
	}
	if c.Extract.PageConcurrency <= 0 {
		return fmt.Errorf("extract.page_concurrency must be greater than 0")
	}
	if c.Extract.MaxPages <= 0 {
		return fmt.Errorf("extract.max_pages must be greater than 0")
	}
	if c.Worker.PollIntervalSeconds <= 0 {
		return fmt.Errorf("worker.poll_interval_seconds must be greater than 0")
	}
	if c.Worker.StaleAfterSeconds <= 0 {
		return fmt.Errorf("worker.stale_after_seconds must be greater than 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be greater than 0")
	}
	if c.Worker.MaxItemsPerPass <= 0 {
		return fmt.Errorf("worker.max_items_per_pass must be greater than 0")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be greater than 0")
	}
	return nil
}
