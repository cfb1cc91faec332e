package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	ApiURL     string `toml:"-"`
	AccessKey  string `toml:"-"`
	SecretKey  string `toml:"-"`
	BucketName string `toml:"-"`
	Region     string `toml:"-"`
	DatabaseID string `toml:"-"`

	Download DownloadConfig `toml:"download"`
	Log      LogConfig      `toml:"log"`
}

type DownloadConfig struct {
	Concurrency      int   `toml:"concurrency"`
	Retries          int   `toml:"retries"`
	RetryDelayMS     int   `toml:"retry_delay_ms"`
	URLExpirySeconds int   `toml:"url_expiry_seconds"`
	BandwidthLimit   int64 `toml:"bandwidth_limit"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func Default() *Config {
	return &Config{
		Download: DownloadConfig{
			Concurrency:      5,
			Retries:          3,
			RetryDelayMS:     1000,
			URLExpirySeconds: 1800,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads .env, then the optional TOML file named by ASSETDL_CONFIG, then
// environment variables. Later sources win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn(".env file not found, using environment variables only")
	}

	config := Default()

	if path := getEnv("ASSETDL_CONFIG", ""); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}

	config.ApiURL = getEnv("API_URL", "")
	config.AccessKey = getEnv("ACCESS_KEY", "")
	config.SecretKey = getEnv("SECRET_KEY", "")
	config.BucketName = getEnv("BUCKET_NAME", "")
	config.Region = getEnv("REGION", "")
	config.DatabaseID = getEnv("DATABASE_ID", "")
	config.Log.Level = getEnv("LOG_LEVEL", config.Log.Level)
	config.Log.Format = getEnv("LOG_FORMAT", config.Log.Format)

	var err error
	d := &config.Download
	if d.Concurrency, err = getEnvInt("DOWNLOAD_CONCURRENCY", d.Concurrency); err != nil {
		return nil, err
	}
	if d.Retries, err = getEnvInt("DOWNLOAD_RETRIES", d.Retries); err != nil {
		return nil, err
	}
	if d.RetryDelayMS, err = getEnvInt("DOWNLOAD_RETRY_DELAY_MS", d.RetryDelayMS); err != nil {
		return nil, err
	}
	if d.URLExpirySeconds, err = getEnvInt("DOWNLOAD_URL_EXPIRY_SECONDS", d.URLExpirySeconds); err != nil {
		return nil, err
	}
	limit, err := getEnvInt("DOWNLOAD_BANDWIDTH_LIMIT", int(d.BandwidthLimit))
	if err != nil {
		return nil, err
	}
	d.BandwidthLimit = int64(limit)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) loadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := toml.NewDecoder(file).Decode(c); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Download.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("download concurrency must be at least 1, got %d", c.Download.Concurrency))
	}
	if c.Download.Retries < 0 {
		errs = append(errs, fmt.Errorf("download retries must not be negative, got %d", c.Download.Retries))
	}
	if c.Download.RetryDelayMS < 0 {
		errs = append(errs, fmt.Errorf("download retry delay must not be negative, got %d", c.Download.RetryDelayMS))
	}
	if c.Download.URLExpirySeconds < 1 {
		errs = append(errs, fmt.Errorf("download url expiry must be positive, got %d", c.Download.URLExpirySeconds))
	}
	if c.Download.BandwidthLimit < 0 {
		errs = append(errs, fmt.Errorf("bandwidth limit must not be negative, got %d", c.Download.BandwidthLimit))
	}
	return errors.Join(errs...)
}

func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Download.RetryDelayMS) * time.Millisecond
}

func (c *Config) URLExpiry() time.Duration {
	return time.Duration(c.Download.URLExpirySeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
