package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv               string
	Port                 string
	APIKey               string
	BaseURL              string
	ImageModel           string
	RequestTimeout       time.Duration
	RegistryPath         string
	RegistryDatabaseURL  string
	OutputDir            string
	FinetunePollInterval time.Duration
	FinetuneMaxWait      time.Duration
	ImagePollInterval    time.Duration
	ImageMaxWait         time.Duration
	TransportRetries     int
	HTTPReadTimeout      time.Duration
	HTTPWriteTimeout     time.Duration
	HTTPIdleTimeout      time.Duration
	RateLimitPerMin      int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:               getEnv("APP_ENV", "development"),
		Port:                 getEnv("PORT", "8080"),
		APIKey:               strings.TrimSpace(os.Getenv("BFL_API_KEY")),
		BaseURL:              getEnv("BFL_BASE_URL", "https://api.us1.bfl.ai"),
		ImageModel:           getEnv("BFL_IMAGE_MODEL", "flux-pro-finetuned"),
		RequestTimeout:       getEnvDuration("BFL_REQUEST_TIMEOUT", 2*time.Minute),
		RegistryPath:         getEnv("REGISTRY_PATH", "finetune_id.json"),
		RegistryDatabaseURL:  os.Getenv("REGISTRY_DATABASE_URL"),
		OutputDir:            os.Getenv("OUTPUT_DIR"),
		FinetunePollInterval: getEnvDuration("FINETUNE_POLL_INTERVAL", 10*time.Second),
		FinetuneMaxWait:      getEnvDuration("FINETUNE_MAX_WAIT", 2*time.Hour),
		ImagePollInterval:    getEnvDuration("IMAGE_POLL_INTERVAL", 3*time.Second),
		ImageMaxWait:         getEnvDuration("IMAGE_MAX_WAIT", 10*time.Minute),
		TransportRetries:     getEnvInt("TRANSPORT_RETRIES", 3),
		HTTPReadTimeout:      time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 60)),
		HTTPWriteTimeout:     time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:      time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:      getEnvInt("RATE_LIMIT_PER_MINUTE", 10),
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("BFL_API_KEY is required")
	}
	if cfg.FinetunePollInterval <= 0 || cfg.ImagePollInterval <= 0 {
		return nil, fmt.Errorf("poll intervals must be positive")
	}
	if cfg.FinetuneMaxWait <= 0 || cfg.ImageMaxWait <= 0 {
		return nil, fmt.Errorf("max wait durations must be positive")
	}
	if cfg.TransportRetries < 0 {
		return nil, fmt.Errorf("TRANSPORT_RETRIES must be >= 0")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s", "2h") or a plain number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
