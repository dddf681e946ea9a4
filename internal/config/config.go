package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is built once at startup and handed to each component.
type Config struct {
	Port        string
	DatabaseURL string
	CORSOrigins []string

	StripeSecretKey     string
	StripeWebhookSecret string
	WebhookTolerance    time.Duration

	OrdersDatabaseID   string
	OrdersCollectionID string
	ProvisionOnStart   bool

	StorageTimeout  time.Duration
	ProviderTimeout time.Duration

	CheckoutRate  float64
	CheckoutBurst int

	LogFormat string
	LogLevel  slog.Level
}

const (
	keyPort                = "PORT"
	keyDatabaseURL         = "DATABASE_URL"
	keyCORSOrigins         = "CORS_ORIGINS"
	keyStripeSecretKey     = "STRIPE_SECRET_KEY"
	keyStripeWebhookSecret = "STRIPE_WEBHOOK_SECRET"
	keyWebhookTolerance    = "WEBHOOK_TOLERANCE"
	keyOrdersDatabaseID    = "ORDERS_DATABASE_ID"
	keyOrdersCollectionID  = "ORDERS_COLLECTION_ID"
	keyProvisionOnStart    = "PROVISION_ON_START"
	keyStorageTimeout      = "STORAGE_TIMEOUT"
	keyProviderTimeout     = "PROVIDER_TIMEOUT"
	keyCheckoutRate        = "CHECKOUT_RATE"
	keyCheckoutBurst       = "CHECKOUT_BURST"
	keyLogFormat           = "LOG_FORMAT"
	keyLogLevel            = "LOG_LEVEL"
)

var required = []string{
	keyDatabaseURL,
	keyStripeSecretKey,
	keyStripeWebhookSecret,
	keyOrdersDatabaseID,
	keyOrdersCollectionID,
}

// MissingError lists every required setting that was absent.
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return "missing required configuration: " + strings.Join(e.Keys, ", ")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(keyPort, "8080")
	v.SetDefault(keyCORSOrigins, "")
	v.SetDefault(keyWebhookTolerance, "5m")
	v.SetDefault(keyProvisionOnStart, true)
	v.SetDefault(keyStorageTimeout, "5s")
	v.SetDefault(keyProviderTimeout, "10s")
	v.SetDefault(keyCheckoutRate, 10.0)
	v.SetDefault(keyCheckoutBurst, 20)
	v.SetDefault(keyLogFormat, "text")
	v.SetDefault(keyLogLevel, "info")
	v.AutomaticEnv()
	return v
}

// Load reads the process environment, falling back to a .env file found in
// the working directory or one of its parents. Real environment variables
// win over the file.
func Load() (Config, error) {
	v := newViper()

	path, err := findEnvFile()
	if err != nil {
		return Config{}, fmt.Errorf("locate .env: %w", err)
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}
	return build(v)
}

func build(v *viper.Viper) (Config, error) {
	var missing []string
	for _, key := range required {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return Config{}, &MissingError{Keys: missing}
	}

	cfg := Config{
		Port:                v.GetString(keyPort),
		DatabaseURL:         v.GetString(keyDatabaseURL),
		CORSOrigins:         parseCSV(v.GetString(keyCORSOrigins)),
		StripeSecretKey:     v.GetString(keyStripeSecretKey),
		StripeWebhookSecret: v.GetString(keyStripeWebhookSecret),
		WebhookTolerance:    v.GetDuration(keyWebhookTolerance),
		OrdersDatabaseID:    v.GetString(keyOrdersDatabaseID),
		OrdersCollectionID:  v.GetString(keyOrdersCollectionID),
		ProvisionOnStart:    v.GetBool(keyProvisionOnStart),
		StorageTimeout:      v.GetDuration(keyStorageTimeout),
		ProviderTimeout:     v.GetDuration(keyProviderTimeout),
		CheckoutRate:        v.GetFloat64(keyCheckoutRate),
		CheckoutBurst:       v.GetInt(keyCheckoutBurst),
		LogFormat:           strings.ToLower(v.GetString(keyLogFormat)),
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString(keyLogLevel))); err != nil {
		return Config{}, fmt.Errorf("%s: %w", keyLogLevel, err)
	}

	var errs []error
	if cfg.WebhookTolerance <= 0 {
		errs = append(errs, fmt.Errorf("%s must be a positive duration", keyWebhookTolerance))
	}
	if cfg.StorageTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be a positive duration", keyStorageTimeout))
	}
	if cfg.ProviderTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be a positive duration", keyProviderTimeout))
	}
	if cfg.CheckoutRate <= 0 || cfg.CheckoutBurst <= 0 {
		errs = append(errs, fmt.Errorf("%s and %s must be positive", keyCheckoutRate, keyCheckoutBurst))
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("%s must be text or json", keyLogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NewLogger builds the process logger described by the config.
func (c Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func findEnvFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for i := 0; i < 6; i++ {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", nil
}

func parseCSV(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
