// README: Config loader with env defaults for HTTP, DB, Redis, AMQP, identity and dispatch settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DispatchConfig holds the matching and re-match tunables. Every one of them
// has a default in Defaults.
type DispatchConfig struct {
	SearchRadiusKm     float64       `yaml:"search_radius_km"`
	LocationFreshness  time.Duration `yaml:"location_freshness"`
	MaxRematchAttempts int           `yaml:"max_rematch_attempts"`
	BackoffInitial     time.Duration `yaml:"backoff_initial"`
	BackoffMax         time.Duration `yaml:"backoff_max"`
	BackoffMultiplier  float64       `yaml:"backoff_multiplier"`
	PricingTimeout     time.Duration `yaml:"pricing_timeout"`
	NotifyTimeout      time.Duration `yaml:"notify_timeout"`
	FlatEstimateCents  int64         `yaml:"flat_estimate_cents"`
	Currency           string        `yaml:"currency"`
	// PricingTimezone is the IANA zone peak and night hours are read in.
	PricingTimezone string `yaml:"pricing_timezone"`
	// MaxClockSkew bounds how far past the server clock a location report
	// may be dated.
	MaxClockSkew time.Duration `yaml:"max_clock_skew"`
	// FleetRefresh is how often drivers and vehicles are reloaded from the
	// database. Zero disables the reload.
	FleetRefresh time.Duration `yaml:"fleet_refresh"`
}

type Config struct {
	HTTP struct {
		Addr           string        `yaml:"addr"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		RatePerSecond  float64       `yaml:"rate_per_second"`
		RateBurst      int           `yaml:"rate_burst"`
	} `yaml:"http"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`
	AMQP struct {
		URL      string `yaml:"url"`
		Exchange string `yaml:"exchange"`
	} `yaml:"amqp"`
	Firebase struct {
		ProjectID       string `yaml:"project_id"`
		CredentialsFile string `yaml:"credentials_file"`
		DatabaseURL     string `yaml:"database_url"`
		PushEnabled     bool   `yaml:"push_enabled"`
	} `yaml:"firebase"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Maps struct {
		APIKey   string        `yaml:"api_key"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"maps"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

// Defaults returns the configuration used when neither a file nor the
// environment says otherwise.
func Defaults() Config {
	var cfg Config
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.RequestTimeout = 10 * time.Second
	cfg.HTTP.RatePerSecond = 20
	cfg.HTTP.RateBurst = 40
	cfg.AMQP.Exchange = "ride_topic"
	cfg.Maps.CacheTTL = 2 * time.Minute
	cfg.Log.Level = "info"
	cfg.Dispatch = DispatchConfig{
		SearchRadiusKm:     3.0,
		LocationFreshness:  30 * time.Second,
		MaxRematchAttempts: 5,
		BackoffInitial:     2 * time.Second,
		BackoffMax:         30 * time.Second,
		BackoffMultiplier:  2,
		PricingTimeout:     2 * time.Second,
		NotifyTimeout:      5 * time.Second,
		FlatEstimateCents:  1500,
		Currency:           "EUR",
		PricingTimezone:    "UTC",
		MaxClockSkew:       10 * time.Second,
		FleetRefresh:       time.Minute,
	}
	return cfg
}

// Load reads defaults, then the optional YAML file named by
// DISPATCH_CONFIG_FILE, then environment overrides.
func Load() (Config, error) {
	cfg := Defaults()
	if path := os.Getenv("DISPATCH_CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.HTTP.Addr = envOrDefault("DISPATCH_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.HTTP.RequestTimeout = envOrDefaultDuration("DISPATCH_HTTP_TIMEOUT", cfg.HTTP.RequestTimeout)
	cfg.HTTP.RatePerSecond = envOrDefaultFloat("DISPATCH_HTTP_RATE", cfg.HTTP.RatePerSecond)
	cfg.HTTP.RateBurst = envOrDefaultInt("DISPATCH_HTTP_BURST", cfg.HTTP.RateBurst)
	cfg.DB.DSN = envOrDefault("DISPATCH_DB_DSN", cfg.DB.DSN)
	cfg.Redis.Addr = envOrDefault("DISPATCH_REDIS_ADDR", cfg.Redis.Addr)
	cfg.AMQP.URL = envOrDefault("DISPATCH_AMQP_URL", cfg.AMQP.URL)
	cfg.AMQP.Exchange = envOrDefault("DISPATCH_AMQP_EXCHANGE", cfg.AMQP.Exchange)
	cfg.Firebase.ProjectID = envOrDefault("DISPATCH_FIREBASE_PROJECT_ID", cfg.Firebase.ProjectID)
	cfg.Firebase.CredentialsFile = envOrDefault("DISPATCH_FIREBASE_CREDENTIALS", cfg.Firebase.CredentialsFile)
	cfg.Firebase.DatabaseURL = envOrDefault("DISPATCH_FIREBASE_DATABASE_URL", cfg.Firebase.DatabaseURL)
	cfg.Firebase.PushEnabled = envOrDefaultBool("DISPATCH_FIREBASE_PUSH", cfg.Firebase.PushEnabled)
	cfg.Auth.JWTSecret = envOrDefault("DISPATCH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Maps.APIKey = envOrDefault("DISPATCH_MAPS_API_KEY", cfg.Maps.APIKey)
	cfg.Maps.CacheTTL = envOrDefaultDuration("DISPATCH_MAPS_CACHE_TTL", cfg.Maps.CacheTTL)
	cfg.Log.Level = envOrDefault("DISPATCH_LOG_LEVEL", cfg.Log.Level)

	d := &cfg.Dispatch
	d.SearchRadiusKm = envOrDefaultFloat("DISPATCH_MATCH_RADIUS_KM", d.SearchRadiusKm)
	d.LocationFreshness = envOrDefaultDuration("DISPATCH_LOCATION_FRESHNESS", d.LocationFreshness)
	d.MaxRematchAttempts = envOrDefaultInt("DISPATCH_REMATCH_ATTEMPTS", d.MaxRematchAttempts)
	d.BackoffInitial = envOrDefaultDuration("DISPATCH_BACKOFF_INITIAL", d.BackoffInitial)
	d.BackoffMax = envOrDefaultDuration("DISPATCH_BACKOFF_MAX", d.BackoffMax)
	d.BackoffMultiplier = envOrDefaultFloat("DISPATCH_BACKOFF_MULTIPLIER", d.BackoffMultiplier)
	d.PricingTimeout = envOrDefaultDuration("DISPATCH_PRICING_TIMEOUT", d.PricingTimeout)
	d.NotifyTimeout = envOrDefaultDuration("DISPATCH_NOTIFY_TIMEOUT", d.NotifyTimeout)
	d.FlatEstimateCents = int64(envOrDefaultInt("DISPATCH_FLAT_ESTIMATE_CENTS", int(d.FlatEstimateCents)))
	d.Currency = envOrDefault("DISPATCH_CURRENCY", d.Currency)
	d.PricingTimezone = envOrDefault("DISPATCH_PRICING_TIMEZONE", d.PricingTimezone)
	d.MaxClockSkew = envOrDefaultDuration("DISPATCH_MAX_CLOCK_SKEW", d.MaxClockSkew)
	d.FleetRefresh = envOrDefaultDuration("DISPATCH_FLEET_REFRESH", d.FleetRefresh)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	d := c.Dispatch
	if d.SearchRadiusKm <= 0 {
		errs = append(errs, errors.New("dispatch.search_radius_km must be positive"))
	}
	if d.LocationFreshness <= 0 {
		errs = append(errs, errors.New("dispatch.location_freshness must be positive"))
	}
	if d.MaxRematchAttempts < 0 {
		errs = append(errs, errors.New("dispatch.max_rematch_attempts must not be negative"))
	}
	if d.BackoffInitial <= 0 || d.BackoffMax < d.BackoffInitial {
		errs = append(errs, errors.New("dispatch backoff must satisfy 0 < initial <= max"))
	}
	if d.BackoffMultiplier < 1 {
		errs = append(errs, errors.New("dispatch.backoff_multiplier must be >= 1"))
	}
	if d.FlatEstimateCents < 0 {
		errs = append(errs, errors.New("dispatch.flat_estimate_cents must not be negative"))
	}
	if strings.TrimSpace(d.Currency) == "" {
		errs = append(errs, errors.New("dispatch.currency is required"))
	}
	if d.MaxClockSkew <= 0 {
		errs = append(errs, errors.New("dispatch.max_clock_skew must be positive"))
	}
	if d.FleetRefresh < 0 {
		errs = append(errs, errors.New("dispatch.fleet_refresh must not be negative"))
	}
	if _, err := time.LoadLocation(d.PricingTimezone); err != nil {
		errs = append(errs, fmt.Errorf("dispatch.pricing_timezone: %w", err))
	}
	return errors.Join(errs...)
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
