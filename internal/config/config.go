package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the Torvix backend.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Redis        RedisConfig        `mapstructure:"redis"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Cache        CacheConfig        `mapstructure:"cache"`
	FoodDatabase FoodDatabaseConfig `mapstructure:"food_database"`
	OpenFoodFact OpenFoodFactConfig `mapstructure:"open_food_facts"`
	OpenAI       OpenAIConfig       `mapstructure:"openai"`
	Bootstrap    BootstrapConfig    `mapstructure:"bootstrap"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	ServiceName  string `mapstructure:"service_name"`
	LogLevel     string `mapstructure:"log_level"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type AuthConfig struct {
	JWTSecret          string `mapstructure:"jwt_secret"`
	JWTAlg             string `mapstructure:"jwt_alg"`
	AccessTokenMinutes int    `mapstructure:"access_token_minutes"`
	RefreshTokenDays   int    `mapstructure:"refresh_token_days"`
}

// AccessTokenTTL is the lifetime of an access token.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	return time.Duration(a.AccessTokenMinutes) * time.Minute
}

// RefreshTokenTTL is the lifetime of a refresh token and its session row.
func (a AuthConfig) RefreshTokenTTL() time.Duration {
	return time.Duration(a.RefreshTokenDays) * 24 * time.Hour
}

// RedisConfig points at the shared cache. An empty URL falls back to the
// in-process cache.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// NATSConfig points at the event bus. An empty URL disables event publishing.
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type CacheConfig struct {
	ProductTTL      time.Duration `mapstructure:"product_ttl"`
	AutoCompleteTTL time.Duration `mapstructure:"auto_complete_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type FoodDatabaseConfig struct {
	AppID   string        `mapstructure:"app_id"`
	AppKey  string        `mapstructure:"app_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type OpenFoodFactConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Timeout is the per-request timeout for product lookups.
func (o OpenFoodFactConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

type OpenAIConfig struct {
	APIKey                string        `mapstructure:"api_key"`
	Model                 string        `mapstructure:"model"`
	BaseURL               string        `mapstructure:"base_url"`
	Timeout               time.Duration `mapstructure:"timeout"`
	MaxOutputTokenRetries int           `mapstructure:"max_output_token_retries"`
}

type BootstrapConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// legacyEnv maps config keys to the plain environment variable names the
// service has always been deployed with. The TORVIX_ prefixed form wins when
// both are set.
var legacyEnv = map[string]string{
	"server.port":                     "PORT",
	"database.url":                    "DATABASE_URL",
	"auth.jwt_secret":                 "JWT_SECRET",
	"auth.jwt_alg":                    "JWT_ALG",
	"auth.access_token_minutes":       "ACCESS_TOKEN_MINUTES",
	"auth.refresh_token_days":         "REFRESH_TOKEN_DAYS",
	"redis.url":                       "REDIS_URL",
	"nats.url":                        "NATS_URL",
	"food_database.app_id":            "FOOD_DATABASE_API_ID",
	"food_database.app_key":           "FOOD_DATABASE_API_KEY",
	"food_database.base_url":          "EDAMAM_URL",
	"open_food_facts.base_url":        "OPEN_FOOD_FACTS_BASE_URL",
	"open_food_facts.timeout_seconds": "OPEN_FOOD_FACTS_TIMEOUT_SECONDS",
	"openai.api_key":                  "OPENAI_API_KEY",
	"openai.model":                    "OPENAI_MODEL",
	"openai.base_url":                 "OPENAI_BASE_URL",
}

// Load reads config from the optional YAML file at path, then overlays
// environment variables with the TORVIX_ prefix (e.g. TORVIX_SERVER_PORT) and
// the legacy unprefixed names (e.g. PORT, DATABASE_URL).
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("TORVIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range legacyEnv {
		prefixed := "TORVIX_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Database.URL = NormalizeDatabaseURL(cfg.Database.URL)

	return &cfg, nil
}

// Validate checks the settings the HTTP server cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret (JWT_SECRET) is required"))
	}
	switch c.Auth.JWTAlg {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, fmt.Errorf("unsupported auth.jwt_alg %q", c.Auth.JWTAlg))
	}
	if c.Auth.AccessTokenMinutes <= 0 {
		errs = append(errs, errors.New("auth.access_token_minutes must be positive"))
	}
	if c.Auth.RefreshTokenDays <= 0 {
		errs = append(errs, errors.New("auth.refresh_token_days must be positive"))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url (DATABASE_URL) is required"))
	}
	return errors.Join(errs...)
}

// NormalizeDatabaseURL strips SQLAlchemy-style driver suffixes such as
// "postgresql+psycopg://" so the URL can be handed to pgx.
func NormalizeDatabaseURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	if base, _, found := strings.Cut(scheme, "+"); found {
		scheme = base
	}
	if scheme == "postgresql" {
		scheme = "postgres"
	}
	return scheme + "://" + rest
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "torvix-backend")
	v.SetDefault("telemetry.log_level", "info")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_alg", "HS256")
	v.SetDefault("auth.access_token_minutes", 60)
	v.SetDefault("auth.refresh_token_days", 30)

	v.SetDefault("redis.url", "")
	v.SetDefault("nats.url", "")

	v.SetDefault("cache.product_ttl", 6*time.Hour)
	v.SetDefault("cache.auto_complete_ttl", 30*time.Minute)
	v.SetDefault("cache.cleanup_interval", 10*time.Minute)

	v.SetDefault("food_database.app_id", "")
	v.SetDefault("food_database.app_key", "")
	v.SetDefault("food_database.base_url", "https://api.edamam.com")
	v.SetDefault("food_database.timeout", 15*time.Second)

	v.SetDefault("open_food_facts.base_url", "https://world.openfoodfacts.org")
	v.SetDefault("open_food_facts.timeout_seconds", 10)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.model", "gpt-5-mini")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.timeout", 60*time.Second)
	v.SetDefault("openai.max_output_token_retries", 2)

	v.SetDefault("bootstrap.timeout", 2*time.Minute)
}
