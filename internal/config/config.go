// Package config loads service settings from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/afom12/Taskflow/internal/consts"
)

// Board store backends.
const (
	StoreMemory   = "memory"
	StoreTables   = "tables"
	StorePostgres = "postgres"
	StoreBadger   = "badger"
)

// Config holds every tunable of the board service. Keys are the environment
// variable names in lower case.
type Config struct {
	Debug       bool     `mapstructure:"debug"`
	LogFormat   string   `mapstructure:"log_format" validate:"oneof=text json"`
	Port        string   `mapstructure:"functions_customhandler_port" validate:"required,numeric"`
	CORSOrigins []string `mapstructure:"cors_allowed_origins" validate:"min=1"`

	BoardStore              string `mapstructure:"board_store" validate:"oneof=memory tables postgres badger"`
	StorageConnectionString string `mapstructure:"storage_connection_string" validate:"required_if=BoardStore tables"`
	BoardsTable             string `mapstructure:"boards_table" validate:"required_if=BoardStore tables"`
	DatabaseURL             string `mapstructure:"database_url" validate:"required_if=BoardStore postgres"`
	BadgerDir               string `mapstructure:"badger_dir" validate:"required_if=BoardStore badger"`
	BoardEventsQueue        string `mapstructure:"board_events_queue"`

	RedisConnectionString string        `mapstructure:"redis_connection_string"`
	BoardUpdatesChannel   string        `mapstructure:"board_updates_channel" validate:"required"`
	DeduperTTL            time.Duration `mapstructure:"deduper_ttl" validate:"gt=0"`

	Auth0Domain     string        `mapstructure:"auth0_domain"`
	Auth0Audience   string        `mapstructure:"auth0_audience"`
	Auth0TestMode   bool          `mapstructure:"auth0_test_mode"`
	TestJWTSecret   string        `mapstructure:"test_jwt_secret"`
	LocalAuthMode   string        `mapstructure:"local_auth_mode" validate:"omitempty,oneof=hs256"`
	LocalAuthSecret string        `mapstructure:"local_auth_shared_secret"`
	JWKSCacheTTL    time.Duration `mapstructure:"jwks_cache_ttl" validate:"gt=0"`

	WSSendBuffer      int           `mapstructure:"ws_send_buffer" validate:"gt=0"`
	WSMaxMessageBytes int64         `mapstructure:"ws_max_message_bytes" validate:"gt=0"`
	WSRateLimit       float64       `mapstructure:"ws_rate_limit" validate:"gte=0"`
	WSRateBurst       int           `mapstructure:"ws_rate_burst" validate:"gte=0"`
	WSWriteTimeout    time.Duration `mapstructure:"ws_write_timeout" validate:"gt=0"`
	WSPingInterval    time.Duration `mapstructure:"ws_ping_interval" validate:"gt=0"`

	MutationTimeout     time.Duration `mapstructure:"mutation_timeout" validate:"gt=0"`
	MutationMaxAttempts int           `mapstructure:"mutation_max_attempts" validate:"gte=1"`

	EnqueueWorkers        int           `mapstructure:"enqueue_workers" validate:"gt=0"`
	EnqueueBuffer         int           `mapstructure:"enqueue_buffer" validate:"gt=0"`
	EnqueueTimeout        time.Duration `mapstructure:"enqueue_timeout" validate:"gt=0"`
	EnqueueHandoffTimeout time.Duration `mapstructure:"enqueue_handoff_timeout" validate:"gte=0"`
}

var defaults = map[string]any{
	"debug":                        false,
	"log_format":                   "text",
	"functions_customhandler_port": "8080",
	"cors_allowed_origins":         []string{"*"},
	"board_store":                  StoreMemory,
	"boards_table":                 "boards",
	"board_updates_channel":        consts.BoardUpdatesChannel,
	"deduper_ttl":                  24 * time.Hour,
	"jwks_cache_ttl":               15 * time.Minute,
	"ws_send_buffer":               64,
	"ws_max_message_bytes":         int64(1 << 20),
	"ws_rate_limit":                20.0,
	"ws_rate_burst":                40,
	"ws_write_timeout":             10 * time.Second,
	"ws_ping_interval":             30 * time.Second,
	"mutation_timeout":             10 * time.Second,
	"mutation_max_attempts":        5,
	"enqueue_workers":              4,
	"enqueue_buffer":               1024,
	"enqueue_timeout":              30 * time.Second,
	"enqueue_handoff_timeout":      15 * time.Millisecond,
}

// keys without a default still need binding so AutomaticEnv reaches Unmarshal.
var boundOnly = []string{
	"storage_connection_string",
	"database_url",
	"badger_dir",
	"board_events_queue",
	"redis_connection_string",
	"auth0_domain",
	"auth0_audience",
	"auth0_test_mode",
	"test_jwt_secret",
	"local_auth_mode",
	"local_auth_shared_secret",
}

var validate = validator.New()

// Load reads the environment, applies defaults and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	for _, key := range boundOnly {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.LocalAuthMode = strings.ToLower(cfg.LocalAuthMode)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	switch {
	case cfg.LocalAuthMode == "hs256" && cfg.LocalAuthSecret == "":
		return errors.New("LOCAL_AUTH_SHARED_SECRET must be set when LOCAL_AUTH_MODE=hs256")
	case cfg.LocalAuthMode == "" && cfg.Auth0TestMode && cfg.TestJWTSecret == "":
		return errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
	case !cfg.LocalJWT() && (cfg.Auth0Domain == "" || cfg.Auth0Audience == ""):
		return errors.New("missing Auth0 config")
	case cfg.BoardEventsQueue != "" && cfg.StorageConnectionString == "":
		return errors.New("BOARD_EVENTS_QUEUE requires STORAGE_CONNECTION_STRING")
	}
	return nil
}

// LocalJWT reports whether tokens are verified with a shared HS256 secret.
func (c *Config) LocalJWT() bool {
	return c.LocalAuthMode == "hs256" || c.Auth0TestMode
}

// JWTSecret returns the shared secret for local verification.
func (c *Config) JWTSecret() []byte {
	if c.LocalAuthMode == "hs256" {
		return []byte(c.LocalAuthSecret)
	}
	if c.Auth0TestMode {
		return []byte(c.TestJWTSecret)
	}
	return nil
}

// JWKSURL is the Auth0 key set endpoint.
func (c *Config) JWKSURL() string {
	return fmt.Sprintf("https://%s/.well-known/jwks.json", c.Auth0Domain)
}

// Issuer is the expected token issuer for Auth0 tokens.
func (c *Config) Issuer() string {
	return "https://" + c.Auth0Domain + "/"
}

// RedisOptions parses REDIS_CONNECTION_STRING. Both redis:// URLs and the
// Azure style "host:port,password=...,ssl=true" form are accepted.
// It returns nil when Redis is not configured.
func (c *Config) RedisOptions() *redis.Options {
	if c.RedisConnectionString == "" {
		return nil
	}
	return ParseRedisConnectionString(c.RedisConnectionString)
}

// ParseRedisConnectionString parses a redis URL or an Azure style connection string.
func ParseRedisConnectionString(conn string) *redis.Options {
	opts, err := redis.ParseURL(conn)
	if err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts = &redis.Options{Addr: parts[0]}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(kv[0]) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.ToLower(kv[1]) == "true" {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
