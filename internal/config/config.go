package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"
)

const (
	StoreSQLite    = "sqlite"
	StoreFirestore = "firestore"

	AuthNone     = "none"
	AuthJWT      = "jwt"
	AuthFirebase = "firebase"
)

type Config struct {
	GeminiAPIKey      string        `koanf:"gemini_api_key"`
	GeminiModel       string        `koanf:"gemini_model"`
	GenerationTimeout time.Duration `koanf:"generation_timeout"`
	GenerationRPS     float64       `koanf:"generation_rps"`

	HTTPPort       string        `koanf:"http_port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	CORSOrigins    []string      `koanf:"cors_origins"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`

	StoreDriver       string `koanf:"store_driver"`
	DatabaseURL       string `koanf:"database_url"`
	FirebaseProjectID string `koanf:"firebase_project_id"`

	AuthMode  string `koanf:"auth_mode"`
	JWTSecret string `koanf:"jwt_secret"`
}

// defaults also lists every key read from the environment.
var defaults = map[string]interface{}{
	"gemini_api_key":      "",
	"gemini_model":        "gemini-1.5-flash",
	"generation_timeout":  "10s",
	"generation_rps":      0,
	"http_port":           "5000",
	"request_timeout":     "60s",
	"cors_origins":        "*",
	"log_level":           "info",
	"log_format":          "json",
	"store_driver":        StoreSQLite,
	"database_url":        "apex.db",
	"firebase_project_id": "",
	"auth_mode":           AuthNone,
	"jwt_secret":          "",
}

// Load layers defaults, an optional TOML file and the environment, in that order.
// envFile names a dotenv file to load first; when empty, ./.env is used if present.
func Load(configFile, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("error loading env file %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, relying on environment variables")
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if configFile != "" {
		if err := k.Load(file.Provider(configFile), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	}

	err := k.Load(env.Provider("", ".", func(s string) string {
		key := strings.ToLower(s)
		if _, ok := defaults[key]; ok {
			return key
		}
		return ""
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var cfg Config
	err = k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc()),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	return &cfg, nil
}

// splitList trims each entry and drops empty ones.
func splitList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks the settings needed to serve requests.
func (c *Config) Validate() error {
	var errs []error
	if c.GeminiAPIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY environment variable is required"))
	}
	if c.GenerationTimeout <= 0 {
		errs = append(errs, errors.New("GENERATION_TIMEOUT must be positive"))
	}
	if c.RequestTimeout < c.GenerationTimeout {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must not be shorter than GENERATION_TIMEOUT"))
	}
	if err := c.ValidateStore(); err != nil {
		errs = append(errs, err)
	}
	switch c.AuthMode {
	case AuthNone:
	case AuthJWT:
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET environment variable is required when AUTH_MODE=jwt"))
		}
	case AuthFirebase:
		if c.FirebaseProjectID == "" {
			errs = append(errs, errors.New("FIREBASE_PROJECT_ID environment variable is required when AUTH_MODE=firebase"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode))
	}
	return errors.Join(errs...)
}

// ValidateStore checks only the storage settings.
func (c *Config) ValidateStore() error {
	switch c.StoreDriver {
	case StoreSQLite:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=sqlite")
		}
	case StoreFirestore:
		if c.FirebaseProjectID == "" {
			return errors.New("FIREBASE_PROJECT_ID is required when STORE_DRIVER=firestore")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	return nil
}

// UsesFirebase reports whether a Firebase app has to be initialised.
func (c *Config) UsesFirebase() bool {
	return c.StoreDriver == StoreFirestore || c.AuthMode == AuthFirebase
}
