package authclient

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/joho/godotenv"
)

const (
	IdentityProviderToolkit = "identitytoolkit"
	IdentityProviderLocal   = "local"
)

// Config holds the environment driven settings for the session stack.
type Config struct {
	APIOrigin      string        `env:"CAMP_API_ORIGIN"      envDefault:"http://localhost:5173"`
	APIBasePath    string        `env:"CAMP_API_BASE_PATH"   envDefault:"/api"`
	HTTPTimeout    time.Duration `env:"CAMP_HTTP_TIMEOUT"    envDefault:"15s"`
	ResolveTimeout time.Duration `env:"CAMP_RESOLVE_TIMEOUT" envDefault:"15s"`
	SignUpCooldown time.Duration `env:"CAMP_SIGNUP_COOLDOWN" envDefault:"60s"`

	IdentityProvider    string        `env:"CAMP_IDENTITY_PROVIDER"     envDefault:"identitytoolkit"`
	IdentityAPIKey      string        `env:"CAMP_IDENTITY_API_KEY"`
	IdentityEndpoint    string        `env:"CAMP_IDENTITY_ENDPOINT"`
	SecureTokenEndpoint string        `env:"CAMP_SECURE_TOKEN_ENDPOINT"`
	LocalSigningKey     string        `env:"CAMP_LOCAL_SIGNING_KEY"`
	LocalTokenTTL       time.Duration `env:"CAMP_LOCAL_TOKEN_TTL"       envDefault:"1h"`

	LogLevel string `env:"CAMP_LOG_LEVEL" envDefault:"info"`
}

// LoadConfig loads the given .env files, skipping the ones that do not exist,
// then parses the environment. Variables already set win over file values.
func LoadConfig(files ...string) (Config, error) {
	var existing []string
	for _, file := range files {
		if file == "" {
			continue
		}
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}

	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return Config{}, fmt.Errorf("load env files: %w", err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.APIOrigin = strings.TrimSpace(cfg.APIOrigin)
	cfg.IdentityProvider = strings.ToLower(strings.TrimSpace(cfg.IdentityProvider))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	return cfg, nil
}

// BaseURL joins the API origin and base path.
func (c Config) BaseURL() string {
	origin := strings.TrimRight(c.APIOrigin, "/")
	path := strings.Trim(c.APIBasePath, "/")
	if path == "" {
		return origin
	}
	return origin + "/" + path
}

// Validate checks the configuration for the selected identity provider.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.APIOrigin, validation.Required, is.URL),
		validation.Field(&c.IdentityProvider, validation.Required, validation.In(IdentityProviderToolkit, IdentityProviderLocal)),
		validation.Field(&c.HTTPTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.SignUpCooldown, validation.Min(time.Duration(0))),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
	)
	if err != nil {
		return wrapSentinel(ErrInvalidConfig, err)
	}

	switch c.IdentityProvider {
	case IdentityProviderToolkit:
		if strings.TrimSpace(c.IdentityAPIKey) == "" {
			return wrapSentinel(ErrInvalidConfig, errors.New("CAMP_IDENTITY_API_KEY is required for identitytoolkit"))
		}
	case IdentityProviderLocal:
		if strings.TrimSpace(c.LocalSigningKey) == "" {
			return wrapSentinel(ErrInvalidConfig, errors.New("CAMP_LOCAL_SIGNING_KEY is required for local"))
		}
	}

	return nil
}
