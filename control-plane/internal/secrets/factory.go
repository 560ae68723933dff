// Package secrets resolves credentials for outbound calls, currently the
// diagnostic oracle's bearer token.
//
// # Backends
//
//	env        read an environment variable (default SELFHEAL_ORACLE_TOKEN)
//	file       read a local file, trimming surrounding whitespace
//	1password  read a field of an item through 1Password Connect
//	auto       1password when OP_CONNECT_HOST and OP_CONNECT_TOKEN are set,
//	           otherwise env
package secrets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// ErrNotFound is returned when a backend has no value for the token.
var ErrNotFound = errors.New("secret not found")

// Backend names.
const (
	BackendAuto        = "auto"
	BackendEnv         = "env"
	BackendFile        = "file"
	BackendOnePassword = "1password"
)

// TokenSource yields a bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config holds configuration for the secrets backend.
type Config struct {
	// Backend is one of "auto" (default), "env", "file", "1password".
	Backend string `yaml:"backend"`

	// EnvVar names the variable for the env backend.
	EnvVar string `yaml:"env_var"`

	// File is the path for the file backend.
	File string `yaml:"file"`

	// 1Password Connect configuration.
	// Host and token are usually set via OP_CONNECT_HOST / OP_CONNECT_TOKEN.
	OnePasswordHost  string `yaml:"onepassword_host"`
	OnePasswordToken string `yaml:"-"`
	OnePasswordVault string `yaml:"onepassword_vault"`
	OnePasswordItem  string `yaml:"onepassword_item"`
	OnePasswordField string `yaml:"onepassword_field"`
}

// Default values.
const (
	DefaultEnvVar           = "SELFHEAL_ORACLE_TOKEN"
	DefaultOnePasswordItem  = "selfheal oracle"
	DefaultOnePasswordField = "credential"
)

// ApplyEnv fills unset fields from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SELFHEAL_SECRETS_BACKEND"); v != "" {
		c.Backend = v
	}
	if c.OnePasswordHost == "" {
		c.OnePasswordHost = os.Getenv("OP_CONNECT_HOST")
	}
	if c.OnePasswordToken == "" {
		c.OnePasswordToken = os.Getenv("OP_CONNECT_TOKEN")
	}
	if c.OnePasswordVault == "" {
		c.OnePasswordVault = os.Getenv("OP_VAULT_ID")
	}
}

// New creates a TokenSource based on configuration.
func New(cfg Config, logger *slog.Logger) (TokenSource, error) {
	logger = logger.With("component", "secrets")

	if cfg.EnvVar == "" {
		cfg.EnvVar = DefaultEnvVar
	}
	backend := cfg.Backend
	if backend == "" {
		backend = BackendAuto
	}

	switch backend {
	case BackendEnv:
		return EnvSource{Var: cfg.EnvVar}, nil

	case BackendFile:
		if cfg.File == "" {
			return nil, fmt.Errorf("file backend requested but no file configured")
		}
		return FileSource{Path: cfg.File}, nil

	case BackendOnePassword:
		return NewOnePasswordSource(cfg, logger)

	case BackendAuto:
		if cfg.OnePasswordHost != "" && cfg.OnePasswordToken != "" {
			src, err := NewOnePasswordSource(cfg, logger)
			if err != nil {
				logger.Warn("failed to initialize 1Password, falling back to env",
					"error", err)
				return EnvSource{Var: cfg.EnvVar}, nil
			}
			return src, nil
		}
		logger.Debug("1Password Connect not configured, using env token", "var", cfg.EnvVar)
		return EnvSource{Var: cfg.EnvVar}, nil

	default:
		return nil, fmt.Errorf("unknown secrets backend: %s", backend)
	}
}
