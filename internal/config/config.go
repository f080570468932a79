// Package config loads server settings from defaults, an optional .env file
// and TANSU_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Environments.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config holds server settings.
type Config struct {
	DBPath     string
	Addr       string
	BaseDomain string
	Env        string
	LogPath    string
	// LogLevel is the lowest level logged: debug, info, warn or error.
	LogLevel string

	// CookieSecure marks the session cookie Secure. Only local development
	// over plain HTTP turns it off.
	CookieSecure bool
	// TrustProxy takes the client address from X-Forwarded-For.
	TrustProxy bool
	BcryptCost int

	// Signing secrets. When empty they are loaded from (or generated into)
	// the database.
	SessionSecret  string
	RememberSecret string
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DBPath:       "tansu.sqlite3",
		Addr:         ":8080",
		Env:          EnvProduction,
		LogLevel:     "info",
		CookieSecure: true,
		BcryptCost:   bcrypt.DefaultCost,
	}
}

// Load reads envFile (if it exists) into the environment without overriding
// variables already set, then applies TANSU_* variables over the defaults.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv applies variables from lookup over the defaults.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	str("TANSU_DB", &cfg.DBPath)
	str("TANSU_ADDR", &cfg.Addr)
	str("TANSU_BASE_DOMAIN", &cfg.BaseDomain)
	str("TANSU_ENV", &cfg.Env)
	str("TANSU_LOG", &cfg.LogPath)
	str("TANSU_LOG_LEVEL", &cfg.LogLevel)
	str("TANSU_SESSION_SECRET", &cfg.SessionSecret)
	str("TANSU_REMEMBER_SECRET", &cfg.RememberSecret)

	for key, dst := range map[string]*bool{
		"TANSU_COOKIE_SECURE": &cfg.CookieSecure,
		"TANSU_TRUST_PROXY":   &cfg.TrustProxy,
	} {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return Config{}, fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	if v, ok := lookup("TANSU_BCRYPT_COST"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("TANSU_BCRYPT_COST: %w", err)
		}
		cfg.BcryptCost = n
	}

	return cfg, nil
}

// Production reports whether the server runs in production mode.
func (c Config) Production() bool {
	return c.Env == EnvProduction
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// Validate checks the settings for consistency.
func (c Config) Validate() error {
	if c.Env != EnvProduction && c.Env != EnvDevelopment {
		return fmt.Errorf("unknown environment %q", c.Env)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.Production() && !c.CookieSecure {
		return errors.New("insecure cookies are not allowed in production")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.SessionSecret != "" && c.SessionSecret == c.RememberSecret {
		return errors.New("session and remember secrets must differ")
	}
	return nil
}
