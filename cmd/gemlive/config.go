package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/enesunal-m/gemlive"
	"github.com/enesunal-m/gemlive/observe"
)

// fileConfig is the on-disk configuration. Environment variables override it.
type fileConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`
	Endpoint     string `yaml:"endpoint,omitempty"`
	APIVersion   string `yaml:"api_version,omitempty"`
	Model        string `yaml:"model,omitempty"`
	Voice        string `yaml:"voice,omitempty"`
	Instructions string `yaml:"instructions,omitempty"`
	WakePhrase   string `yaml:"wake_phrase,omitempty"`
	SleepAfter   string `yaml:"sleep_after,omitempty"`
	Camera       bool   `yaml:"camera"`
	DialRetries  int    `yaml:"dial_retries,omitempty"`

	Observer observerConfig `yaml:"observer"`
	Log      logConfig      `yaml:"log"`
}

type observerConfig struct {
	Addr           string   `yaml:"addr,omitempty"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	OIDC           struct {
		Issuer    string `yaml:"issuer,omitempty"`
		Audience  string `yaml:"audience,omitempty"`
		TokenType string `yaml:"token_type,omitempty"`
	} `yaml:"oidc"`
}

type logConfig struct {
	Level      string `yaml:"level,omitempty"`
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	MaxAgeDays int    `yaml:"max_age_days,omitempty"`
	Compress   bool   `yaml:"compress"`
}

func defaultConfig() fileConfig {
	return fileConfig{
		Model: gemlive.DefaultModel,
		Voice: gemlive.DefaultVoice,
		Log:   logConfig{Level: "INFO", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 7},
	}
}

// loadConfig reads path over the defaults and applies environment overrides.
// A missing file is fine unless required is set.
func loadConfig(path string, required bool) (fileConfig, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !required:
		default:
			return cfg, fmt.Errorf("read config: %w", err)
		}
	}
	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

func (c *fileConfig) applyEnv(getenv func(string) string) {
	set := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	set(&c.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	set(&c.Endpoint, "GEMLIVE_ENDPOINT")
	set(&c.APIVersion, "GEMLIVE_API_VERSION")
	set(&c.Model, "GEMLIVE_MODEL")
	set(&c.Voice, "GEMLIVE_VOICE")
	set(&c.WakePhrase, "GEMLIVE_WAKE_PHRASE")
	set(&c.SleepAfter, "GEMLIVE_SLEEP_AFTER")
	set(&c.Observer.Addr, "GEMLIVE_OBSERVER_ADDR")
	set(&c.Observer.OIDC.Issuer, "OIDC_ISSUER")
	set(&c.Observer.OIDC.Audience, "OIDC_AUDIENCE")
	set(&c.Observer.OIDC.TokenType, "OIDC_TOKEN_TYPE")
	set(&c.Log.Level, "GEMLIVE_LOG_LEVEL")
	set(&c.Log.File, "GEMLIVE_LOG_FILE")
	if ao := getenv("CORS_ALLOWED_ORIGINS"); ao != "" {
		c.Observer.AllowedOrigins = splitCSV(ao)
	}
}

func (c fileConfig) sleepAfter() (time.Duration, error) {
	if c.SleepAfter == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.SleepAfter)
	if err != nil {
		return 0, gemlive.NewConfigError("sleep_after", c.SleepAfter, "must be a duration such as 30s")
	}
	return d, nil
}

func (c fileConfig) transport(log *gemlive.Logger) gemlive.Config {
	return gemlive.Config{
		Endpoint:   c.Endpoint,
		APIVersion: c.APIVersion,
		Credential: gemlive.APIKey(c.APIKey),
		Logger:     log,
	}
}

func (c fileConfig) retry() gemlive.RetryConfig {
	if c.DialRetries <= 0 {
		return gemlive.RetryConfig{}
	}
	r := gemlive.DefaultRetryConfig()
	r.MaxRetries = c.DialRetries
	return r
}

func (c fileConfig) setup() gemlive.Setup {
	return gemlive.Setup{Model: c.Model, Voice: c.Voice, Instructions: c.Instructions}
}

func (c fileConfig) oidc() (observe.OIDCConfig, bool) {
	o := c.Observer.OIDC
	return observe.OIDCConfig{Issuer: o.Issuer, Audience: o.Audience, TokenType: o.TokenType}, o.Issuer != ""
}

func (c fileConfig) logger() *gemlive.Logger {
	level := gemlive.ParseLogLevel(c.Log.Level)
	if c.Log.File != "" {
		return gemlive.NewFileLogger(level, c.Log.File, c.Log.MaxSizeMB, c.Log.MaxBackups, c.Log.MaxAgeDays, c.Log.Compress)
	}
	return gemlive.NewLogger(level)
}

// redacted returns a copy safe to print.
func (c fileConfig) redacted() fileConfig {
	if c.APIKey != "" {
		c.APIKey = "***"
	}
	return c
}

func (c fileConfig) marshal() ([]byte, error) {
	return yaml.MarshalWithOptions(c, yaml.Indent(2))
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
