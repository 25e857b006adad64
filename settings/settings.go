// Package settings loads the configuration of the hoot binary: an optional
// YAML file overlaid by environment variables. Environment values win over
// file values, which win over defaults.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/casualjim/hoot/chat"
	"github.com/casualjim/hoot/provider"
	"gopkg.in/yaml.v3"
)

const (
	DefaultModel    = "mock-echo"
	DefaultAddr     = "127.0.0.1:8787"
	DefaultLogLevel = "info"
)

// Provider holds the credentials of one remote provider.
type Provider struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// Limits overrides the stream limits. Zero values keep the defaults.
type Limits struct {
	HardTimeout time.Duration `yaml:"hard_timeout,omitempty"`
	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty"`
	MaxRetries  int           `yaml:"max_retries,omitempty"`
	RetryDelay  time.Duration `yaml:"retry_delay,omitempty"`
}

// Settings is the resolved configuration.
type Settings struct {
	OpenAI   Provider `yaml:"openai"`
	DeepSeek Provider `yaml:"deepseek"`
	Policy   string   `yaml:"provider_policy,omitempty"`
	Model    string   `yaml:"model,omitempty"`
	DB       string   `yaml:"db,omitempty"`
	LogLevel string   `yaml:"log_level,omitempty"`
	Addr     string   `yaml:"addr,omitempty"`
	NATSURL  string   `yaml:"nats_url,omitempty"`
	Limits   Limits   `yaml:"limits,omitempty"`
}

var _ chat.Credentials = (*Settings)(nil)

// DefaultPath is the settings file used when no path is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "hoot.yaml"
	}
	return filepath.Join(dir, "hoot", "hoot.yaml")
}

// DefaultDB is the transcript database used when none is configured.
func DefaultDB() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "hoot.db"
	}
	return filepath.Join(dir, "hoot", "sessions.db")
}

// Load reads path, when it exists, and overlays the environment. A missing
// file is not an error.
func Load(path string) (Settings, error) {
	var file Settings
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Settings{}, fmt.Errorf("read settings %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &file); err != nil {
				return Settings{}, fmt.Errorf("parse settings %s: %w", path, err)
			}
		}
	}

	s := Settings{
		OpenAI: Provider{
			APIKey:  firstNonEmpty(os.Getenv("OPENAI_API_KEY"), file.OpenAI.APIKey),
			BaseURL: firstNonEmpty(os.Getenv("OPENAI_BASE_URL"), file.OpenAI.BaseURL),
		},
		DeepSeek: Provider{
			APIKey:  firstNonEmpty(os.Getenv("DEEPSEEK_API_KEY"), file.DeepSeek.APIKey),
			BaseURL: firstNonEmpty(os.Getenv("DEEPSEEK_BASE_URL"), file.DeepSeek.BaseURL),
		},
		Policy:   firstNonEmpty(os.Getenv("HOOT_PROVIDER_POLICY"), file.Policy, string(chat.PolicyAuto)),
		Model:    firstNonEmpty(os.Getenv("HOOT_MODEL"), file.Model, DefaultModel),
		DB:       firstNonEmpty(os.Getenv("HOOT_DB"), file.DB, DefaultDB()),
		LogLevel: firstNonEmpty(os.Getenv("HOOT_LOG_LEVEL"), file.LogLevel, DefaultLogLevel),
		Addr:     firstNonEmpty(os.Getenv("HOOT_ADDR"), file.Addr, DefaultAddr),
		NATSURL:  firstNonEmpty(os.Getenv("NATS_URL"), file.NATSURL),
		Limits:   file.Limits,
	}
	if _, err := chat.ParsePolicy(s.Policy); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Lookup implements chat.Credentials.
func (s *Settings) Lookup(key string) (string, bool) {
	var v string
	switch key {
	case chat.OpenAIKey:
		v = s.OpenAI.APIKey
	case chat.DeepSeekKey:
		v = s.DeepSeek.APIKey
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// ProviderPolicy returns the parsed provider policy.
func (s *Settings) ProviderPolicy() chat.Policy {
	p, err := chat.ParsePolicy(s.Policy)
	if err != nil {
		return chat.PolicyAuto
	}
	return p
}

// StreamLimits applies the configured overrides to chat.DefaultLimits.
func (s *Settings) StreamLimits() provider.Limits {
	l := chat.DefaultLimits()
	if s.Limits.HardTimeout > 0 {
		l.HardTimeout = s.Limits.HardTimeout
	}
	if s.Limits.IdleTimeout > 0 {
		l.IdleTimeout = s.Limits.IdleTimeout
	}
	if s.Limits.MaxRetries > 0 {
		l.MaxRetries = s.Limits.MaxRetries
	}
	if s.Limits.RetryDelay > 0 {
		l.RetryDelay = s.Limits.RetryDelay
	}
	return l
}

// Level parses the log level; unknown values select info.
func (s *Settings) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Save writes the file-backed part of the settings to path.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
