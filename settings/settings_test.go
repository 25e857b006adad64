package settings

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/casualjim/hoot/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"OPENAI_API_KEY", "OPENAI_BASE_URL", "DEEPSEEK_API_KEY", "DEEPSEEK_BASE_URL",
	"HOOT_PROVIDER_POLICY", "HOOT_MODEL", "HOOT_DB", "HOOT_LOG_LEVEL", "HOOT_ADDR", "NATS_URL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hoot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		clearEnv(t)
		s, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, string(chat.PolicyAuto), s.Policy)
		assert.Equal(t, DefaultModel, s.Model)
		assert.Equal(t, DefaultAddr, s.Addr)
		assert.Equal(t, slog.LevelInfo, s.Level())
		assert.Equal(t, chat.DefaultLimits(), s.StreamLimits())

		_, ok := s.Lookup(chat.OpenAIKey)
		assert.False(t, ok)
	})

	t.Run("file values", func(t *testing.T) {
		clearEnv(t)
		path := writeFile(t, `
openai:
  api_key: sk-file
deepseek:
  api_key: ds-file
  base_url: http://localhost:9000/v1
provider_policy: mock
model: mock-file
log_level: debug
limits:
  idle_timeout: 5s
  max_retries: 3
`)
		s, err := Load(path)
		require.NoError(t, err)

		key, ok := s.Lookup(chat.OpenAIKey)
		assert.True(t, ok)
		assert.Equal(t, "sk-file", key)
		key, ok = s.Lookup(chat.DeepSeekKey)
		assert.True(t, ok)
		assert.Equal(t, "ds-file", key)
		assert.Equal(t, "http://localhost:9000/v1", s.DeepSeek.BaseURL)
		assert.Equal(t, chat.PolicyMock, s.ProviderPolicy())
		assert.Equal(t, "mock-file", s.Model)
		assert.Equal(t, slog.LevelDebug, s.Level())

		limits := s.StreamLimits()
		assert.Equal(t, 5*time.Second, limits.IdleTimeout)
		assert.Equal(t, 3, limits.MaxRetries)
		assert.Equal(t, chat.DefaultHardTimeout, limits.HardTimeout)
	})

	t.Run("environment wins over file", func(t *testing.T) {
		clearEnv(t)
		path := writeFile(t, "openai:\n  api_key: sk-file\nmodel: mock-file\n")
		t.Setenv("OPENAI_API_KEY", "sk-env")
		t.Setenv("HOOT_MODEL", "gpt-4o-mini")
		t.Setenv("NATS_URL", "nats://localhost:4222")

		s, err := Load(path)
		require.NoError(t, err)
		key, _ := s.Lookup(chat.OpenAIKey)
		assert.Equal(t, "sk-env", key)
		assert.Equal(t, "gpt-4o-mini", s.Model)
		assert.Equal(t, "nats://localhost:4222", s.NATSURL)
	})

	t.Run("invalid policy", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("HOOT_PROVIDER_POLICY", "anthropic")
		_, err := Load("")
		require.Error(t, err)
	})

	t.Run("malformed file", func(t *testing.T) {
		clearEnv(t)
		_, err := Load(writeFile(t, "openai: [unterminated"))
		require.Error(t, err)
	})
}

func TestSettings_SaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "hoot.yaml")
	s := Settings{OpenAI: Provider{APIKey: "sk-saved"}, Model: "gpt-4o", Policy: "openai"}
	require.NoError(t, s.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	key, ok := loaded.Lookup(chat.OpenAIKey)
	assert.True(t, ok)
	assert.Equal(t, "sk-saved", key)
	assert.Equal(t, chat.PolicyOpenAI, loaded.ProviderPolicy())
}

func TestSettings_BlankKeyIsMissing(t *testing.T) {
	s := Settings{OpenAI: Provider{APIKey: "   "}}
	_, ok := s.Lookup(chat.OpenAIKey)
	assert.False(t, ok)
	_, ok = s.Lookup("unknown.apiKey")
	assert.False(t, ok)
}
