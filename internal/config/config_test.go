package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every key Load reads, restoring the values after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for key := range defaults {
		name := strings.ToUpper(key)
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, "5000", cfg.HTTPPort)
	assert.Equal(t, 10*time.Second, cfg.GenerationTimeout)
	assert.Equal(t, time.Minute, cfg.RequestTimeout)
	assert.Equal(t, StoreSQLite, cfg.StoreDriver)
	assert.Equal(t, "apex.db", cfg.DatabaseURL)
	assert.Equal(t, AuthNone, cfg.AuthMode)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "gemini-1.5-flash", cfg.GeminiModel)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "apex.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
http_port = "7000"
database_url = "file.db"
generation_timeout = "3s"
cors_origins = "http://localhost:3000,https://apex.example.com"
`), 0o600))

	t.Setenv("DATABASE_URL", "env.db")
	t.Setenv("GENERATION_RPS", "2.5")

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.HTTPPort)
	assert.Equal(t, "env.db", cfg.DatabaseURL)
	assert.Equal(t, 3*time.Second, cfg.GenerationTimeout)
	assert.Equal(t, 2.5, cfg.GenerationRPS)
	assert.Equal(t, []string{"http://localhost:3000", "https://apex.example.com"}, cfg.CORSOrigins)
}

func TestLoad_CORSOriginsFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("CORS_ORIGINS", "http://localhost:3000, https://apex.example.com ,")

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://localhost:3000", "https://apex.example.com"}, cfg.CORSOrigins)
}

func TestLoad_CORSOriginsAsTOMLArray(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "apex.toml")
	require.NoError(t, os.WriteFile(path, []byte(`cors_origins = ["https://a.example.com", "https://b.example.com"]`), 0o600))

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSOrigins)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("GEMINI_API_KEY=from-dotenv\nAUTH_MODE=jwt\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("GEMINI_API_KEY")
		os.Unsetenv("AUTH_MODE")
	})

	cfg, err := Load("", path)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.GeminiAPIKey)
	assert.Equal(t, AuthJWT, cfg.AuthMode)

	_, err = Load("", filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			GeminiAPIKey:      "key",
			GenerationTimeout: time.Second,
			RequestTimeout:    time.Minute,
			StoreDriver:       StoreSQLite,
			DatabaseURL:       "apex.db",
			AuthMode:          AuthNone,
		}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(c *Config){
		"missing api key":       func(c *Config) { c.GeminiAPIKey = "" },
		"zero timeout":          func(c *Config) { c.GenerationTimeout = 0 },
		"short request timeout": func(c *Config) { c.RequestTimeout = time.Millisecond },
		"unknown driver":        func(c *Config) { c.StoreDriver = "mongo" },
		"firestore w/o project": func(c *Config) { c.StoreDriver = StoreFirestore },
		"jwt w/o secret":        func(c *Config) { c.AuthMode = AuthJWT },
		"firebase w/o project":  func(c *Config) { c.AuthMode = AuthFirebase },
		"unknown auth":          func(c *Config) { c.AuthMode = "basic" },
	}
	for name, mutate := range tests {
		c := valid()
		mutate(c)
		assert.Error(t, c.Validate(), name)
	}

	c := valid()
	c.AuthMode = AuthFirebase
	c.FirebaseProjectID = "apex"
	assert.NoError(t, c.Validate())
	assert.True(t, c.UsesFirebase())
	assert.False(t, valid().UsesFirebase())
}
