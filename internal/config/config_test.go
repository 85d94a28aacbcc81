package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"PORT":               "9090",
		"STORE_BACKEND":      "postgres",
		"DATABASE_URL":       "postgres://localhost/saathimed",
		"TRIAGE_STRATEGY":    "ai",
		"OPENAI_API_KEY":     "sk-openai",
		"AI_TIMEOUT":         "5s",
		"DOCTOR_CHAT_ID":     "-100123",
		"TELEGRAM_BOT_TOKEN": "tok",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "sk-openai", cfg.AI.APIKey)
	assert.Equal(t, 5*time.Second, cfg.AI.Timeout)
	assert.Equal(t, int64(-100123), cfg.Telegram.DoctorChatID)
	assert.True(t, cfg.Telegram.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv_DeepSeekKeyWins(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.applyEnv(envMap(map[string]string{
		"DEEPSEEK_API_KEY": "sk-deepseek",
		"OPENAI_API_KEY":   "sk-openai",
	})))
	assert.Equal(t, "sk-deepseek", cfg.AI.APIKey)
}

func TestApplyEnv_BadValues(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"AI_TIMEOUT":     "soon",
		"DOCTOR_CHAT_ID": "doctor",
	}))

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 2)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = BackendFirestore
	cfg.AI.Strategy = "ai"
	cfg.LogLevel = "loud"
	cfg.LogFormat = "xml"

	var merr *multierror.Error
	require.ErrorAs(t, cfg.Validate(), &merr)
	assert.Len(t, merr.Errors, 4)
}

func TestValidate_UnknownNames(t *testing.T) {
	cfg := Default()
	cfg.Store.Backend = "redis"
	cfg.AI.Strategy = "oracle"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"redis"`)
	assert.Contains(t, err.Error(), `"oracle"`)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saathimed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7000"
log_format: json
store:
  backend: firestore
  firestore_project_id: saathi-dev
ai:
  strategy: rules
  timeout: 3s
`), 0o600))
	chdir(t, dir)
	t.Setenv("PORT", "7100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "7100", cfg.Port, "environment overrides the file")
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, BackendFirestore, cfg.Store.Backend)
	assert.Equal(t, "saathi-dev", cfg.Store.FirestoreProjectID)
	assert.Equal(t, "patients", cfg.Store.FirestoreCollection)
	assert.Equal(t, 3*time.Second, cfg.AI.Timeout)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=debug\n"), 0o600))
	chdir(t, dir)
	t.Setenv("LOG_LEVEL", "")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
