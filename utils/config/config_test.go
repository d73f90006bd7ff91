package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("SHEETSMITH_JOBS_DIR", "")
	t.Setenv("OLLAMA_HOST", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8001, cfg.Server.Port)
	assert.Equal(t, ProviderOllama, cfg.Proposer.Provider)
	assert.Equal(t, "llama3:instruct", cfg.Proposer.Model)
	assert.Equal(t, "http://localhost:11434", cfg.Proposer.Endpoint)
	assert.Equal(t, 4000, cfg.Proposer.MaxInstructionChars)
	assert.Equal(t, 20, cfg.Pipeline.SampleSize)
	assert.True(t, cfg.Server.AutoFinalize)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	t.Setenv("SHEETSMITH_JOBS_DIR", "")
	t.Setenv("VLLM_ENDPOINT", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
  jobsDir: /tmp/sheetsmith-jobs
proposer:
  provider: VLLM
  model: qwen2.5-7b-instruct
  timeoutSeconds: 5
pipeline:
  requiredColumns: [ID, Price]
  preferPlanMargin: 0.1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/sheetsmith-jobs", cfg.Server.JobsDir)
	assert.Equal(t, ProviderVLLM, cfg.Proposer.Provider)
	assert.Equal(t, "http://localhost:8000", cfg.Proposer.Endpoint)
	assert.Equal(t, []string{"ID", "Price"}, cfg.Pipeline.RequiredColumns)
	assert.InDelta(t, 0.1, cfg.Pipeline.PreferPlanMargin, 1e-9)
	assert.Equal(t, 20, cfg.Pipeline.SampleSize, "unset keys keep their defaults")
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("SHEETSMITH_JOBS_DIR", "/var/lib/sheetsmith")
	t.Setenv("SHEETSMITH_MODEL", "mistral")
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/sheetsmith", cfg.Server.JobsDir)
	assert.Equal(t, "mistral", cfg.Proposer.Model)
	assert.Equal(t, "http://gpu-box:11434", cfg.Proposer.Endpoint)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Proposer.Provider = "bedrock" },
			wantErr: "proposer.provider",
		},
		{
			name:    "auth without token",
			mutate:  func(c *Config) { c.Server.Enabled = true },
			wantErr: "bearerToken",
		},
		{
			name:    "conformance above one",
			mutate:  func(c *Config) { c.Pipeline.MinTypeConformance = 1.5 },
			wantErr: "minTypeConformance",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.Pipeline.MaxConcurrentJobs = 0 },
			wantErr: "maxConcurrentJobs",
		},
		{
			name: "provider none needs no model",
			mutate: func(c *Config) {
				c.Proposer.Provider = ProviderNone
				c.Proposer.Model = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("SHEETSMITH_JOBS_DIR", "")
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Server.Port = 7000
	cfg.Proposer.Provider = ProviderNone
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, loaded.Server.Port)
	assert.Equal(t, ProviderNone, loaded.Proposer.Provider)
}

func TestInitLoggingToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "sheetsmith.log")
	t.Cleanup(func() { SetLogger(nil) })

	l, err := InitLogging(LoggingConfig{Level: "info", File: logPath, MaxSizeMB: 1})
	require.NoError(t, err)
	l.Info("hello")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}

func TestInitLoggingRejectsBadLevel(t *testing.T) {
	_, err := InitLogging(LoggingConfig{Level: "chatty"})
	assert.Error(t, err)
}
