package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kris-hansen/sheetsmith/utils/fileutil"
	"gopkg.in/yaml.v3"
)

// Config is the full sheetsmith configuration, usually read from
// ~/.sheetsmith/config.yaml.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Proposer ProposerConfig `yaml:"proposer"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Fallback FallbackConfig `yaml:"fallback"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ProposerConfig selects the local language model that drafts transformation plans
type ProposerConfig struct {
	Provider            string  `yaml:"provider"` // ollama, vllm or none
	Model               string  `yaml:"model"`
	Endpoint            string  `yaml:"endpoint"`
	TimeoutSeconds      int     `yaml:"timeoutSeconds"`
	MaxInstructionChars int     `yaml:"maxInstructionChars"`
	Temperature         float64 `yaml:"temperature"`
}

// PipelineConfig tunes inspection, gating and job concurrency
type PipelineConfig struct {
	SampleSize      int      `yaml:"sampleSize"`
	RequiredColumns []string `yaml:"requiredColumns,omitempty"` // Empty means every ideal column
	// PreferPlanMargin is added to the plan fill rate before comparing it with
	// the fallback fill rate.
	PreferPlanMargin   float64 `yaml:"preferPlanMargin"`
	MinTypeConformance float64 `yaml:"minTypeConformance"`
	IOTimeoutSeconds   int     `yaml:"ioTimeoutSeconds"`
	MaxConcurrentJobs  int     `yaml:"maxConcurrentJobs"`
}

// FallbackConfig points at an alternative rule catalogue
type FallbackConfig struct {
	CataloguePath string `yaml:"cataloguePath,omitempty"`
}

// LoggingConfig controls the zap logger and its optional rotating file
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file,omitempty"`
	JSON       bool   `yaml:"json"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

const (
	ProviderOllama = "ollama"
	ProviderVLLM   = "vllm"
	ProviderNone   = "none"
)

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Server: defaultServerConfig(),
		Proposer: ProposerConfig{
			Provider:            ProviderOllama,
			Model:               "llama3:instruct",
			TimeoutSeconds:      60,
			MaxInstructionChars: 4000,
		},
		Pipeline: PipelineConfig{
			SampleSize:        20,
			IOTimeoutSeconds:  30,
			MaxConcurrentJobs: 4,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  15,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
	}
}

// GetConfigPath returns the config location, honouring SHEETSMITH_CONFIG
func GetConfigPath() string {
	if p := os.Getenv("SHEETSMITH_CONFIG"); p != "" {
		if expanded, err := fileutil.ExpandPath(p); err == nil {
			return expanded
		}
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".sheetsmith", "config.yaml")
	}
	return filepath.Join(home, ".sheetsmith", "config.yaml")
}

// Load reads the YAML file at path on top of the defaults. A missing file is
// not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("error parsing config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			DebugLog("No config file at %s, using defaults", path)
		default:
			return nil, fmt.Errorf("error reading config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML, creating the parent directory
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("error writing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SHEETSMITH_JOBS_DIR"); v != "" {
		c.Server.JobsDir = v
	}
	if v := os.Getenv("SHEETSMITH_PROVIDER"); v != "" {
		c.Proposer.Provider = v
	}
	if v := os.Getenv("SHEETSMITH_MODEL"); v != "" {
		c.Proposer.Model = v
	}
	if v := os.Getenv("SHEETSMITH_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
	if c.Proposer.Endpoint == "" {
		switch c.Proposer.Provider {
		case ProviderOllama:
			c.Proposer.Endpoint = os.Getenv("OLLAMA_HOST")
		case ProviderVLLM:
			c.Proposer.Endpoint = os.Getenv("VLLM_ENDPOINT")
		}
	}
}

func (c *Config) normalize() error {
	c.Proposer.Provider = strings.ToLower(strings.TrimSpace(c.Proposer.Provider))
	if c.Proposer.Endpoint == "" {
		switch c.Proposer.Provider {
		case ProviderOllama:
			c.Proposer.Endpoint = "http://localhost:11434"
		case ProviderVLLM:
			c.Proposer.Endpoint = "http://localhost:8000"
		}
	}

	jobsDir, err := fileutil.ExpandPath(c.Server.JobsDir)
	if err != nil {
		return fmt.Errorf("invalid jobs directory %q: %w", c.Server.JobsDir, err)
	}
	c.Server.JobsDir = jobsDir

	if c.Logging.File != "" {
		logFile, err := fileutil.ExpandPath(c.Logging.File)
		if err != nil {
			return fmt.Errorf("invalid log file %q: %w", c.Logging.File, err)
		}
		c.Logging.File = logFile
	}
	if c.Fallback.CataloguePath != "" {
		p, err := fileutil.ExpandPath(c.Fallback.CataloguePath)
		if err != nil {
			return fmt.Errorf("invalid catalogue path %q: %w", c.Fallback.CataloguePath, err)
		}
		c.Fallback.CataloguePath = p
	}
	return nil
}

// Validate rejects values the pipeline cannot run with
func (c *Config) Validate() error {
	var problems []string

	switch c.Proposer.Provider {
	case ProviderOllama, ProviderVLLM, ProviderNone:
	default:
		problems = append(problems, fmt.Sprintf("proposer.provider must be ollama, vllm or none (got %q)", c.Proposer.Provider))
	}
	if c.Proposer.Provider != ProviderNone && c.Proposer.Model == "" {
		problems = append(problems, "proposer.model is required")
	}
	if c.Proposer.TimeoutSeconds <= 0 {
		problems = append(problems, "proposer.timeoutSeconds must be positive")
	}
	if c.Proposer.MaxInstructionChars < 0 {
		problems = append(problems, "proposer.maxInstructionChars cannot be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.JobsDir == "" {
		problems = append(problems, "server.jobsDir is required")
	}
	if c.Server.Enabled && c.Server.BearerToken == "" {
		problems = append(problems, "server.bearerToken is required when authentication is enabled")
	}
	if c.Pipeline.SampleSize <= 0 {
		problems = append(problems, "pipeline.sampleSize must be positive")
	}
	if c.Pipeline.PreferPlanMargin < -1 || c.Pipeline.PreferPlanMargin > 1 {
		problems = append(problems, "pipeline.preferPlanMargin must be within [-1, 1]")
	}
	if c.Pipeline.MinTypeConformance < 0 || c.Pipeline.MinTypeConformance > 1 {
		problems = append(problems, "pipeline.minTypeConformance must be within [0, 1]")
	}
	if c.Pipeline.IOTimeoutSeconds <= 0 {
		problems = append(problems, "pipeline.ioTimeoutSeconds must be positive")
	}
	if c.Pipeline.MaxConcurrentJobs <= 0 {
		problems = append(problems, "pipeline.maxConcurrentJobs must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Timeout is the bound on the single plan proposal call
func (p ProposerConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// IOTimeout bounds each file read or write stage of a job
func (p PipelineConfig) IOTimeout() time.Duration {
	return time.Duration(p.IOTimeoutSeconds) * time.Second
}
