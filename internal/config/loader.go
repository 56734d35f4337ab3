package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	// HTTP listen address for the orchestration API.
	Addr string `json:"addr" yaml:"addr" toml:"addr" env:"ORCHD_ADDR"`
	// Host backends bind and are probed on.
	BackendHost string `json:"backend_host" yaml:"backend_host" toml:"backend_host" env:"ORCHD_BACKEND_HOST"`
	// Path to the backend server binary (llama-server).
	ServerBin string `json:"server_bin" yaml:"server_bin" toml:"server_bin" env:"ORCHD_SERVER_BIN"`
	// Directory scanned for *.gguf model files.
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir" env:"ORCHD_MODELS_DIR"`
	// Default model for roles with no explicit mapping.
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model" env:"ORCHD_DEFAULT_MODEL"`
	// Role tag -> model id.
	Roles map[string]string `json:"roles" yaml:"roles" toml:"roles"`
	// Model id -> fixed port.
	Ports map[string]int `json:"ports" yaml:"ports" toml:"ports"`
	// Role asked to repair failed plans; empty disables auto-correction.
	CorrectionRole string `json:"correction_role" yaml:"correction_role" toml:"correction_role" env:"ORCHD_CORRECTION_ROLE"`

	// Backend launch parameters.
	CtxSize   int `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size" env:"ORCHD_CTX_SIZE"`
	GPULayers int `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers" env:"ORCHD_GPU_LAYERS"`

	// Timings. Durations accept Go syntax ("3s", "500ms").
	HealthInterval time.Duration `json:"health_interval" yaml:"health_interval" toml:"health_interval" env:"ORCHD_HEALTH_INTERVAL"`
	HealthTimeout  time.Duration `json:"health_timeout" yaml:"health_timeout" toml:"health_timeout" env:"ORCHD_HEALTH_TIMEOUT"`
	SwapStagger    time.Duration `json:"swap_stagger" yaml:"swap_stagger" toml:"swap_stagger" env:"ORCHD_SWAP_STAGGER"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout" env:"ORCHD_REQUEST_TIMEOUT"`
	RetryDelay     time.Duration `json:"retry_delay" yaml:"retry_delay" toml:"retry_delay" env:"ORCHD_RETRY_DELAY"`
	Retries        int           `json:"retries" yaml:"retries" toml:"retries" env:"ORCHD_RETRIES"`

	// Sampling parameters forwarded on every inference request.
	Temperature float64 `json:"temperature" yaml:"temperature" toml:"temperature" env:"ORCHD_TEMPERATURE"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens" env:"ORCHD_MAX_TOKENS"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// FromEnv overlays ORCHD_* environment variables onto cfg.
func FromEnv(cfg Config) (Config, error) {
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
