package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// GatewayConfig describes an OpenAI-compatible gateway a provider backend
// can target in addition to the native SDK clients, plus model aliasing
// and budget-relevant pricing metadata carried over from the teacher's
// provider config.
type GatewayConfig struct {
	APIBaseURL   string                  `json:"api_base_url"`
	APIKey       string                  `json:"api_key"`
	TimeoutMS    int                     `json:"timeout_ms"`
	DefaultModel string                  `json:"default_model"`
	ModelAliases map[string]string       `json:"model_aliases"`
	Pricing      map[string]ModelPricing `json:"pricing"`
}

type ModelPricing struct {
	InputPer1M  float64 `json:"input_per_1m"`
	OutputPer1M float64 `json:"output_per_1m"`
}

var (
	ErrGatewayConfigMissing = errors.New("gateway config missing")
	ErrGatewayConfigInvalid = errors.New("gateway config invalid")
)

// GatewayConfigPath returns the default path for an optional
// OpenAI-compatible gateway config, under the same ~/.pi/agent state
// directory as auth.json and settings.json.
func GatewayConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".pi", "agent", "gateway.json"), nil
}

// LoadGatewayConfig reads and validates the gateway config; a missing file
// is reported as ErrGatewayConfigMissing so callers can fall back to the
// native SDK backends without treating it as fatal.
func LoadGatewayConfig(path string) (*GatewayConfig, error) {
	if path == "" {
		var err error
		path, err = GatewayConfigPath()
		if err != nil {
			return nil, err
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrGatewayConfigMissing
		}
		return nil, fmt.Errorf("read gateway config: %w", err)
	}

	var cfg GatewayConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse gateway config: %w", err)
	}
	if cfg.APIBaseURL == "" || cfg.APIKey == "" || cfg.DefaultModel == "" {
		return nil, ErrGatewayConfigInvalid
	}
	if cfg.TimeoutMS <= 0 {
		cfg.TimeoutMS = 600000
	}
	if cfg.ModelAliases == nil {
		cfg.ModelAliases = make(map[string]string)
	}
	if cfg.Pricing == nil {
		cfg.Pricing = make(map[string]ModelPricing)
	}
	return &cfg, nil
}

// ResolveModel picks the model for a turn: CLI flag wins, then settings,
// then the gateway's configured default, resolving aliases against the
// gateway config when one is present.
func ResolveModel(cfg *GatewayConfig, cliModel string, settingsModel string) string {
	if cliModel != "" {
		return aliasModel(cfg, cliModel)
	}
	if settingsModel != "" {
		return aliasModel(cfg, settingsModel)
	}
	if cfg != nil {
		return cfg.DefaultModel
	}
	return ""
}

func aliasModel(cfg *GatewayConfig, name string) string {
	if cfg == nil {
		return name
	}
	if aliased, ok := cfg.ModelAliases[name]; ok {
		return aliased
	}
	return name
}
