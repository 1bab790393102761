package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Settings is the merged configuration driving one pz invocation: model,
// provider selection, tool exposure, and miscellaneous raw overrides.
type Settings struct {
	Model        string
	Provider     string
	ProviderCmd  string
	SessionDir   string
	Tools        string
	MaxTurns     int
	SystemPrompt string
	// Raw retains the full decoded map for settings this struct doesn't
	// name explicitly, so future fields don't require a loader rewrite.
	Raw map[string]any
}

// Load applies the precedence chain from §6: CLI > environment > project
// config (./.pz.json or .pz.yaml) > user settings
// (~/.pi/agent/settings.json). CLI overrides are applied by the caller on
// top of the returned Settings; Load handles the remaining three tiers.
func Load(cwd string, lookupEnv func(string) (string, bool)) (*Settings, error) {
	paths, err := settingsPaths(cwd)
	if err != nil {
		return nil, err
	}

	var merged *Settings
	// Lowest precedence first so later merges win.
	for i := len(paths) - 1; i >= 0; i-- {
		settings, err := loadSettingsFromFile(paths[i])
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("load settings %q: %w", paths[i], err)
		}
		merged = mergeSettings(merged, settings)
	}

	merged = mergeSettings(merged, settingsFromEnv(lookupEnv))

	if merged == nil {
		merged = &Settings{Raw: map[string]any{}}
	}
	return merged, nil
}

// settingsPaths returns the project and user settings file candidates, in
// highest-to-lowest precedence order (project first).
func settingsPaths(cwd string) ([]string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home dir: %w", err)
	}
	return []string{
		filepath.Join(cwd, ".pz.json"),
		filepath.Join(cwd, ".pz.yaml"),
		filepath.Join(home, ".pi", "agent", "settings.json"),
	}, nil
}

func loadSettingsFromFile(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseSettings(raw, filepath.Ext(path))
}

// parseSettings decodes either JSON or YAML (chosen by ext) into the
// common Raw map, then lifts the fields Settings names explicitly.
func parseSettings(raw []byte, ext string) (*Settings, error) {
	data := map[string]any{}
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("parse yaml settings: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("parse json settings: %w", err)
		}
	}

	settings := &Settings{Raw: data}
	if v, ok := data["model"].(string); ok {
		settings.Model = v
	}
	if v, ok := data["provider"].(string); ok {
		settings.Provider = v
	}
	if v, ok := data["provider_cmd"].(string); ok {
		settings.ProviderCmd = v
	}
	if v, ok := data["session_dir"].(string); ok {
		settings.SessionDir = v
	}
	if v, ok := data["tools"].(string); ok {
		settings.Tools = v
	}
	if v, ok := data["system_prompt"].(string); ok {
		settings.SystemPrompt = v
	}
	if v, ok := data["max_turns"].(int); ok {
		settings.MaxTurns = v
	} else if v, ok := data["max_turns"].(float64); ok {
		settings.MaxTurns = int(v)
	}
	return settings, nil
}

// settingsFromEnv reads the environment-variable tier of the precedence
// chain: PZ_MODEL, PZ_PROVIDER, PZ_PROVIDER_CMD, PZ_SESSION_DIR, PZ_TOOLS.
func settingsFromEnv(lookupEnv func(string) (string, bool)) *Settings {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	s := &Settings{Raw: map[string]any{}}
	var sawAny bool
	if v, ok := lookupEnv("PZ_MODEL"); ok {
		s.Model = v
		sawAny = true
	}
	if v, ok := lookupEnv("PZ_PROVIDER"); ok {
		s.Provider = v
		sawAny = true
	}
	if v, ok := lookupEnv("PZ_PROVIDER_CMD"); ok {
		s.ProviderCmd = v
		sawAny = true
	}
	if v, ok := lookupEnv("PZ_SESSION_DIR"); ok {
		s.SessionDir = v
		sawAny = true
	}
	if v, ok := lookupEnv("PZ_TOOLS"); ok {
		s.Tools = v
		sawAny = true
	}
	if !sawAny {
		return nil
	}
	return s
}

// mergeSettings applies overlay's non-zero fields on top of base.
func mergeSettings(base *Settings, overlay *Settings) *Settings {
	if base == nil {
		return overlay
	}
	if overlay == nil {
		return base
	}

	merged := &Settings{
		Model:        base.Model,
		Provider:     base.Provider,
		ProviderCmd:  base.ProviderCmd,
		SessionDir:   base.SessionDir,
		Tools:        base.Tools,
		MaxTurns:     base.MaxTurns,
		SystemPrompt: base.SystemPrompt,
		Raw:          map[string]any{},
	}
	for k, v := range base.Raw {
		merged.Raw[k] = v
	}
	for k, v := range overlay.Raw {
		merged.Raw[k] = v
	}

	if overlay.Model != "" {
		merged.Model = overlay.Model
	}
	if overlay.Provider != "" {
		merged.Provider = overlay.Provider
	}
	if overlay.ProviderCmd != "" {
		merged.ProviderCmd = overlay.ProviderCmd
	}
	if overlay.SessionDir != "" {
		merged.SessionDir = overlay.SessionDir
	}
	if overlay.Tools != "" {
		merged.Tools = overlay.Tools
	}
	if overlay.MaxTurns != 0 {
		merged.MaxTurns = overlay.MaxTurns
	}
	if overlay.SystemPrompt != "" {
		merged.SystemPrompt = overlay.SystemPrompt
	}
	return merged
}

// findProjectRoot locates the nearest parent directory containing .git;
// kept for callers that want to search upward for a project-level config
// instead of using cwd directly.
func findProjectRoot(cwd string) string {
	current := filepath.Clean(cwd)
	for {
		if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return cwd
		}
		current = parent
	}
}

// LoadInline parses a CLI-supplied settings override that is either a path
// or an inline JSON object (the `-C`/`--config` flag accepts both).
func LoadInline(value string) (*Settings, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		return parseSettings([]byte(trimmed), ".json")
	}
	return loadSettingsFromFile(trimmed)
}
