package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPrecedenceProjectOverUser(t *testing.T) {
	tempDir := t.TempDir()
	homeDir := filepath.Join(tempDir, "home")
	if err := os.MkdirAll(filepath.Join(homeDir, ".pi", "agent"), 0o755); err != nil {
		t.Fatalf("create home dir: %v", err)
	}
	userSettings := `{"model":"user-model"}`
	if err := os.WriteFile(filepath.Join(homeDir, ".pi", "agent", "settings.json"), []byte(userSettings), 0o600); err != nil {
		t.Fatalf("write user settings: %v", err)
	}

	projectDir := filepath.Join(tempDir, "repo")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatalf("create project dir: %v", err)
	}
	projectSettings := `{"model":"project-model","tools":"read,bash"}`
	if err := os.WriteFile(filepath.Join(projectDir, ".pz.json"), []byte(projectSettings), 0o600); err != nil {
		t.Fatalf("write project settings: %v", err)
	}

	t.Setenv("HOME", homeDir)

	settings, err := Load(projectDir, func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if settings.Model != "project-model" {
		t.Fatalf("expected project-model, got %s", settings.Model)
	}
	if settings.Tools != "read,bash" {
		t.Fatalf("expected tools to carry over from project settings, got %q", settings.Tools)
	}
}

func TestLoadEnvOverridesProjectFile(t *testing.T) {
	tempDir := t.TempDir()
	homeDir := filepath.Join(tempDir, "home")
	if err := os.MkdirAll(filepath.Join(homeDir, ".pi", "agent"), 0o755); err != nil {
		t.Fatalf("create home dir: %v", err)
	}
	t.Setenv("HOME", homeDir)

	projectDir := filepath.Join(tempDir, "repo")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatalf("create project dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(projectDir, ".pz.json"), []byte(`{"model":"project-model"}`), 0o600); err != nil {
		t.Fatalf("write project settings: %v", err)
	}

	env := map[string]string{"PZ_MODEL": "env-model"}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	settings, err := Load(projectDir, lookup)
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if settings.Model != "env-model" {
		t.Fatalf("expected env to override project file, got %s", settings.Model)
	}
}

func TestLoadYAMLProjectConfig(t *testing.T) {
	tempDir := t.TempDir()
	homeDir := filepath.Join(tempDir, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("create home dir: %v", err)
	}
	t.Setenv("HOME", homeDir)

	projectDir := filepath.Join(tempDir, "repo")
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatalf("create project dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(projectDir, ".pz.yaml"), []byte("model: yaml-model\nprovider: anthropic\n"), 0o600); err != nil {
		t.Fatalf("write yaml settings: %v", err)
	}

	settings, err := Load(projectDir, func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if settings.Model != "yaml-model" || settings.Provider != "anthropic" {
		t.Fatalf("expected yaml settings to load, got %+v", settings)
	}
}

func TestResolveModelAliases(t *testing.T) {
	cfg := &GatewayConfig{
		DefaultModel: "base-model",
		ModelAliases: map[string]string{"opus": "alias-model"},
	}

	if got := ResolveModel(cfg, "", "opus"); got != "alias-model" {
		t.Fatalf("expected alias-model, got %s", got)
	}
	if got := ResolveModel(cfg, "custom", "opus"); got != "custom" {
		t.Fatalf("expected custom, got %s", got)
	}
}
