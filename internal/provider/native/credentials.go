// Package native implements the native HTTP provider transport: streaming
// backends over the real Anthropic and OpenAI-compatible SDKs, selected
// by provider_label.
package native

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// authFile mirrors the subset of ~/.pi/agent/auth.json this module reads.
type authFile struct {
	AnthropicAPIKey     string `json:"anthropic_api_key"`
	AnthropicOAuthToken string `json:"anthropic_oauth_token"`
	OpenAIAPIKey        string `json:"openai_api_key"`
}

// loadAuthFile reads ~/.pi/agent/auth.json, tolerating a missing file the
// same way the teacher's settings loader tolerates missing settings files.
func loadAuthFile() (authFile, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return authFile{}, fmt.Errorf("resolve home dir: %w", err)
	}
	path := filepath.Join(home, ".pi", "agent", "auth.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return authFile{}, nil
		}
		return authFile{}, fmt.Errorf("read auth file: %w", err)
	}
	var parsed authFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return authFile{}, fmt.Errorf("parse auth file: %w", err)
	}
	return parsed, nil
}

// AnthropicCredential resolves an API key or OAuth token for the
// Anthropic backend: auth file first, then ANTHROPIC_API_KEY, then
// ANTHROPIC_OAUTH_TOKEN.
func AnthropicCredential() (apiKey string, oauthToken string, err error) {
	auth, err := loadAuthFile()
	if err != nil {
		return "", "", err
	}
	if auth.AnthropicAPIKey != "" {
		return auth.AnthropicAPIKey, "", nil
	}
	if auth.AnthropicOAuthToken != "" {
		return "", auth.AnthropicOAuthToken, nil
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		return v, "", nil
	}
	if v := os.Getenv("ANTHROPIC_OAUTH_TOKEN"); v != "" {
		return "", v, nil
	}
	return "", "", fmt.Errorf("no anthropic credential found")
}

// OpenAICredential resolves an API key for the OpenAI-compatible backend.
func OpenAICredential() (string, error) {
	auth, err := loadAuthFile()
	if err != nil {
		return "", err
	}
	if auth.OpenAIAPIKey != "" {
		return auth.OpenAIAPIKey, nil
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("no openai credential found")
}
