package vault

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"smc-trading-bot/config"
	"smc-trading-bot/internal/logging"
)

func fakeVault(t *testing.T, data map[string]interface{}) *httptest.Server {
	return fakeVaultSealed(t, data, false)
}

func fakeVaultSealed(t *testing.T, data map[string]interface{}, sealed bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/sys/health" {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"initialized": true,
				"sealed":      sealed,
				"standby":     false,
				"version":     "1.15.0",
			})
			return
		}
		if r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Path != "/v1/secret/data/smc-bot" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"data":     data,
				"metadata": map[string]interface{}{"version": 1},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(addr string) *config.Config {
	cfg := config.Default()
	cfg.Vault.Enabled = true
	cfg.Vault.Address = addr
	cfg.Vault.Token = "root"
	return cfg
}

func quiet() *logging.Logger {
	return logging.NewWithWriter(&logging.Config{Level: "error", JSONFormat: true}, io.Discard)
}

func TestLoadSecretsFillsEmptyFields(t *testing.T) {
	srv := fakeVault(t, map[string]interface{}{
		KeyAnthropic: "sk-ant",
		KeyGroq:      "gsk",
		KeyJWT:       "from-vault",
		"unrelated":  "x",
	})
	cfg := testConfig(srv.URL)
	cfg.LLM.Primary.APIKey = ""
	cfg.LLM.Fallback.APIKey = ""
	cfg.Server.JWTSecret = "from-env"

	filled, err := LoadSecrets(context.Background(), cfg, quiet())
	if err != nil {
		t.Fatalf("LoadSecrets failed: %v", err)
	}
	if filled != 2 {
		t.Errorf("Expected 2 fields filled, got %d", filled)
	}
	if cfg.LLM.Primary.APIKey != "sk-ant" {
		t.Errorf("Expected anthropic key from vault, got %q", cfg.LLM.Primary.APIKey)
	}
	if cfg.LLM.Fallback.APIKey != "gsk" {
		t.Errorf("Expected groq key from vault, got %q", cfg.LLM.Fallback.APIKey)
	}
	if cfg.Server.JWTSecret != "from-env" {
		t.Errorf("Expected environment value to win, got %q", cfg.Server.JWTSecret)
	}
}

func TestLoadSecretsDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Vault.Enabled = false
	filled, err := LoadSecrets(context.Background(), cfg, quiet())
	if err != nil || filled != 0 {
		t.Errorf("Expected no-op when disabled, got %d, %v", filled, err)
	}

	c, _ := NewClient(cfg.Vault)
	if _, err := c.ReadSecrets(context.Background()); err != ErrDisabled {
		t.Errorf("Expected ErrDisabled, got %v", err)
	}
}

func TestReadSecretsMissingEntry(t *testing.T) {
	srv := fakeVault(t, nil)
	cfg := testConfig(srv.URL)
	cfg.Vault.SecretPath = "elsewhere"

	c, err := NewClient(cfg.Vault)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	secrets, err := c.ReadSecrets(context.Background())
	if err != nil {
		t.Fatalf("Expected missing entry to be empty, got %v", err)
	}
	if len(secrets) != 0 {
		t.Errorf("Expected no secrets, got %v", secrets)
	}
}

func TestReadSecretsForbidden(t *testing.T) {
	srv := fakeVault(t, map[string]interface{}{KeyGroq: "gsk"})
	cfg := testConfig(srv.URL)
	cfg.Vault.Token = "wrong"

	c, _ := NewClient(cfg.Vault)
	if _, err := c.ReadSecrets(context.Background()); err == nil {
		t.Error("Expected an error for a rejected token")
	}
}

func TestLoadSecretsSealedVault(t *testing.T) {
	srv := fakeVaultSealed(t, map[string]interface{}{KeyGroq: "gsk"}, true)
	cfg := testConfig(srv.URL)
	cfg.LLM.Fallback.APIKey = ""

	filled, err := LoadSecrets(context.Background(), cfg, quiet())
	if err == nil {
		t.Fatal("Expected a sealed vault to fail")
	}
	if filled != 0 || cfg.LLM.Fallback.APIKey != "" {
		t.Errorf("Expected nothing filled from a sealed vault, got %d/%q", filled, cfg.LLM.Fallback.APIKey)
	}
}

func TestHealth(t *testing.T) {
	srv := fakeVault(t, nil)
	c, err := NewClient(testConfig(srv.URL).Vault)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := c.Health(context.Background()); err != nil {
		t.Errorf("Expected healthy vault, got %v", err)
	}

	off, _ := NewClient(config.Default().Vault)
	if off.IsEnabled() {
		t.Fatal("Expected the default vault config to be disabled")
	}
	if err := off.Health(context.Background()); err != nil {
		t.Errorf("Expected a disabled client to report healthy, got %v", err)
	}
}
