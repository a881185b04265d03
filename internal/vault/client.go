package vault

import (
	"context"
	"errors"
	"fmt"

	"smc-trading-bot/config"
	"smc-trading-bot/internal/logging"

	"github.com/hashicorp/vault/api"
)

// ErrDisabled is returned by reads on a client built from a disabled config
var ErrDisabled = errors.New("vault is disabled")

// Secret keys read from the bot's KV v2 entry
const (
	KeyAnthropic = "anthropic_api_key"
	KeyGroq      = "groq_api_key"
	KeyNewsAPI   = "newsapi_key"
	KeyBroker    = "broker_api_key"
	KeyJWT       = "jwt_secret"
	KeyDatabase  = "db_password"
	KeyRedis     = "redis_password"
)

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.IsEnabled() {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}

	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}

	return nil
}

// ReadSecrets returns the string fields of the bot's secret entry.
// A missing entry yields an empty map.
func (c *Client) ReadSecrets(ctx context.Context) (map[string]string, error) {
	if !c.IsEnabled() {
		return nil, ErrDisabled
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets from vault: %w", err)
	}

	out := make(map[string]string)
	if secret == nil || secret.Data == nil {
		return out, nil
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format at %s", c.secretPath())
	}
	for k := range data {
		if s := getString(data, k); s != "" {
			out[k] = s
		}
	}
	return out, nil
}

// secretPath returns the KV v2 data path of the bot's entry
func (c *Client) secretPath() string {
	return fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
}

// LoadSecrets fills empty credential fields of cfg from Vault. Values
// already present, typically from the environment, are left alone.
// It returns the number of fields filled.
func LoadSecrets(ctx context.Context, cfg *config.Config, logger *logging.Logger) (int, error) {
	if !cfg.Vault.Enabled {
		return 0, nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	log := logger.WithComponent("vault")

	client, err := NewClient(cfg.Vault)
	if err != nil {
		return 0, err
	}
	if err := client.Health(ctx); err != nil {
		return 0, err
	}
	secrets, err := client.ReadSecrets(ctx)
	if err != nil {
		return 0, err
	}

	targets := map[string]*string{
		KeyAnthropic: &cfg.LLM.Primary.APIKey,
		KeyGroq:      &cfg.LLM.Fallback.APIKey,
		KeyNewsAPI:   &cfg.Sentiment.NewsAPIKey,
		KeyBroker:    &cfg.Broker.APIKey,
		KeyJWT:       &cfg.Server.JWTSecret,
		KeyDatabase:  &cfg.Database.Password,
		KeyRedis:     &cfg.Redis.Password,
	}

	filled := 0
	for key, field := range targets {
		v, ok := secrets[key]
		if !ok || *field != "" {
			continue
		}
		*field = v
		filled++
	}

	log.Info("secrets loaded", "path", client.secretPath(), "filled", filled, "available", len(secrets))
	return filled, nil
}

// Helper functions
func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
