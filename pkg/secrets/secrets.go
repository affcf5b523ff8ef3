package secrets

import (
	"context"
	"errors"
	"strings"

	"comic-studio/backend/pkg/config"
	"comic-studio/backend/pkg/logger"
)

// APIKeyName is the secret holding the Gemini API key
const APIKeyName = "GEMINI_API_KEY"

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

// FromConfig builds the Vault manager described by the Vault section of cfg
func FromConfig(cfg *config.Config, log *logger.Logger) (*VaultManager, error) {
	return NewVaultManager(VaultConfig{
		Address:     cfg.Vault.Address,
		Token:       cfg.Vault.Token,
		Namespace:   cfg.Vault.Namespace,
		SecretsPath: cfg.Vault.SecretsPath,
		Enabled:     cfg.Vault.Enabled,
	}, log)
}

// Resolve returns value when it is set and otherwise asks m for key
func Resolve(ctx context.Context, m Manager, key, value string) (string, error) {
	if value = strings.TrimSpace(value); value != "" {
		return value, nil
	}
	if m == nil {
		return "", ErrSecretNotFound
	}
	return m.GetSecret(ctx, key)
}

// ResolveAPIKey fills cfg.Gemini.APIKey from Vault when the environment left
// it empty. It returns config.ErrMissingAPIKey when neither source has it.
func ResolveAPIKey(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	manager, err := FromConfig(cfg, log)
	if err != nil {
		return err
	}

	key, err := Resolve(ctx, manager, APIKeyName, cfg.Gemini.APIKey)
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			return config.ErrMissingAPIKey
		}
		return err
	}

	cfg.Gemini.APIKey = key
	return cfg.Validate()
}
