// Package secretmanager provides the optional Vault client used to overlay
// credentials (database, redis, per-country payout tokens) onto the loaded
// configuration.
package secretmanager

import (
	"os"

	vault "github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("secretmanager", fx.Provide(ProvideVault))

// ProvideVault builds a Vault client from the standard VAULT_* environment.
// Deployments without VAULT_ADDR run on file/env configuration alone: the
// provider yields a nil client and the config loader skips the overlay.
func ProvideVault() (*vault.Client, error) {
	if os.Getenv("VAULT_ADDR") == "" {
		zap.L().Info("VAULT_ADDR not set, secret overlay disabled")
		return nil, nil
	}

	client, err := vault.New(
		vault.WithEnvironment(),
	)
	if err != nil {
		return nil, err
	}

	return client, nil
}
