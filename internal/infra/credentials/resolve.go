package credentials

import (
	"context"
	"errors"
	"strings"
)

// ErrNoKey is returned when no source holds a provider key.
var ErrNoKey = errors.New("credentials: no provider key configured")

// Resolver finds the provider key from the environment, then Secret
// Manager, then the integration_tokens table.
type Resolver struct {
	EnvValue   string
	SecretName string
	Secrets    SecretSource
	Store      *Store
}

// EnhanceAPIKey returns the key and the name of the source it came from.
func (r Resolver) EnhanceAPIKey(ctx context.Context) (string, string, error) {
	if v := strings.TrimSpace(r.EnvValue); v != "" {
		return v, "env", nil
	}
	if r.Secrets != nil && r.SecretName != "" {
		v, err := r.Secrets.Access(ctx, r.SecretName)
		if err != nil {
			return "", "", err
		}
		if v != "" {
			return v, "secret_manager", nil
		}
	}
	if r.Store != nil {
		v, err := r.Store.EnhanceAPIKey(ctx)
		if err != nil {
			return "", "", err
		}
		if v != "" {
			return v, "database", nil
		}
	}
	return "", "", ErrNoKey
}
