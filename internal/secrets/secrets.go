// Package secrets resolves provider credentials from configuration
// references such as "env://OPENAI_API_KEY" or "file:///run/secrets/key".
package secrets

import (
	"context"
	"errors"
	"strings"
)

// Secret holds resolved credential material. It must never be logged.
type Secret struct {
	Value    string
	Metadata map[string]string // Backend-specific metadata (e.g. source variable).
}

// Provider resolves credential references into secret material.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Resolve returns ErrSecretNotFound if the reference cannot be resolved.
	Resolve(ctx context.Context, credentialRef string) (*Secret, error)

	// Name returns the provider identifier for logging (never includes secrets).
	Name() string
}

// ErrSecretNotFound is returned when a credential reference cannot be resolved.
var ErrSecretNotFound = errors.New("secret not found")

// Default returns the provider chain used by the binaries.
func Default() Provider {
	return NewCompositeProvider(NewEnvProvider(), NewFileProvider())
}

// ConfigValue looks up a configuration value. References with a scheme are
// resolved through p; anything else is returned as a literal. The boolean is
// false when the value is absent.
func ConfigValue(ctx context.Context, p Provider, ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	if !strings.Contains(ref, "://") {
		return ref, true
	}
	secret, err := p.Resolve(ctx, ref)
	if err != nil || secret.Value == "" {
		return "", false
	}
	return secret.Value, true
}
