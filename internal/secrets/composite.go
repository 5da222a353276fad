package secrets

import (
	"context"
	"fmt"
	"strings"
)

// CompositeProvider dispatches a reference to the provider whose name
// matches its scheme ("env://" goes to the provider named "env").
type CompositeProvider struct {
	byScheme map[string]Provider
}

// NewCompositeProvider creates a provider that delegates by scheme.
func NewCompositeProvider(providers ...Provider) *CompositeProvider {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &CompositeProvider{byScheme: m}
}

func (p *CompositeProvider) Name() string { return "composite" }

func (p *CompositeProvider) Resolve(ctx context.Context, credentialRef string) (*Secret, error) {
	scheme, _, ok := strings.Cut(credentialRef, "://")
	if !ok {
		return nil, fmt.Errorf("%w: reference %q has no scheme", ErrSecretNotFound, credentialRef)
	}
	provider, ok := p.byScheme[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: no provider for scheme %q", ErrSecretNotFound, scheme)
	}
	return provider.Resolve(ctx, credentialRef)
}
