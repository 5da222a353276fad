package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvProvider reads credentials from the environment. A reference names one
// variable or a comma-separated list tried in order, e.g.
// "env://OPENROUTER_API_KEY,OPENROUTER_KEY".
type EnvProvider struct {
	lookup func(string) (string, bool)
}

// EnvOption configures an EnvProvider.
type EnvOption func(*EnvProvider)

// WithLookup replaces os.LookupEnv.
func WithLookup(fn func(string) (string, bool)) EnvOption {
	return func(p *EnvProvider) { p.lookup = fn }
}

func NewEnvProvider(opts ...EnvOption) *EnvProvider {
	p := &EnvProvider{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Resolve(_ context.Context, credentialRef string) (*Secret, error) {
	list, ok := strings.CutPrefix(credentialRef, "env://")
	if !ok {
		return nil, fmt.Errorf("%w: not an env:// reference: %q", ErrSecretNotFound, credentialRef)
	}
	var tried []string
	for name := range strings.SplitSeq(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		tried = append(tried, name)
		if v, set := p.lookup(name); set && strings.TrimSpace(v) != "" {
			return &Secret{
				Value:    strings.TrimSpace(v),
				Metadata: map[string]string{"source": "env", "variable": name},
			}, nil
		}
	}
	if len(tried) == 0 {
		return nil, fmt.Errorf("%w: env reference names no variable", ErrSecretNotFound)
	}
	return nil, fmt.Errorf("%w: none of %s is set", ErrSecretNotFound, strings.Join(tried, ", "))
}
