package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// FileProvider reads credentials from files, as mounted by Docker and
// Kubernetes secrets. Reference format: "file:///run/secrets/openai".
type FileProvider struct{}

// NewFileProvider creates a file-based secret provider.
func NewFileProvider() *FileProvider { return &FileProvider{} }

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Resolve(_ context.Context, credentialRef string) (*Secret, error) {
	const prefix = "file://"
	if !strings.HasPrefix(credentialRef, prefix) {
		return nil, fmt.Errorf("%w: file provider only handles file:// references, got %q",
			ErrSecretNotFound, credentialRef)
	}
	path := strings.TrimPrefix(credentialRef, prefix)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrSecretNotFound, path, err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return nil, fmt.Errorf("%w: file %s is empty", ErrSecretNotFound, path)
	}
	return &Secret{
		Value:    value,
		Metadata: map[string]string{"source": "file", "path": path},
	}, nil
}
