package secrets

import (
	"fmt"
	"os"
	"strings"

	"github.com/fusehq/fuse-engine/pkg/apperrors"
)

// EnvRefPrefix marks a secret reference resolved from the process environment.
const EnvRefPrefix = "env://"

// Resolver resolves secret references found in integration configs and
// account-creation requests. Values that are not references pass through
// unchanged, so plain passwords in local development keep working.
type Resolver interface {
	// Resolve returns the secret value for the given reference.
	Resolve(ref string) (string, error)
}

// EnvResolver resolves "env://VAR" references from environment variables.
type EnvResolver struct{}

// NewEnvResolver creates an environment-backed secret resolver.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{}
}

// Resolve returns the value of the referenced environment variable, or the
// input unchanged when it is not a reference.
func (r *EnvResolver) Resolve(ref string) (string, error) {
	if !strings.HasPrefix(ref, EnvRefPrefix) {
		return ref, nil
	}

	name := strings.TrimPrefix(ref, EnvRefPrefix)
	if name == "" {
		return "", fmt.Errorf("empty environment reference: %w", apperrors.ErrSecretNotResolvable)
	}

	value, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("environment variable %s not set: %w", name, apperrors.ErrSecretNotResolvable)
	}
	return value, nil
}

var _ Resolver = (*EnvResolver)(nil)
