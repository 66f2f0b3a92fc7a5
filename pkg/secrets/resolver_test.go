package secrets

import (
	"errors"
	"testing"

	"github.com/fusehq/fuse-engine/pkg/apperrors"
)

func TestEnvResolver_PlainValuePassesThrough(t *testing.T) {
	r := NewEnvResolver()

	got, err := r.Resolve("hunter2")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if got != "hunter2" {
		t.Errorf("expected plain value to pass through, got %q", got)
	}
}

func TestEnvResolver_ResolvesEnvReference(t *testing.T) {
	t.Setenv("ETL_PASSWORD", "s3cret")

	r := NewEnvResolver()

	got, err := r.Resolve("env://ETL_PASSWORD")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if got != "s3cret" {
		t.Errorf("expected s3cret, got %q", got)
	}
}

func TestEnvResolver_MissingVariable(t *testing.T) {
	r := NewEnvResolver()

	_, err := r.Resolve("env://FUSE_TEST_UNSET_VARIABLE")
	if err == nil {
		t.Fatal("expected error for unset environment variable")
	}
	if !errors.Is(err, apperrors.ErrSecretNotResolvable) {
		t.Errorf("expected ErrSecretNotResolvable, got %v", err)
	}
}

func TestEnvResolver_EmptyReference(t *testing.T) {
	r := NewEnvResolver()

	_, err := r.Resolve("env://")
	if err == nil {
		t.Fatal("expected error for empty reference")
	}
	if !errors.Is(err, apperrors.ErrSecretNotResolvable) {
		t.Errorf("expected ErrSecretNotResolvable, got %v", err)
	}
}

func TestEnvResolver_EmptyStringIsNotAReference(t *testing.T) {
	r := NewEnvResolver()

	got, err := r.Resolve("")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty string to pass through, got %q", got)
	}
}
