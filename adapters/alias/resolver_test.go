package alias

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	domain "github.com/bracketai/usagegate/domain/alias"
	"github.com/rs/zerolog"
)

func writeAliasFile(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "aliases.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolve(t *testing.T) {
	path := writeAliasFile(t, t.TempDir(), "key-acme-1: Acme Corp\nkey-globex: Globex\n")

	r, err := New(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer r.Stop()

	tests := []struct {
		clientID string
		want     string
	}{
		{"key-acme-1", "Acme Corp"},
		{"key-globex", "Globex"},
		{"key-unmapped", "key-unmapped"}, // fallback to raw ID
		{"unknown", "unknown"},
	}
	for _, tt := range tests {
		if got := r.Resolve(tt.clientID); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.clientID, got, tt.want)
		}
	}
}

func TestNewFailsOnMissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope.yaml"), zerolog.Nop())
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *alias.ConfigError", err)
	}
	if cfgErr.Reason != domain.ReasonUnreadable {
		t.Errorf("Reason = %q, want %q", cfgErr.Reason, domain.ReasonUnreadable)
	}
}

func TestNewFailsOnMalformedFile(t *testing.T) {
	path := writeAliasFile(t, t.TempDir(), "not: [valid: yaml: at all\n")

	_, err := New(path, zerolog.Nop())
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want *alias.ConfigError", err)
	}
	if cfgErr.Reason != domain.ReasonMalformed {
		t.Errorf("Reason = %q, want %q", cfgErr.Reason, domain.ReasonMalformed)
	}
}

func TestReloadSwapsMap(t *testing.T) {
	dir := t.TempDir()
	path := writeAliasFile(t, dir, "key-acme-1: Acme Corp\n")

	r, err := New(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	if err := os.WriteFile(path, []byte("key-acme-1: Acme Incorporated\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	if got := r.Resolve("key-acme-1"); got != "Acme Incorporated" {
		t.Errorf("Resolve() = %q after reload", got)
	}
}

func TestReloadKeepsOldMapOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeAliasFile(t, dir, "key-acme-1: Acme Corp\n")

	r, err := New(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	if err := os.WriteFile(path, []byte("{{{ broken\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(); err == nil {
		t.Fatal("Reload() succeeded on malformed file")
	}

	// The previous map stays in effect.
	if got := r.Resolve("key-acme-1"); got != "Acme Corp" {
		t.Errorf("Resolve() = %q after failed reload, want previous mapping", got)
	}
}

func TestOnReloadObserver(t *testing.T) {
	dir := t.TempDir()
	path := writeAliasFile(t, dir, "key-acme-1: Acme Corp\n")

	r, err := New(path, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	var successes, failures int
	r.OnReload(func(err error) {
		if err != nil {
			failures++
			return
		}
		successes++
	})

	if err := r.Reload(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{{{ broken\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r.Reload()

	if successes != 1 || failures != 1 {
		t.Errorf("observer saw %d successes, %d failures; want 1/1", successes, failures)
	}
}

func TestEmptyFileYieldsEmptyMap(t *testing.T) {
	path := writeAliasFile(t, t.TempDir(), "")

	r, err := New(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer r.Stop()

	if got := r.Resolve("anything"); got != "anything" {
		t.Errorf("Resolve() = %q, want raw ID", got)
	}
}

func TestStaticResolver(t *testing.T) {
	s := NewStatic()
	if got := s.Resolve("key-acme-1"); got != "key-acme-1" {
		t.Errorf("Resolve() = %q, want raw ID", got)
	}
	if err := s.Reload(); err != nil {
		t.Errorf("Reload() error = %v", err)
	}
}
