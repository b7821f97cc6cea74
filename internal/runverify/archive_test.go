package runverify

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestSigningKeyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "signing.pem")

	generated, err := GenerateSigningKey(path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	loaded, err := LoadSigningKey(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(generated, loaded) {
		t.Fatal("loaded key differs from generated key")
	}

	if _, err := GenerateSigningKey(path); err == nil {
		t.Fatal("regenerating over an existing key succeeded")
	}
}

func TestLoadSigningKeyRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.pem")
	if err := os.WriteFile(path, []byte("not a pem block"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSigningKey(path); err == nil {
		t.Fatal("loaded a non-PEM file")
	}
	if _, err := LoadSigningKey(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Fatal("loaded a missing file")
	}
}
