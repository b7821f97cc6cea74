package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DayBreakerBrony/frame-randomizer/internal/services"
	"github.com/DayBreakerBrony/frame-randomizer/internal/testsupport"
)

func TestPreflightClassifiesFailuresAsConfiguration(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())

	if err := preflight(cfg); err != nil {
		t.Fatalf("preflight with stubbed tools: %v", err)
	}

	keyPath := filepath.Join(cfg.Paths.DataDir, "signing_key.pem")
	if err := os.WriteFile(keyPath, []byte("not a key"), 0o600); err != nil {
		t.Fatalf("write bogus key: %v", err)
	}
	cfg.RunVerification.SigningKeyPath = keyPath

	err := preflight(cfg)
	if err == nil {
		t.Fatal("expected preflight to reject an unloadable signing key")
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("preflight error not classified as configuration: %v", err)
	}
}

func TestPreflightRejectsMissingTools(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	t.Setenv("PATH", t.TempDir())

	err := preflight(cfg)
	if err == nil {
		t.Fatal("expected preflight to fail without ffmpeg on PATH")
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("preflight error not classified as configuration: %v", err)
	}
}
