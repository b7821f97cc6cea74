package runverify

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/DayBreakerBrony/frame-randomizer/internal/kvstore"
	"github.com/DayBreakerBrony/frame-randomizer/internal/logging"
)

const signingKeyPEMType = "PRIVATE KEY"

// Artifact is a signed, durable snapshot of a retained run. Content is the
// run state JSON exactly as signed; Verify checks it byte for byte.
type Artifact struct {
	RunID      string          `json:"run_id"`
	Content    json.RawMessage `json:"content"`
	Signature  []byte          `json:"signature"`
	PublicKey  []byte          `json:"public_key"`
	ArchivedAt time.Time       `json:"archived_at"`
}

// Verify checks the artifact signature against its embedded public key.
func (a Artifact) Verify() error {
	if len(a.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("archived run %s: malformed public key", a.RunID)
	}
	if !ed25519.Verify(ed25519.PublicKey(a.PublicKey), a.Content, a.Signature) {
		return fmt.Errorf("archived run %s: signature verification failed", a.RunID)
	}
	return nil
}

// Archiver signs retained runs and persists them to the archive store.
// Archived entries never expire.
type Archiver struct {
	key    ed25519.PrivateKey
	store  *kvstore.Store[Artifact]
	logger *slog.Logger
	clock  func() time.Time
}

// NewArchiver constructs an archiver around a loaded signing key.
func NewArchiver(key ed25519.PrivateKey, store *kvstore.Store[Artifact], logger *slog.Logger) (*Archiver, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, errors.New("runverify: signing key required")
	}
	if store == nil {
		return nil, errors.New("runverify: archive store required")
	}
	return &Archiver{
		key:    key,
		store:  store,
		logger: logging.NewComponentLogger(logger, "archive"),
		clock:  time.Now,
	}, nil
}

// WithClock overrides the time source, for tests.
func (a *Archiver) WithClock(clock func() time.Time) *Archiver {
	a.clock = clock
	return a
}

// Archive signs the run state and upserts the artifact keyed by run id.
func (a *Archiver) Archive(ctx context.Context, runID string, state RunState) error {
	content, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", runID, err)
	}
	artifact := Artifact{
		RunID:      runID,
		Content:    content,
		Signature:  ed25519.Sign(a.key, content),
		PublicKey:  []byte(a.key.Public().(ed25519.PublicKey)),
		ArchivedAt: a.clock(),
	}
	if err := a.store.Set(ctx, runID, artifact, 0); err != nil {
		return fmt.Errorf("store archived run %s: %w", runID, err)
	}
	a.logger.Info("archived signed run",
		logging.String(logging.FieldRunID, runID),
		logging.Int("history_len", len(state.History)))
	return nil
}

// Get returns the archived artifact for a run id.
func (a *Archiver) Get(ctx context.Context, runID string) (Artifact, bool, error) {
	return a.store.Get(ctx, runID)
}

// LoadSigningKey reads a PKCS#8 PEM ed25519 private key.
func LoadSigningKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil || block.Type != signingKeyPEMType {
		return nil, fmt.Errorf("signing key %s: expected a %s PEM block", path, signingKeyPEMType)
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing key %s: %w", path, err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("signing key %s: not an ed25519 key", path)
	}
	return key, nil
}

// GenerateSigningKey creates a fresh ed25519 key and writes it to path in
// PKCS#8 PEM form, refusing to overwrite an existing key.
func GenerateSigningKey(path string) (ed25519.PrivateKey, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("signing key %s already exists", path)
	}
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("encode signing key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure key directory: %w", err)
	}
	encoded := pem.EncodeToMemory(&pem.Block{Type: signingKeyPEMType, Bytes: der})
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return nil, fmt.Errorf("write signing key: %w", err)
	}
	return key, nil
}
