package credential

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	natomic "github.com/natefinch/atomic"
)

// DefaultMinTokenLength is the shortest token the store treats as usable.
// Placeholder values like "changeme" or an empty string never validate.
const DefaultMinTokenLength = 20

// Store holds the current session credential. Reads are lock-free; writers
// are serialized. When a path is configured, every Set persists the
// credential to disk with owner-only permissions so the gateway survives
// restarts without re-authenticating.
type Store struct {
	current atomic.Pointer[Credential]

	path        string // empty disables persistence
	minTokenLen int

	writeMu sync.Mutex
}

// NewStore creates a Store persisting to path. An empty path keeps the
// credential in memory only. minTokenLen <= 0 selects DefaultMinTokenLength.
func NewStore(path string, minTokenLen int) *Store {
	if minTokenLen <= 0 {
		minTokenLen = DefaultMinTokenLength
	}
	return &Store{path: path, minTokenLen: minTokenLen}
}

// Load reads a previously persisted credential from disk. A missing file is
// not an error. A persisted token that would not validate (too short, empty)
// is discarded rather than loaded.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading credential file: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return fmt.Errorf("parsing credential file %s: %w", s.path, err)
	}
	if len(cred.Token) < s.minTokenLen {
		return nil
	}

	s.current.Store(&cred)
	return nil
}

// Get returns the current credential, or nil when none is held. The returned
// value must not be mutated.
func (s *Store) Get() *Credential {
	return s.current.Load()
}

// Set replaces the current credential and persists it. Concurrent Sets are
// serialized; readers never block.
func (s *Store) Set(cred Credential) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.current.Store(&cred)

	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(&cred, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credential: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating credential directory: %w", err)
	}
	if err := natomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing credential file: %w", err)
	}
	// Session tokens are secrets: owner-only.
	if err := os.Chmod(s.path, 0o600); err != nil {
		return fmt.Errorf("restricting credential file permissions: %w", err)
	}
	return nil
}

// Invalidate drops the current credential and removes the persisted copy.
// Called when the upstream rejects the token.
func (s *Store) Invalidate() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.current.Store(nil)
	if s.path != "" {
		os.Remove(s.path)
	}
}

// Valid reports whether the current credential can be used for an upstream
// call: a token is present, meets the minimum length, and (when the expiry
// is known) does not expire within the given margin.
func (s *Store) Valid(margin time.Duration) bool {
	cred := s.current.Load()
	if cred == nil {
		return false
	}
	if len(cred.Token) < s.minTokenLen {
		return false
	}
	if !cred.ExpiresAt.IsZero() && !time.Now().Add(margin).Before(cred.ExpiresAt) {
		return false
	}
	return true
}
