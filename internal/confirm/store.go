// Package confirm implements the require-confirmation workflow. A CONFIRM
// decision parks the request under its request id; an operator confirms or
// denies it out of band (CLI or MCP tool), and the gateway consumes the
// grant on re-submission.
package confirm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// validKey matches alphanumeric, dash, underscore, and dot characters only.
var validKey = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// validateKey rejects keys that could cause path traversal.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("key must not contain '..'")
	}
	if !validKey.MatchString(key) {
		return fmt.Errorf("key contains invalid characters: only alphanumeric, dash, underscore, and dot are allowed")
	}
	return nil
}

// Status represents the state of a pending confirmation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusDenied    Status = "denied"
	StatusConsumed  Status = "consumed"
	StatusExpired   Status = "expired"
)

// Confirmation is one parked request awaiting operator review.
type Confirmation struct {
	Key        string     `json:"key"` // request id of the CONFIRM decision
	Status     Status     `json:"status"`
	Reason     string     `json:"reason"`
	RuleID     string     `json:"rule_id"`
	ClientID   string     `json:"client_id,omitempty"`
	Tool       string     `json:"tool,omitempty"`
	Risk       float64    `json:"risk"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Store manages confirmation files on disk.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store backed by the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create confirmation directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// DefaultDir returns the default confirmation store directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "gatewatch-pending")
	}
	return filepath.Join(home, ".gatewatch", "pending")
}

// Request parks a CONFIRM decision. No-op if the key already exists.
func (s *Store) Request(c Confirmation) error {
	if err := validateKey(c.Key); err != nil {
		return fmt.Errorf("invalid confirmation key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(c.Key)
	if _, err := os.Stat(path); err == nil {
		return nil // already exists
	}

	c.Status = StatusPending
	c.CreatedAt = time.Now().UTC()
	return s.writeAtomic(path, c)
}

// Confirm marks a pending confirmation as granted. If ttl > 0 the grant
// expires; ttl == 0 makes it one-time (consumed on first use).
func (s *Store) Confirm(key string, ttl time.Duration) error {
	return s.resolve(key, StatusConfirmed, ttl)
}

// Deny marks a pending confirmation as denied.
func (s *Store) Deny(key string) error {
	return s.resolve(key, StatusDenied, 0)
}

func (s *Store) resolve(key string, status Status, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("invalid confirmation key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.read(key)
	if err != nil {
		return fmt.Errorf("confirmation %q not found: %w", key, err)
	}

	c.Status = status
	now := time.Now().UTC()
	c.ResolvedAt = &now
	if ttl > 0 {
		exp := now.Add(ttl)
		c.ExpiresAt = &exp
	}
	return s.writeAtomic(s.path(key), *c)
}

// Consume checks whether a confirmed grant exists for key and uses it up.
// One-time grants flip to consumed; timed grants stay valid until expiry.
// Returns true when the grant was valid.
func (s *Store) Consume(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, fmt.Errorf("invalid confirmation key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.read(key)
	if err != nil {
		return false, nil
	}
	if c.Status != StatusConfirmed {
		return false, nil
	}

	now := time.Now().UTC()
	if c.ExpiresAt != nil {
		if now.After(*c.ExpiresAt) {
			c.Status = StatusExpired
			_ = s.writeAtomic(s.path(key), *c)
			return false, nil
		}
		return true, nil
	}

	c.Status = StatusConsumed
	c.ResolvedAt = &now
	if err := s.writeAtomic(s.path(key), *c); err != nil {
		return false, err
	}
	return true, nil
}

// List returns all confirmations in the store, pending first.
func (s *Store) List() ([]Confirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read confirmation directory: %w", err)
	}

	var pending, rest []Confirmation
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		c, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		if c.Status == StatusPending {
			pending = append(pending, *c)
		} else {
			rest = append(rest, *c)
		}
	}
	return append(pending, rest...), nil
}

// Cleanup removes resolved confirmations older than 24h and flips expired
// grants. Best-effort.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		key := strings.TrimSuffix(e.Name(), ".json")
		c, err := s.read(key)
		if err != nil {
			continue
		}
		if c.Status == StatusConfirmed && c.ExpiresAt != nil && time.Now().UTC().After(*c.ExpiresAt) {
			c.Status = StatusExpired
			_ = s.writeAtomic(s.path(key), *c)
			continue
		}
		if c.Status != StatusPending && c.CreatedAt.Before(cutoff) {
			_ = os.Remove(s.path(key))
		}
	}
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) read(key string) (*Confirmation, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, err
	}
	var c Confirmation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("corrupt confirmation file: %w", err)
	}
	return &c, nil
}

// writeAtomic writes via temp file + rename so readers never see a partial
// confirmation.
func (s *Store) writeAtomic(path string, c Confirmation) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal confirmation: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write confirmation: %w", err)
	}
	return os.Rename(tmp, path)
}
