package captoken

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// validID matches alphanumeric and dash characters only (cap-<hex>).
var validID = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// validateID rejects IDs that could cause path traversal.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("id must not be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("id must not contain '..'")
	}
	if !validID.MatchString(id) {
		return fmt.Errorf("id contains invalid characters")
	}
	return nil
}

// Store keeps issued tokens as JSON files so the CLI can look them up by id.
// Stored tokens are still verified on every use.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store backed by the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("captoken: cannot create token directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// DefaultDir returns the default token store directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "agentgate-tokens")
	}
	return filepath.Join(home, ".agentgate", "tokens")
}

// Save writes the token under its id.
func (s *Store) Save(t *Token) error {
	if err := validateID(t.TokenID); err != nil {
		return fmt.Errorf("captoken: invalid token id: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAtomic(s.path(t.TokenID), t)
}

// Load reads a token by id.
func (s *Store) Load(id string) (*Token, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("captoken: invalid token id: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.read(id)
	if err != nil {
		return nil, fmt.Errorf("captoken: token %q not found: %w", id, err)
	}
	return t, nil
}

// List returns all stored tokens ordered by issue time.
func (s *Store) List() ([]Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tokens []Token
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		t, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		tokens = append(tokens, *t)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].IssuedAt.Before(tokens[j].IssuedAt) })
	return tokens, nil
}

// Cleanup removes tokens that expired before now.
func (s *Store) Cleanup(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		t, err := s.read(id)
		if err != nil {
			continue
		}
		if now.After(t.ExpiresAt) {
			if err := os.Remove(s.path(id)); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) read(id string) (*Token, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, err
	}
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) writeAtomic(path string, t *Token) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
