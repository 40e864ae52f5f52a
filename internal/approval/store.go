// Package approval keeps REQUIRE_APPROVAL decisions on disk until a human
// approves or denies them.
package approval

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

	"github.com/ppiankov/agentgate/internal/redact"
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

// Status represents the state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// ErrNotFound is returned when no request exists for a decision id.
var ErrNotFound = errors.New("approval: not found")

// ErrResolved is returned when approving or denying a request that is no
// longer pending.
var ErrResolved = errors.New("approval: already resolved")

// Approval is a pending decision awaiting a human. DecisionID is the id of
// the REQUIRE_APPROVAL envelope; ApprovedDecisionID is filled with the id of
// the ALLOW envelope issued on approval.
type Approval struct {
	DecisionID         string         `json:"decision_id"`
	TraceID            string         `json:"trace_id"`
	TenantID           string         `json:"tenant_id"`
	AgentID            string         `json:"agent_id"`
	EventType          string         `json:"event_type"`
	Action             string         `json:"action"`
	Payload            map[string]any `json:"payload,omitempty"`
	RiskScore          int            `json:"risk_score"`
	Reason             string         `json:"reason"`
	PolicyID           string         `json:"policy_id,omitempty"`
	Status             Status         `json:"status"`
	CreatedAt          time.Time      `json:"created_at"`
	ResolvedAt         *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy         string         `json:"resolved_by,omitempty"`
	ApprovedDecisionID string         `json:"approved_decision_id,omitempty"`
}

// Store manages approval files on disk, one JSON file per decision.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewStore creates a Store backed by the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("approval: cannot create directory: %w", err)
	}
	return &Store{dir: dir, now: func() time.Time { return time.Now().UTC() }}, nil
}

// WithClock replaces the store clock.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Request records a pending approval. No-op if the decision is already known.
func (s *Store) Request(a Approval) error {
	if err := validateKey(a.DecisionID); err != nil {
		return fmt.Errorf("approval: invalid decision id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(a.DecisionID)
	if _, err := os.Stat(path); err == nil {
		return nil // already exists
	}

	a.Payload = redact.RedactAuto(a.Payload, nil)
	a.Status = StatusPending
	a.CreatedAt = s.now()
	a.ResolvedAt = nil
	a.ResolvedBy = ""
	a.ApprovedDecisionID = ""
	return s.writeAtomic(path, a)
}

// Get returns the approval for a decision id.
func (s *Store) Get(decisionID string) (*Approval, error) {
	if err := validateKey(decisionID); err != nil {
		return nil, fmt.Errorf("approval: invalid decision id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(decisionID)
}

// Approve resolves a pending request. The mint callback issues the ALLOW
// envelope and returns its decision id; it runs under the store lock so a
// request is approved at most once.
func (s *Store) Approve(decisionID, by string, mint func(Approval) (string, error)) (*Approval, error) {
	return s.resolve(decisionID, by, StatusApproved, mint)
}

// Deny resolves a pending request as denied.
func (s *Store) Deny(decisionID, by string) (*Approval, error) {
	return s.resolve(decisionID, by, StatusDenied, nil)
}

func (s *Store) resolve(decisionID, by string, status Status, mint func(Approval) (string, error)) (*Approval, error) {
	if err := validateKey(decisionID); err != nil {
		return nil, fmt.Errorf("approval: invalid decision id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.read(decisionID)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusPending {
		return a, fmt.Errorf("approval %q is %s: %w", decisionID, a.Status, ErrResolved)
	}

	if mint != nil {
		id, err := mint(*a)
		if err != nil {
			return nil, fmt.Errorf("approval: issue allow decision: %w", err)
		}
		a.ApprovedDecisionID = id
	}

	now := s.now()
	a.Status = status
	a.ResolvedAt = &now
	a.ResolvedBy = by
	if err := s.writeAtomic(s.path(decisionID), *a); err != nil {
		return nil, err
	}
	return a, nil
}

// Expire marks pending requests older than maxAge as expired and returns
// how many changed.
func (s *Store) Expire(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return 0, err
	}
	now := s.now()
	n := 0
	for _, a := range all {
		if a.Status != StatusPending || now.Sub(a.CreatedAt) <= maxAge {
			continue
		}
		a.Status = StatusExpired
		a.ResolvedAt = &now
		if err := s.writeAtomic(s.path(a.DecisionID), a); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// List returns approvals, oldest first. With statuses given, only those
// statuses are returned.
func (s *Store) List(statuses ...Status) ([]Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return all, nil
	}
	var out []Approval
	for _, a := range all {
		for _, st := range statuses {
			if a.Status == st {
				out = append(out, a)
				break
			}
		}
	}
	return out, nil
}

// Pending returns requests still waiting for a human.
func (s *Store) Pending() ([]Approval, error) {
	return s.List(StatusPending)
}

// Cleanup removes all approval files in the store.
func (s *Store) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *Store) readAll() ([]Approval, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var approvals []Approval
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		a, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		approvals = append(approvals, *a)
	}
	sort.SliceStable(approvals, func(i, j int) bool {
		return approvals[i].CreatedAt.Before(approvals[j].CreatedAt)
	})
	return approvals, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) read(key string) (*Approval, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("approval %q: %w", key, ErrNotFound)
		}
		return nil, err
	}

	var a Approval
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("approval %q: %w", key, err)
	}

	return &a, nil
}

func (s *Store) writeAtomic(path string, a Approval) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
