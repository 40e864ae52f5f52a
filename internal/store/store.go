// Package store is the append-only sqlite log of decision envelopes and
// execution receipts. Rows keep the exact JSON that was signed so records
// replay byte-for-byte.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/agentgate/internal/contract"
)

// ErrNotFound is returned when no envelope exists for a decision id.
var ErrNotFound = errors.New("store: not found")

// DecisionStore persists envelopes and receipts.
type DecisionStore struct {
	db *sql.DB
}

// Open opens (or creates) the sqlite database at path.
func Open(path string) (*DecisionStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle and creates the tables.
func New(db *sql.DB) (*DecisionStore, error) {
	s := &DecisionStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

func (s *DecisionStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS envelopes (
			decision_id TEXT PRIMARY KEY,
			trace_id    TEXT NOT NULL,
			tenant_id   TEXT NOT NULL,
			agent_id    TEXT NOT NULL,
			event_type  TEXT NOT NULL,
			verdict     TEXT NOT NULL,
			reason_code TEXT NOT NULL,
			risk_score  INTEGER NOT NULL,
			timestamp   TEXT NOT NULL,
			body        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS envelopes_agent ON envelopes (agent_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS receipts (
			receipt_id  TEXT PRIMARY KEY,
			decision_id TEXT NOT NULL,
			outcome     TEXT NOT NULL,
			timestamp   TEXT NOT NULL,
			body        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS receipts_decision ON receipts (decision_id, timestamp)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *DecisionStore) Close() error {
	return s.db.Close()
}

// SaveEnvelope appends an envelope. Saving the same decision id twice fails.
func (s *DecisionStore) SaveEnvelope(ctx context.Context, env *contract.DecisionEnvelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("store: marshal envelope: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO envelopes (
		decision_id, trace_id, tenant_id, agent_id, event_type, verdict, reason_code, risk_score, timestamp, body
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		env.DecisionID, env.TraceID, env.Context.TenantID, env.Context.AgentID, env.Context.EventType,
		string(env.Verdict), string(env.ReasonCode), env.RiskScore, formatTime(env.Timestamp), string(body),
	)
	if err != nil {
		return fmt.Errorf("store: insert envelope %s: %w", env.DecisionID, err)
	}
	return nil
}

// SaveReceipt appends a receipt.
func (s *DecisionStore) SaveReceipt(ctx context.Context, r *contract.ExecutionReceipt) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("store: marshal receipt: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO receipts (
		receipt_id, decision_id, outcome, timestamp, body
	) VALUES (?, ?, ?, ?, ?)`,
		r.ReceiptID, r.DecisionID, string(r.Outcome), formatTime(r.Timestamp), string(body),
	)
	if err != nil {
		return fmt.Errorf("store: insert receipt %s: %w", r.ReceiptID, err)
	}
	return nil
}

// Executed reports whether decisionID already has an EXECUTED receipt.
func (s *DecisionStore) Executed(ctx context.Context, decisionID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM receipts WHERE decision_id = ? AND outcome = ?`,
		decisionID, string(contract.OutcomeExecuted),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: count receipts %s: %w", decisionID, err)
	}
	return n > 0, nil
}

// Envelope returns the envelope for a decision id.
func (s *DecisionStore) Envelope(ctx context.Context, decisionID string) (*contract.DecisionEnvelope, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM envelopes WHERE decision_id = ?`, decisionID).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: envelope %s: %w", decisionID, ErrNotFound)
		}
		return nil, fmt.Errorf("store: query envelope: %w", err)
	}
	var env contract.DecisionEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, fmt.Errorf("store: decode envelope %s: %w", decisionID, err)
	}
	return &env, nil
}

// Receipts returns every receipt linked to a decision id, oldest first.
func (s *DecisionStore) Receipts(ctx context.Context, decisionID string) ([]*contract.ExecutionReceipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM receipts WHERE decision_id = ? ORDER BY timestamp, rowid`, decisionID)
	if err != nil {
		return nil, fmt.Errorf("store: query receipts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contract.ExecutionReceipt
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r contract.ExecutionReceipt
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("store: decode receipt: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// Filter narrows List. Zero values match everything; Limit <= 0 means 50.
type Filter struct {
	AgentID string
	Verdict string
	Since   time.Time
	Limit   int
}

// List returns envelopes, newest first.
func (s *DecisionStore) List(ctx context.Context, f Filter) ([]*contract.DecisionEnvelope, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT body FROM envelopes WHERE 1=1`
	var args []any
	if f.AgentID != "" {
		q += ` AND agent_id = ?`
		args = append(args, f.AgentID)
	}
	if f.Verdict != "" {
		q += ` AND verdict = ?`
		args = append(args, f.Verdict)
	}
	if !f.Since.IsZero() {
		q += ` AND timestamp >= ?`
		args = append(args, formatTime(f.Since))
	}
	q += ` ORDER BY timestamp DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list envelopes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*contract.DecisionEnvelope
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var env contract.DecisionEnvelope
		if err := json.Unmarshal([]byte(body), &env); err != nil {
			return nil, fmt.Errorf("store: decode envelope: %w", err)
		}
		out = append(out, &env)
	}
	return out, rows.Err()
}

// Chain loads an envelope with its receipts and validates the link.
func (s *DecisionStore) Chain(ctx context.Context, decisionID string) (contract.ChainResult, error) {
	env, err := s.Envelope(ctx, decisionID)
	if err != nil {
		return contract.ChainResult{}, err
	}
	receipts, err := s.Receipts(ctx, decisionID)
	if err != nil {
		return contract.ChainResult{}, err
	}
	return contract.ValidateChain(env, receipts), nil
}

// fixed width so lexical order is time order
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}
