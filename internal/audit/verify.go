package audit

import (
	"encoding/json"
	"errors"
	"fmt"
)

// VerifyResult is the outcome of walking a log's hash chain. Counts cover
// the lines read before the first failure.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Lines     int    `json:"lines"`
	Head      string `json:"head,omitempty"`
	Decisions int    `json:"decisions"`
	Receipts  int    `json:"receipts"`
	Approvals int    `json:"approvals"`
	// Orphans counts receipts and approvals whose decision is not earlier
	// in the same log. They do not fail verification: an envelope may
	// have been decided by a gate writing elsewhere.
	Orphans   int    `json:"orphans,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// chainError stops the walk at a specific line.
type chainError struct {
	line int
	msg  string
}

func (e *chainError) Error() string { return e.msg }

// Verify walks the log at path and checks that every line parses, has a
// known type and links to the hash of the line before it. The first line
// must link to GenesisHash.
func Verify(path string) VerifyResult {
	res := VerifyResult{Head: GenesisHash}
	seen := make(map[string]bool)

	err := scanLines(path, func(n int, line []byte) error {
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return &chainError{n, fmt.Sprintf("parse error: %v", err)}
		}
		if e.PrevHash != res.Head {
			if n == 1 {
				return &chainError{n, fmt.Sprintf("first entry prev_hash is %q, expected genesis hash", e.PrevHash)}
			}
			return &chainError{n, fmt.Sprintf("hash mismatch: expected %s, got %s", res.Head, e.PrevHash)}
		}
		if !knownType(e.Type) {
			return &chainError{n, fmt.Sprintf("unknown entry type %q", e.Type)}
		}

		switch e.Type {
		case TypeDecision:
			res.Decisions++
			seen[e.DecisionID] = true
		case TypeReceipt:
			res.Receipts++
		case TypeApproval:
			res.Approvals++
		}
		if e.Type != TypeDecision && !seen[e.DecisionID] {
			res.Orphans++
		}
		res.Head = HashLine(line)
		res.Lines = n
		return nil
	})

	var ce *chainError
	switch {
	case err == nil:
		res.Valid = true
	case errors.As(err, &ce):
		res.Error, res.ErrorLine = ce.msg, ce.line
	default:
		res.Error = err.Error()
	}
	return res
}
