package gate

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ppiankov/agentgate/internal/model"
)

// traceIDFor correlates an envelope with its originating event.
func traceIDFor(e model.Event) string {
	switch {
	case e.CorrelationID != "":
		return e.CorrelationID
	case e.EventID != "":
		return e.EventID
	}
	return newTraceID()
}

func newTraceID() string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		// Fallback to timestamp-based ID if crypto/rand fails
		return fmt.Sprintf("t-%x", time.Now().UnixNano())
	}
	return "t-" + hex.EncodeToString(b)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
