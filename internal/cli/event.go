package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/agentgate/internal/model"
)

// eventFlags describes an event on the command line.
type eventFlags struct {
	file      string
	eventType string
	payload   string
	agent     string
	tenant    string
}

// build reads the event from --file ("-" for stdin) or assembles it from
// the individual flags.
func (f eventFlags) build(stdin io.Reader) (model.Event, error) {
	var e model.Event
	if f.file != "" {
		var data []byte
		var err error
		if f.file == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(f.file)
		}
		if err != nil {
			return e, fmt.Errorf("read event: %w", err)
		}
		if err := json.Unmarshal(data, &e); err != nil {
			return e, fmt.Errorf("parse event: %w", err)
		}
		return e, nil
	}

	if f.eventType == "" {
		return e, fmt.Errorf("either --file or --event-type is required")
	}
	payload := map[string]any{}
	if f.payload != "" {
		if err := json.Unmarshal([]byte(f.payload), &payload); err != nil {
			return e, fmt.Errorf("parse --payload: %w", err)
		}
	}
	return model.Event{
		EventID:    "cli-" + uuid.NewString(),
		TenantID:   f.tenant,
		AgentID:    f.agent,
		EventType:  f.eventType,
		Source:     "cli",
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}, nil
}
