package alert

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// deliveryBudget caps one event's delivery to one webhook, retries included.
const deliveryBudget = 15 * time.Second

// Dispatcher fans out alert events to matching webhook configurations.
type Dispatcher struct {
	configs []AlertConfig
	log     io.Writer
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty; a nil Dispatcher drops every event.
func NewDispatcher(configs []AlertConfig) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	return &Dispatcher{configs: configs, log: os.Stderr}
}

// WithLog redirects delivery failures.
func (d *Dispatcher) WithLog(w io.Writer) *Dispatcher {
	if d != nil {
		d.log = w
	}
	return d
}

// Dispatch sends the event to all webhooks whose Events list matches.
// Matching is on the lowercased verdict or on event.Type.
// Fires goroutines and does not block the caller.
func (d *Dispatcher) Dispatch(event AlertEvent) {
	if d == nil {
		return
	}
	for _, cfg := range d.configs {
		if matches(cfg.Events, event) {
			d.wg.Add(1)
			go func(cfg AlertConfig) {
				defer d.wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), deliveryBudget)
				defer cancel()
				if err := Send(ctx, cfg, event); err != nil {
					fmt.Fprintf(d.log, "alert: %s: %v\n", cfg.URL, err)
				}
			}(cfg)
		}
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func matches(events []string, event AlertEvent) bool {
	verdict := strings.ToLower(event.Verdict)
	for _, e := range events {
		if verdict != "" && e == verdict {
			return true
		}
		if event.Type != "" && e == event.Type {
			return true
		}
	}
	return false
}
