package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Log appends decisions, receipts and approvals to a JSONL file. Every
// line stores the hash of the line before it, so removing, reordering or
// editing a line breaks the chain at the next one.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
	head string // hash the next entry chains to
	now  func() time.Time
}

// Open opens path for appending, creating it and its directory as needed.
// An existing log is read once to find the chain head; it is not verified.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	head := GenesisHash
	err := scanLines(path, func(_ int, line []byte) error {
		if len(line) > 0 {
			head = HashLine(line)
		}
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("audit: read chain head: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	if err := terminate(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("audit: %s: %w", path, err)
	}
	return &Log{path: path, file: f, head: head, now: time.Now}, nil
}

// terminate appends a newline when the last line was written without one,
// so the next entry starts on its own line.
func terminate(f *os.File) error {
	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return err
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}
	_, err = f.Write([]byte{'\n'})
	return err
}

// WithClock sets the clock used to stamp entries that arrive without a
// timestamp. Approvals resolved before persistence are the usual case.
func (l *Log) WithClock(now func() time.Time) *Log {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
	return l
}

// Path returns the log file location.
func (l *Log) Path() string { return l.path }

// Tail returns the hash the next entry will chain to.
func (l *Log) Tail() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// Record chains e to the current head and appends it. The write is
// synced before Record returns; on error the head does not move.
func (l *Log) Record(e Entry) error {
	if !knownType(e.Type) {
		return fmt.Errorf("audit: unknown entry type %q", e.Type)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp == "" {
		e.Timestamp = l.now().UTC().Format(TimestampFormat)
	}
	e.PrevHash = l.head

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: encode %s entry: %w", e.Type, err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: append %s entry: %w", e.Type, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	l.head = HashLine(line)
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
