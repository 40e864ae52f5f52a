package identity

import (
	"strings"
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager() (*SessionManager, *fakeClock) {
	clk := &fakeClock{now: t0}
	return NewSessionManager(0).WithClock(clk.Now), clk
}

func TestStartGeneratesSession(t *testing.T) {
	m, _ := newTestManager()
	s, err := m.Start("agent-1", map[string]string{"ide": "vscode"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(s.SessionID, "sess-") {
		t.Errorf("expected sess- prefix, got %q", s.SessionID)
	}
	if s.Status != StatusActive || !s.StartTime.Equal(t0) {
		t.Errorf("unexpected session %+v", s)
	}
	if s.Metadata["ide"] != "vscode" {
		t.Errorf("expected metadata kept, got %v", s.Metadata)
	}
	if _, err := m.Start("", nil); err == nil {
		t.Error("expected error for empty agent id")
	}
}

func TestSecondStartClosesFirst(t *testing.T) {
	m, _ := newTestManager()
	first, _ := m.Start("agent-1", nil)
	second, _ := m.Start("agent-1", nil)

	if first.SessionID == second.SessionID {
		t.Fatal("expected distinct sessions")
	}
	old, _ := m.Get(first.SessionID)
	if old.Status != StatusClosed {
		t.Errorf("expected first session closed, got %s", old.Status)
	}
	active, ok := m.Active("agent-1")
	if !ok || active.SessionID != second.SessionID {
		t.Errorf("expected second session active, got %+v", active)
	}
	if n := len(m.ActiveSessions()); n != 1 {
		t.Errorf("expected one active session, got %d", n)
	}
}

func TestActiveTouchesAndTimesOut(t *testing.T) {
	m, clk := newTestManager()
	s, _ := m.Start("agent-1", nil)

	clk.Advance(20 * time.Minute)
	got, ok := m.Active("agent-1")
	if !ok || !got.LastActive.Equal(t0.Add(20*time.Minute)) {
		t.Fatalf("expected touched session, got %+v", got)
	}

	// 20 more minutes is within 30 of the touch.
	clk.Advance(20 * time.Minute)
	if _, ok := m.Active("agent-1"); !ok {
		t.Fatal("expected session alive after touch")
	}

	clk.Advance(31 * time.Minute)
	if _, ok := m.Active("agent-1"); ok {
		t.Fatal("expected idle session to time out")
	}
	stored, _ := m.Get(s.SessionID)
	if stored.Status != StatusTimeout {
		t.Errorf("expected timeout status, got %s", stored.Status)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m, _ := newTestManager()
	s, _ := m.Start("agent-1", nil)
	m.Close(s.SessionID)
	m.Close(s.SessionID)
	m.Close("sess-unknown")

	if _, ok := m.Active("agent-1"); ok {
		t.Error("expected no active session after close")
	}
	got, _ := m.Get(s.SessionID)
	if got.Status != StatusClosed {
		t.Errorf("expected closed, got %s", got.Status)
	}
}

func TestSweep(t *testing.T) {
	m, clk := newTestManager()
	idle, _ := m.Start("idle", nil)
	clk.Advance(31 * time.Minute)
	m.Start("fresh", nil)

	if n := m.Sweep(); n != 1 {
		t.Errorf("expected one timeout, got %d", n)
	}
	got, _ := m.Get(idle.SessionID)
	if got.Status != StatusTimeout {
		t.Errorf("expected timeout, got %s", got.Status)
	}

	clk.Advance(31 * time.Minute)
	m.Sweep()
	if _, ok := m.Get(idle.SessionID); ok {
		t.Error("expected ended session dropped on later sweep")
	}
}

func TestConcurrentStartKeepsSingleActive(t *testing.T) {
	m := NewSessionManager(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Start("shared", nil)
			m.Active("shared")
		}()
	}
	wg.Wait()

	active := 0
	for _, s := range m.ActiveSessions() {
		if s.AgentID == "shared" {
			active++
		}
	}
	if active != 1 {
		t.Errorf("expected exactly one active session, got %d", active)
	}
}
