package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-results/core"
)

var ErrNotFound = errors.New("session not found")

type trackerEntry struct {
	monitor *Monitor
	seq     uint64
}

// Tracker keeps one idle Monitor per authenticated session.
// Expired sessions are dropped and reported to OnExpire.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]trackerEntry
	seq      uint64

	idleTimeout     time.Duration
	warningLeadTime time.Duration
	clock           clock.Clock

	// OnWarning and OnExpire must be set before the first call to Start.
	OnWarning func(id string, remaining time.Duration)
	OnExpire  func(id string)
}

// NewTracker fails on invalid timeouts so a misconfigured app does not start.
func NewTracker(conf core.SessionConfig, clk clock.Clock) (*Tracker, error) {
	opts := Options{IdleTimeout: conf.IdleTimeout, WarningLeadTime: conf.WarningLeadTime}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{
		sessions:        make(map[string]trackerEntry),
		idleTimeout:     conf.IdleTimeout,
		warningLeadTime: conf.WarningLeadTime,
		clock:           clk,
	}, nil
}

// Start begins monitoring session `id`, replacing any previous monitor with the same id.
func (t *Tracker) Start(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.sessions[id]; ok {
		prev.monitor.Stop()
	}

	t.seq++
	seq := t.seq
	mon, err := NewMonitor(Options{
		IdleTimeout:     t.idleTimeout,
		WarningLeadTime: t.warningLeadTime,
		Clock:           t.clock,
		OnWarning: func(remaining time.Duration) {
			if t.OnWarning != nil {
				t.OnWarning(id, remaining)
			}
		},
		OnIdle: func() { t.expire(id, seq) },
	})
	if err != nil {
		return err
	}
	t.sessions[id] = trackerEntry{monitor: mon, seq: seq}
	return nil
}

func (t *Tracker) expire(id string, seq uint64) {
	t.mu.Lock()
	entry, ok := t.sessions[id]
	if !ok || entry.seq != seq {
		t.mu.Unlock()
		return
	}
	delete(t.sessions, id)
	t.mu.Unlock()

	if t.OnExpire != nil {
		t.OnExpire(id)
	}
}

func (t *Tracker) get(id string) (*Monitor, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.sessions[id]; ok {
		return entry.monitor, nil
	}
	return nil, ErrNotFound
}

// Touch records activity on session `id`.
func (t *Tracker) Touch(id string) error {
	mon, err := t.get(id)
	if err != nil {
		return err
	}
	return mon.Signal()
}

// Reset is the explicit "continue session" action.
func (t *Tracker) Reset(id string) error {
	mon, err := t.get(id)
	if err != nil {
		return err
	}
	return mon.Reset()
}

func (t *Tracker) Status(id string) (Status, error) {
	mon, err := t.get(id)
	if err != nil {
		return Status{}, err
	}
	return mon.Status(), nil
}

// End stops monitoring session `id` (logout). OnExpire is not called.
func (t *Tracker) End(id string) {
	t.mu.Lock()
	entry, ok := t.sessions[id]
	delete(t.sessions, id)
	t.mu.Unlock()

	if ok {
		entry.monitor.Stop()
	}
}

// Len returns the number of sessions being monitored.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Close stops all monitors.
func (t *Tracker) Close() {
	t.mu.Lock()
	sessions := t.sessions
	t.sessions = make(map[string]trackerEntry)
	t.mu.Unlock()

	for _, entry := range sessions {
		entry.monitor.Stop()
	}
}
