package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

var (
	// errors
	ErrExpired         = errors.New("session expired")
	ErrStopped         = errors.New("session monitor stopped")
	ErrInvalidTimeouts = errors.New("warning lead time must be positive and shorter than the idle timeout")
)

// State of an idle session monitor. Transitions only go forward (Active → Warning → Expired),
// except for Reset which brings a non expired monitor back to Active.
type State int

const (
	Active State = iota
	Warning
	Expired
)

var stateNames = [...]string{"active", "warning", "expired"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Options struct {
	IdleTimeout     time.Duration
	WarningLeadTime time.Duration
	Clock           clock.Clock // defaults to the wall clock

	// OnWarning is called when the countdown starts.
	OnWarning func(remaining time.Duration)
	// OnIdle is called once, when the monitor expires. The caller must force the logout.
	OnIdle func()
}

func (opts Options) validate() error {
	if opts.WarningLeadTime <= 0 || opts.WarningLeadTime >= opts.IdleTimeout {
		return errors.Wrapf(ErrInvalidTimeouts, "idle timeout %v, warning lead time %v", opts.IdleTimeout, opts.WarningLeadTime)
	}
	return nil
}

// Status is a snapshot of a Monitor.
type Status struct {
	State          State         `json:"state"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	Remaining      time.Duration `json:"-"` // countdown, only set while in Warning
}

// Monitor tracks the inactivity of a single session.
// Exactly one timer is armed at any time; each transition re-arms it.
type Monitor struct {
	mu    sync.Mutex
	opts  Options
	clock clock.Clock

	state          State
	lastActivityAt time.Time
	warningAt      time.Time
	timer          *clock.Timer
	gen            uint64 // incremented on every arm; stale timer fires are ignored
	stopped        bool
}

// NewMonitor starts monitoring right away, in the Active state.
func NewMonitor(opts Options) (*Monitor, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	m := &Monitor{opts: opts, clock: clk}
	m.mu.Lock()
	m.restart()
	m.mu.Unlock()
	return m, nil
}

// restart returns to Active and restarts the idle clock. m.mu must be held.
func (m *Monitor) restart() {
	m.state = Active
	m.lastActivityAt = m.clock.Now()
	m.warningAt = time.Time{}
	m.arm(m.opts.IdleTimeout - m.opts.WarningLeadTime)
}

// arm replaces the pending timer. m.mu must be held.
func (m *Monitor) arm(d time.Duration) {
	m.disarm()
	gen := m.gen
	m.timer = m.clock.AfterFunc(d, func() { m.fire(gen) })
}

// disarm cancels the pending timer. m.mu must be held.
func (m *Monitor) disarm() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
}

func (m *Monitor) fire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.stopped {
		m.mu.Unlock()
		return
	}

	switch m.state {
	case Active:
		m.state = Warning
		m.warningAt = m.clock.Now()
		m.arm(m.opts.WarningLeadTime)
		onWarning := m.opts.OnWarning
		m.mu.Unlock()
		if onWarning != nil {
			onWarning(m.opts.WarningLeadTime)
		}
	case Warning:
		m.state = Expired
		m.disarm()
		onIdle := m.opts.OnIdle
		m.mu.Unlock()
		if onIdle != nil {
			onIdle()
		}
	default:
		m.mu.Unlock()
	}
}

// Reset forces the Active state, cancels any countdown and restarts the idle clock.
func (m *Monitor) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.stopped:
		return ErrStopped
	case m.state == Expired:
		return ErrExpired
	}
	m.restart()
	return nil
}

// Signal records user activity. Signals are idempotent and never queue.
func (m *Monitor) Signal() error {
	return m.Reset()
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Remaining returns the countdown left before expiry while in Warning, 0 otherwise.
func (m *Monitor) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.remaining()
}

// remaining is derived from the elapsed time since the countdown began. m.mu must be held.
func (m *Monitor) remaining() time.Duration {
	if m.state != Warning {
		return 0
	}
	rem := m.opts.WarningLeadTime - m.clock.Since(m.warningAt)
	if rem < 0 {
		return 0
	}
	return rem
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:          m.state,
		LastActivityAt: m.lastActivityAt,
		ExpiresAt:      m.lastActivityAt.Add(m.opts.IdleTimeout),
		Remaining:      m.remaining(),
	}
}

// Stop tears the monitor down; OnIdle will not fire afterwards.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.disarm()
}
