package session

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-results/core"
)

type expiredSessions struct {
	mu  sync.Mutex
	ids []string
}

func (e *expiredSessions) add(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, id)
}

func (e *expiredSessions) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ids...)
}

func newTestTracker(t *testing.T) (*Tracker, *clock.Mock, *expiredSessions) {
	t.Helper()
	clk := clock.NewMock()
	tr, err := NewTracker(core.SessionConfig{IdleTimeout: idleTimeout, WarningLeadTime: warningLeadTime}, clk)
	require.NoError(t, err)
	expired := new(expiredSessions)
	tr.OnExpire = expired.add
	t.Cleanup(tr.Close)
	return tr, clk, expired
}

func TestNewTracker_InvalidConfig(t *testing.T) {
	tr, err := NewTracker(core.SessionConfig{IdleTimeout: time.Minute, WarningLeadTime: time.Hour}, nil)
	assert.Nil(t, tr)
	assert.Equal(t, ErrInvalidTimeouts, errors.Cause(err))
}

func TestTracker_UnknownSession(t *testing.T) {
	tr, _, _ := newTestTracker(t)

	assert.Equal(t, ErrNotFound, tr.Touch("nope"))
	assert.Equal(t, ErrNotFound, tr.Reset("nope"))
	_, err := tr.Status("nope")
	assert.Equal(t, ErrNotFound, err)
	tr.End("nope") // no-op
}

func TestTracker_ExpiresIdleSessions(t *testing.T) {
	tr, clk, expired := newTestTracker(t)
	require.NoError(t, tr.Start("a"))
	require.NoError(t, tr.Start("b"))
	assert.Equal(t, 2, tr.Len())

	clk.Add(10 * time.Minute)
	require.NoError(t, tr.Touch("b"))

	clk.Add(idleTimeout - warningLeadTime - 10*time.Minute)
	require.Eventually(t, func() bool {
		st, err := tr.Status("a")
		return err == nil && st.State == Warning
	}, waitFor, tick)

	clk.Add(warningLeadTime)
	require.Eventually(t, func() bool { return tr.Len() == 1 }, waitFor, tick)
	assert.Equal(t, []string{"a"}, expired.list())
	assert.Equal(t, ErrNotFound, tr.Touch("a"))

	st, err := tr.Status("b")
	require.NoError(t, err)
	assert.Equal(t, Active, st.State)
}

func TestTracker_KeepAlive(t *testing.T) {
	tr, clk, expired := newTestTracker(t)
	require.NoError(t, tr.Start("a"))

	clk.Add(idleTimeout - warningLeadTime)
	require.Eventually(t, func() bool {
		st, _ := tr.Status("a")
		return st.State == Warning
	}, waitFor, tick)

	clk.Add(30 * time.Second)
	st, err := tr.Status("a")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, st.Remaining)

	require.NoError(t, tr.Reset("a"))
	st, err = tr.Status("a")
	require.NoError(t, err)
	assert.Equal(t, Active, st.State)

	clk.Add(warningLeadTime)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, expired.list())
}

func TestTracker_EndAndRestart(t *testing.T) {
	tr, clk, expired := newTestTracker(t)
	require.NoError(t, tr.Start("a"))
	tr.End("a")
	assert.Zero(t, tr.Len())

	// a replaced monitor never reports the expiry of its predecessor
	require.NoError(t, tr.Start("b"))
	clk.Add(10 * time.Minute)
	require.NoError(t, tr.Start("b"))

	clk.Add(idleTimeout - warningLeadTime)
	require.Eventually(t, func() bool {
		st, err := tr.Status("b")
		return err == nil && st.State == Warning
	}, waitFor, tick)
	assert.Empty(t, expired.list())

	clk.Add(warningLeadTime)
	require.Eventually(t, func() bool { return tr.Len() == 0 }, waitFor, tick)
	assert.Equal(t, []string{"b"}, expired.list())
}
