package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// step is one Record call and the breaker position expected after it.
type step struct {
	fail     bool
	wantOpen bool
	opened   bool
	closed   bool
}

func replay(t *testing.T, b *Breaker, steps []step) {
	t.Helper()
	for i, s := range steps {
		var change Change
		if s.fail {
			_, change = b.RecordFailure()
		} else {
			_, change = b.RecordSuccess()
		}
		require.Equalf(t, s.wantOpen, b.IsOpen(), "step %d", i)
		assert.Equalf(t, s.opened, change.Opened, "step %d opened", i)
		assert.Equalf(t, s.closed, change.Closed, "step %d closed", i)
	}
}

func TestBreaker_Transitions(t *testing.T) {
	tests := []struct {
		name  string
		opts  []Option
		steps []step
	}{
		{
			name: "opens at the failure threshold",
			opts: []Option{WithFailureThreshold(3)},
			steps: []step{
				{fail: true},
				{fail: true},
				{fail: true, wantOpen: true, opened: true},
				{fail: true, wantOpen: true},
			},
		},
		{
			name: "success clears the failure streak",
			opts: []Option{WithFailureThreshold(2)},
			steps: []step{
				{fail: true},
				{},
				{fail: true},
				{fail: true, wantOpen: true, opened: true},
			},
		},
		{
			name: "closes after consecutive successes",
			opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			steps: []step{
				{fail: true, wantOpen: true, opened: true},
				{wantOpen: true},
				{closed: true},
			},
		},
		{
			name: "failure while open restarts the success count",
			opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			steps: []step{
				{fail: true, wantOpen: true, opened: true},
				{wantOpen: true},
				{fail: true, wantOpen: true},
				{wantOpen: true},
				{closed: true},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			replay(t, New("outbox", tt.opts...), tt.steps)
		})
	}
}

func TestBreaker_Defaults(t *testing.T) {
	b := New("outbox")
	assert.Equal(t, "outbox", b.Name())
	assert.Equal(t, StateClosed, b.State())

	for range defaultFailureThreshold - 1 {
		b.RecordFailure()
	}
	assert.False(t, b.IsOpen())
	useFallback, _ := b.RecordFailure()
	assert.True(t, useFallback)

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_AllowProbesOncePerCooldown(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := New("outbox", WithFailureThreshold(1), WithCooldown(time.Minute), WithClock(func() time.Time { return now }))

	assert.True(t, b.Allow())
	b.RecordFailure()
	assert.False(t, b.Allow())

	now = now.Add(59 * time.Second)
	assert.False(t, b.Allow())

	now = now.Add(time.Second)
	assert.True(t, b.Allow())
	assert.False(t, b.Allow(), "second probe in the same window")

	b.RecordFailure()
	now = now.Add(30 * time.Second)
	assert.False(t, b.Allow(), "a failed probe restarts the cooldown")

	now = now.Add(30 * time.Second)
	require.True(t, b.Allow())
	usePrimary, change := b.RecordSuccess()
	assert.True(t, usePrimary)
	assert.True(t, change.Closed)
	assert.True(t, b.Allow())
}
