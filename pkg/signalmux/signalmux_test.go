package signalmux

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, EventTerminate, classify(syscall.SIGTERM))
	assert.Equal(t, EventTerminate, classify(syscall.SIGINT))
	assert.Equal(t, EventTerminate, classify(syscall.SIGQUIT))
	assert.Equal(t, EventChildReap, classify(syscall.SIGCHLD))
	assert.Equal(t, EventFailover, classify(syscall.SIGUSR1))
	assert.Equal(t, EventWakeup, classify(syscall.SIGUSR2))
	assert.Equal(t, EventReload, classify(syscall.SIGHUP))
}

func TestEmitCoalescesRepeats(t *testing.T) {
	d := New()
	defer d.Stop()

	d.Raise(EventFailover)
	d.Raise(EventFailover)

	assert.True(t, d.Take(EventFailover), "first Take should observe the pending flag")
	assert.False(t, d.Take(EventFailover), "a second raise coalesced into the first must not leave a second pending flag")
}

func TestTakeClearsPending(t *testing.T) {
	d := New()
	defer d.Stop()

	assert.False(t, d.Take(EventReload), "nothing pending yet")
	d.Raise(EventReload)
	assert.True(t, d.Take(EventReload))
	assert.False(t, d.Take(EventReload), "Take must clear the flag it returns true for")
}

func TestClearRemovesPendingWithoutConsumingEvent(t *testing.T) {
	d := New()
	defer d.Stop()

	d.Raise(EventWakeup)
	d.Clear(EventWakeup)
	assert.False(t, d.Take(EventWakeup))
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "wakeup", EventWakeup.String())
	assert.Equal(t, "failover", EventFailover.String())
	assert.Equal(t, "child_reap", EventChildReap.String())
	assert.Equal(t, "reload", EventReload.String())
	assert.Equal(t, "terminate", EventTerminate.String())
}
