package watchdog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoOpAlwaysHoldsEveryLock(t *testing.T) {
	var l Locker = NoOp{}

	assert.NoError(t, l.StartInterlock(context.Background(), true, 0))
	assert.NoError(t, l.WaitForLock(context.Background(), LockFailover))
	assert.True(t, l.AmLockHolder(LockFailback))
	assert.True(t, l.AmLockHolder(LockFollowMaster))
	l.Unlock(LockFailover)
	l.EndInterlock()
}

func TestLockNameString(t *testing.T) {
	assert.Equal(t, "failback", LockFailback.String())
	assert.Equal(t, "failover", LockFailover.String())
	assert.Equal(t, "follow_master", LockFollowMaster.String())
}
