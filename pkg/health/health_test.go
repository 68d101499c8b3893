package health

import (
	"context"
	"testing"
	"time"

	"github.com/sentrypool/sentrypool/pkg/cluster"
	"github.com/sentrypool/sentrypool/pkg/requestqueue"
	"github.com/sentrypool/sentrypool/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	result Result
}

func (f fakeChecker) Check(ctx context.Context) Result { return f.result }

func threeUpBackends() []types.Backend {
	return []types.Backend{
		{Index: 0, Hostname: "pg0", Port: 5432, Status: types.BackendUp},
		{Index: 1, Hostname: "pg1", Port: 5432, Status: types.BackendConnectWait},
		{Index: 2, Hostname: "pg2", Port: 5432, Status: types.BackendUnused},
	}
}

func TestSweepSkipsWhileRecoveryInFlight(t *testing.T) {
	state, writer := cluster.New(threeUpBackends(), types.ModeStreamingReplication)
	writer.SetRecoveryState(types.RecoveryOngoing)
	queue := requestqueue.New(types.MinRequestQueueSize)

	engine := New(state, queue, DefaultConfig())
	engine.SetDialer(func(host string, port int) Checker {
		return fakeChecker{result: Result{Healthy: false}}
	})

	engine.Sweep(context.Background())

	assert.True(t, queue.Empty(), "health checks must be skipped entirely during an online recovery")
}

func TestSweepHealthyBackendResetsRetryCount(t *testing.T) {
	state, _ := cluster.New(threeUpBackends(), types.ModeStreamingReplication)
	queue := requestqueue.New(types.MinRequestQueueSize)

	engine := New(state, queue, DefaultConfig())
	engine.SetDialer(func(host string, port int) Checker {
		return fakeChecker{result: Result{Healthy: true}}
	})
	engine.retrycnt[0] = 2

	engine.Sweep(context.Background())

	assert.True(t, queue.Empty())
	assert.Equal(t, 0, engine.retrycnt[0], "a healthy probe must reset the backend's retry count")
}

func TestSweepExhaustedRetriesEnqueuesNodeDown(t *testing.T) {
	state, _ := cluster.New(threeUpBackends(), types.ModeStreamingReplication)
	queue := requestqueue.New(types.MinRequestQueueSize)

	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	cfg.RetryDelay = time.Millisecond
	engine := New(state, queue, cfg)
	engine.SetDialer(func(host string, port int) Checker {
		return fakeChecker{result: Result{Healthy: false, Message: "refused"}}
	})

	engine.Sweep(context.Background())

	require.False(t, queue.Empty())
	req, ok := queue.Dequeue()
	require.True(t, ok)
	assert.Equal(t, types.RequestNodeDown, req.Kind)
	assert.True(t, req.ByHealth)
}

func TestSweepDisallowToFailoverSuppressesRequest(t *testing.T) {
	backends := []types.Backend{
		{Index: 0, Hostname: "pg0", Port: 5432, Status: types.BackendUp, Flags: types.FlagDisallowToFailover},
	}
	state, _ := cluster.New(backends, types.ModeStreamingReplication)
	queue := requestqueue.New(types.MinRequestQueueSize)

	cfg := DefaultConfig()
	cfg.MaxRetries = 0
	cfg.RetryDelay = time.Millisecond
	engine := New(state, queue, cfg)
	engine.SetDialer(func(host string, port int) Checker {
		return fakeChecker{result: Result{Healthy: false}}
	})

	engine.Sweep(context.Background())

	assert.True(t, queue.Empty(), "a DISALLOW_TO_FAILOVER backend must never enqueue a node_down request")
}

func TestSweepIgnoresUnusedAndDownBackends(t *testing.T) {
	backends := []types.Backend{
		{Index: 0, Status: types.BackendUnused},
		{Index: 1, Status: types.BackendDown},
	}
	state, _ := cluster.New(backends, types.ModeStreamingReplication)
	queue := requestqueue.New(types.MinRequestQueueSize)

	calls := 0
	engine := New(state, queue, DefaultConfig())
	engine.SetDialer(func(host string, port int) Checker {
		calls++
		return fakeChecker{result: Result{Healthy: true}}
	})

	engine.Sweep(context.Background())

	assert.Equal(t, 0, calls, "UNUSED and DOWN backends are not probed")
}
