package eventloop

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/sentrypool/sentrypool/pkg/cluster"
	"github.com/sentrypool/sentrypool/pkg/config"
	"github.com/sentrypool/sentrypool/pkg/failover"
	"github.com/sentrypool/sentrypool/pkg/health"
	"github.com/sentrypool/sentrypool/pkg/requestqueue"
	"github.com/sentrypool/sentrypool/pkg/signalmux"
	"github.com/sentrypool/sentrypool/pkg/supervisor"
	"github.com/sentrypool/sentrypool/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainPendingProcessesFixedOrderEvenWhenAllPending(t *testing.T) {
	backends := []types.Backend{
		{Index: 0, Status: types.BackendUp},
		{Index: 1, Status: types.BackendDown},
	}
	state, writer := cluster.New(backends, types.ModeRaw)
	queue := requestqueue.New(types.MinRequestQueueSize)
	queue.Enqueue(types.RequestNodeDown, []int{0}, true)

	demux := signalmux.New()
	defer demux.Stop()

	healthEngine := health.New(state, queue, health.DefaultConfig())
	failoverEngine := failover.New(state, writer, queue, nil, nil, nil, &config.Config{})

	loop := New(demux, healthEngine, queue, failoverEngine, nil, time.Hour)

	demux.Raise(signalmux.EventReload)
	demux.Raise(signalmux.EventFailover)
	demux.Raise(signalmux.EventChildReap)

	loop.drainPending(context.Background())

	b, ok := state.Backend(0)
	require.True(t, ok)
	assert.Equal(t, types.BackendDown, b.Status, "the pending failover event must have been drained and processed")
	assert.True(t, queue.Empty())
}

func TestDrainPendingTerminateStopsTheLoop(t *testing.T) {
	state, writer := cluster.New(nil, types.ModeRaw)
	queue := requestqueue.New(types.MinRequestQueueSize)
	demux := signalmux.New()
	defer demux.Stop()

	healthEngine := health.New(state, queue, health.DefaultConfig())
	failoverEngine := failover.New(state, writer, queue, nil, nil, nil, &config.Config{})
	loop := New(demux, healthEngine, queue, failoverEngine, nil, time.Hour)

	demux.Raise(signalmux.EventTerminate)
	loop.drainPending(context.Background())

	select {
	case <-loop.stopCh:
	default:
		t.Fatal("expected Stop to have closed stopCh after a terminate event")
	}
}

func TestDrainPendingWakeupBroadcastsToPoolFleet(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "woken")
	spawner := func(slot int, role types.WorkerRole) *exec.Cmd {
		if role != types.WorkerRolePool {
			return exec.Command("sleep", "5")
		}
		return exec.Command("sh", "-c", "trap 'touch "+marker+"; exit 0' USR2; sleep 5")
	}
	sup := supervisor.New(1, spawner, func() bool { return false })
	require.NoError(t, sup.Start())

	state, writer := cluster.New(nil, types.ModeRaw)
	queue := requestqueue.New(types.MinRequestQueueSize)
	demux := signalmux.New()
	defer demux.Stop()

	healthEngine := health.New(state, queue, health.DefaultConfig())
	failoverEngine := failover.New(state, writer, queue, nil, nil, nil, &config.Config{})
	loop := New(demux, healthEngine, queue, failoverEngine, sup, time.Hour)

	demux.Raise(signalmux.EventWakeup)
	loop.drainPending(context.Background())

	time.Sleep(150 * time.Millisecond)
	_, err := os.Stat(marker)
	assert.NoError(t, err, "EventWakeup must broadcast SIGUSR2 to the pool worker fleet")
}

func TestRunExitsOnContextCancellation(t *testing.T) {
	state, writer := cluster.New(nil, types.ModeRaw)
	queue := requestqueue.New(types.MinRequestQueueSize)
	demux := signalmux.New()
	defer demux.Stop()

	healthEngine := health.New(state, queue, health.DefaultConfig())
	failoverEngine := failover.New(state, writer, queue, nil, nil, nil, &config.Config{})
	loop := New(demux, healthEngine, queue, failoverEngine, nil, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
