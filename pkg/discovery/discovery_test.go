package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/sentrypool/sentrypool/pkg/cluster"
	"github.com/sentrypool/sentrypool/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestFindPrimaryReturnsNegativeOneWhenUnreachable(t *testing.T) {
	backends := []types.Backend{
		{Index: 0, Hostname: "127.0.0.1", Port: 1, Status: types.BackendUp},
	}
	state, _ := cluster.New(backends, types.ModeStreamingReplication)

	idx := FindPrimary(context.Background(), state, Config{Database: "postgres", Timeout: 200 * time.Millisecond})

	assert.Equal(t, -1, idx, "an unreachable backend can never be reported as primary")
}

func TestFindPrimarySkipsDownAndUnusedBackends(t *testing.T) {
	backends := []types.Backend{
		{Index: 0, Status: types.BackendDown},
		{Index: 1, Status: types.BackendUnused},
	}
	state, _ := cluster.New(backends, types.ModeStreamingReplication)

	idx := FindPrimary(context.Background(), state, Config{Database: "postgres", Timeout: 200 * time.Millisecond})

	assert.Equal(t, -1, idx)
}

func TestSearchPrimaryNodeRespectsTimeout(t *testing.T) {
	backends := []types.Backend{
		{Index: 0, Hostname: "127.0.0.1", Port: 1, Status: types.BackendUp},
	}
	state, _ := cluster.New(backends, types.ModeStreamingReplication)

	start := time.Now()
	idx := SearchPrimaryNode(context.Background(), state, Config{Database: "postgres", Timeout: 50 * time.Millisecond}, 300*time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, -1, idx)
	assert.Less(t, elapsed, 2*time.Second, "SearchPrimaryNode must honor its outer timeout rather than retry indefinitely")
}

func TestSearchPrimaryNodeHonorsContextCancellation(t *testing.T) {
	backends := []types.Backend{
		{Index: 0, Hostname: "127.0.0.1", Port: 1, Status: types.BackendUp},
	}
	state, _ := cluster.New(backends, types.ModeStreamingReplication)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	idx := SearchPrimaryNode(ctx, state, Config{Database: "postgres", Timeout: 20 * time.Millisecond}, 0)

	assert.Equal(t, -1, idx)
}
