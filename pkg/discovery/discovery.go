// Package discovery implements primary-node discovery for streaming-
// replication topologies: for each backend with valid
// status, issue SELECT pg_is_in_recovery() over a short-lived direct
// connection and return the first node answering false. Uses a
// dial/attempt/close shape extended with a real query round trip via
// pgx's direct-protocol connection (no database/sql pool overhead for a
// single query).
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sentrypool/sentrypool/pkg/cluster"
	"github.com/sentrypool/sentrypool/pkg/log"
	"github.com/sentrypool/sentrypool/pkg/metrics"
	"github.com/sentrypool/sentrypool/pkg/types"
)

// Config carries the credentials used to probe pg_is_in_recovery().
type Config struct {
	User     string
	Password string
	Database string
	Timeout  time.Duration
}

// isPrimary opens a direct pgx connection to one backend and asks
// whether it is in recovery. Returns false (not primary) on any
// connection or query error — an unreachable node cannot be the
// primary either way.
func isPrimary(ctx context.Context, b types.Backend, cfg Config) bool {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User, cfg.Password, b.Hostname, b.Port, cfg.Database)

	connCtx := ctx
	var cancel context.CancelFunc
	if cfg.Timeout > 0 {
		connCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	conn, err := pgx.Connect(connCtx, dsn)
	if err != nil {
		return false
	}
	defer conn.Close(context.Background())

	var inRecovery bool
	if err := conn.QueryRow(connCtx, "SELECT pg_is_in_recovery()").Scan(&inRecovery); err != nil {
		return false
	}
	return !inRecovery
}

// FindPrimary performs one pass over backends with valid status and
// returns the index of the first one not in recovery, or -1.
func FindPrimary(ctx context.Context, state *cluster.State, cfg Config) int {
	for _, b := range state.Backends() {
		if b.Status != types.BackendUp && b.Status != types.BackendConnectWait {
			continue
		}
		if isPrimary(ctx, b, cfg) {
			return b.Index
		}
	}
	return -1
}

// SearchPrimaryNode retries FindPrimary once per second for up to
// timeout seconds (0 = indefinite)
func SearchPrimaryNode(ctx context.Context, state *cluster.State, cfg Config, timeout time.Duration) int {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PrimaryDiscoveryDuration)

	logger := log.WithComponent("discovery")
	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		if idx := FindPrimary(ctx, state, cfg); idx != -1 {
			return idx
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			logger.Warn().Msg("primary discovery timed out without finding a primary")
			return -1
		}
		select {
		case <-ctx.Done():
			return -1
		case <-time.After(1 * time.Second):
		}
	}
}
