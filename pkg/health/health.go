// Package health implements the periodic per-backend reachability
// sweep: retry, back-off, an alarm-equivalent timeout, and the
// postgres→template1 database-name fallback. The retry/backoff state
// machine tracks per-backend attempt counts rather than a simple
// consecutive-failure counter.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sentrypool/sentrypool/pkg/cluster"
	"github.com/sentrypool/sentrypool/pkg/log"
	"github.com/sentrypool/sentrypool/pkg/metrics"
	"github.com/sentrypool/sentrypool/pkg/requestqueue"
	"github.com/sentrypool/sentrypool/pkg/types"
)

// Result is the outcome of a single probe attempt.
type Result struct {
	Healthy  bool
	Message  string
	Duration time.Duration
}

// Config controls the sweep's retry/backoff/timeout behavior via the
// health_check_* settings.
type Config struct {
	User       string
	Password   string
	Period     time.Duration
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Parallel   bool
}

// DefaultConfig mirrors the original's conservative defaults.
func DefaultConfig() Config {
	return Config{
		User:       "postgres",
		Period:     10 * time.Second,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		RetryDelay: 1 * time.Second,
	}
}

// PostgresChecker probes one backend with a short-lived database/sql
// connection, first against "postgres" and, on the first failure only,
// against "template1" ( step 2).
type PostgresChecker struct {
	Host, User, Password string
	Port                 int
}

// Check attempts postgres then template1, returning the first success or
// the last failure's Result.
func (c *PostgresChecker) Check(ctx context.Context) Result {
	start := time.Now()
	lastErr := c.attempt(ctx, "postgres")
	if lastErr != nil {
		if err := ctx.Err(); err != nil {
			return Result{Healthy: false, Message: "timed out before template1 retry", Duration: time.Since(start)}
		}
		lastErr = c.attempt(ctx, "template1")
	}
	if lastErr != nil {
		return Result{Healthy: false, Message: lastErr.Error(), Duration: time.Since(start)}
	}
	return Result{Healthy: true, Duration: time.Since(start)}
}

func (c *PostgresChecker) attempt(ctx context.Context, dbname string) error {
	if err := tcpPrecheck(ctx, fmt.Sprintf("%s:%d", c.Host, c.Port), 2*time.Second); err != nil {
		return err
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable connect_timeout=5",
		c.Host, c.Port, c.User, c.Password, dbname)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.PingContext(ctx)
}

// Checker is the per-backend probe abstraction; PostgresChecker
// satisfies it, and tests substitute a fake.
type Checker interface {
	Check(ctx context.Context) Result
}

// Engine runs the per-sweep retry/backoff/timeout state machine over
// every CONNECT_WAIT/UP backend, enqueueing NODE_DOWN through the
// supplied queue once a backend exhausts its retry budget.
type Engine struct {
	state *cluster.State
	queue *requestqueue.Queue
	cfg   Config
	dial  func(host string, port int) Checker

	retrycnt map[int]int
}

// New builds a health-check engine.
func New(state *cluster.State, queue *requestqueue.Queue, cfg Config) *Engine {
	return &Engine{
		state: state,
		queue: queue,
		cfg:   cfg,
		dial: func(host string, port int) Checker {
			return &PostgresChecker{Host: host, Port: port, User: cfg.User, Password: cfg.Password}
		},
		retrycnt: make(map[int]int),
	}
}

// SetDialer overrides the probe constructor; used by tests to inject a
// fake Checker without a live database.
func (e *Engine) SetDialer(dial func(host string, port int) Checker) {
	e.dial = dial
}

// Sweep performs one pass over every eligible backend. Skipped entirely
// while recovery state != INIT
func (e *Engine) Sweep(ctx context.Context) {
	if e.state.RecoveryState() != types.RecoveryInit {
		return
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.HealthCheckDuration)

	logger := log.WithComponent("health")
	backends := e.state.Backends()
	maxRetries := e.cfg.MaxRetries
	retryDelay := e.cfg.RetryDelay
	if e.cfg.Parallel {
		maxRetries = len(backends)
		if maxRetries > 0 {
			retryDelay = e.cfg.Period / time.Duration(maxRetries)
		}
	}

	for _, b := range backends {
		if b.Status != types.BackendConnectWait && b.Status != types.BackendUp {
			continue
		}

		for {
			checkCtx := ctx
			var cancel context.CancelFunc
			if e.cfg.Timeout > 0 {
				checkCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
			}
			result := e.dial(b.Hostname, b.Port).Check(checkCtx)
			if cancel != nil {
				cancel()
			}

			if result.Healthy {
				e.retrycnt[b.Index] = 0
				break
			}

			metrics.HealthCheckFailuresTotal.WithLabelValues(fmt.Sprintf("%d", b.Index)).Inc()
			e.retrycnt[b.Index]++
			count := e.retrycnt[b.Index]

			if count <= maxRetries {
				logger.Debug().Int("backend", b.Index).Int("retry", count).Msg("retrying health check")
				select {
				case <-ctx.Done():
					return
				case <-time.After(retryDelay):
				}
				continue
			}

			e.retrycnt[b.Index] = 0
			if !b.Allowed() {
				logger.Warn().Int("backend", b.Index).Msg("backend failed health check but is flagged disallow_to_failover, suppressing request")
				break
			}

			logger.Warn().Int("backend", b.Index).Msg("backend exhausted health check retries, enqueueing node_down")
			e.queue.Enqueue(types.RequestNodeDown, []int{b.Index}, true)
			break
		}
	}
}
