// Package eventloop is the single cooperative-thread orchestrator tying
// the signal demultiplexer, health checker, request queue, failover
// engine, and worker supervisor together, around a ticker+select+stopCh
// main loop.
package eventloop

import (
	"context"
	"syscall"
	"time"

	"github.com/sentrypool/sentrypool/pkg/failover"
	"github.com/sentrypool/sentrypool/pkg/health"
	"github.com/sentrypool/sentrypool/pkg/log"
	"github.com/sentrypool/sentrypool/pkg/requestqueue"
	"github.com/sentrypool/sentrypool/pkg/signalmux"
	"github.com/sentrypool/sentrypool/pkg/supervisor"
)

// Loop is the main orchestrator.
type Loop struct {
	demux      *signalmux.Demux
	health     *health.Engine
	queue      *requestqueue.Queue
	failover   *failover.Engine
	supervisor *supervisor.Supervisor

	healthPeriod time.Duration
	stopCh       chan struct{}
}

// New builds the event loop.
func New(demux *signalmux.Demux, healthEngine *health.Engine, queue *requestqueue.Queue, failoverEngine *failover.Engine, sup *supervisor.Supervisor, healthPeriod time.Duration) *Loop {
	return &Loop{
		demux:        demux,
		health:       healthEngine,
		queue:        queue,
		failover:     failoverEngine,
		supervisor:   sup,
		healthPeriod: healthPeriod,
		stopCh:       make(chan struct{}),
	}
}

// Run blocks until ctx is cancelled or Stop is called. It blocks on the
// signal-mux channel with a timer equal to the next scheduled health
// check (the Go equivalent of "blocking select on the self-pipe with a
// timeout"); whatever wakes it, it then checks for a pending termination
// (which stops the loop at once) and then every other pending flag in
// the fixed order wakeup, failover, child-reap, reload, regardless of
// which one caused the wake.
func (l *Loop) Run(ctx context.Context) {
	timer := time.NewTimer(l.healthPeriod)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-l.demux.Events():
			l.drainPending(ctx)
		case <-timer.C:
			l.health.Sweep(ctx)
			timer.Reset(l.healthPeriod)
			if !l.queue.Empty() {
				l.demux.Raise(signalmux.EventFailover)
			}
			l.drainPending(ctx)
		}
	}
}

func (l *Loop) drainPending(ctx context.Context) {
	logger := log.WithComponent("eventloop")

	if l.demux.Take(signalmux.EventTerminate) {
		logger.Info().Msg("termination requested")
		if l.supervisor != nil {
			l.supervisor.SetExiting()
		}
		l.Stop()
		return
	}
	if l.demux.Take(signalmux.EventWakeup) {
		if l.supervisor != nil {
			l.supervisor.SignalFleet(syscall.SIGUSR2)
		}
	}
	if l.demux.Take(signalmux.EventFailover) {
		l.failover.Drive(ctx)
	}
	if l.demux.Take(signalmux.EventChildReap) {
		if l.supervisor != nil {
			l.supervisor.Reap()
		}
	}
	if l.demux.Take(signalmux.EventReload) {
		logger.Info().Msg("reload requested")
	}
}

// Stop requests the loop to exit on its next iteration.
func (l *Loop) Stop() {
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
}
