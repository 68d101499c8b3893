// Package failover implements the ten-step per-request state machine
// that drives a DOWN/UP node request to a committed cluster state: one
// top-level method fanning out to named substeps, with each request as a
// whole wrapped in timer/metrics observation.
package failover

import (
	"context"
	"syscall"
	"time"

	"github.com/sentrypool/sentrypool/pkg/audit"
	"github.com/sentrypool/sentrypool/pkg/cluster"
	"github.com/sentrypool/sentrypool/pkg/config"
	"github.com/sentrypool/sentrypool/pkg/discovery"
	"github.com/sentrypool/sentrypool/pkg/hooks"
	"github.com/sentrypool/sentrypool/pkg/log"
	"github.com/sentrypool/sentrypool/pkg/metrics"
	"github.com/sentrypool/sentrypool/pkg/requestqueue"
	"github.com/sentrypool/sentrypool/pkg/supervisor"
	"github.com/sentrypool/sentrypool/pkg/types"
	"github.com/sentrypool/sentrypool/pkg/watchdog"
)

// Engine drives the failover/failback/promotion state machine, serialized
// by the cluster state's switching flag.
type Engine struct {
	state      *cluster.State
	writer     *cluster.Writer
	queue      *requestqueue.Queue
	supervisor *supervisor.Supervisor
	locker     watchdog.Locker
	auditStore *audit.Store
	cfg        *config.Config
}

// New builds a failover engine.
func New(state *cluster.State, writer *cluster.Writer, queue *requestqueue.Queue, sup *supervisor.Supervisor, locker watchdog.Locker, auditStore *audit.Store, cfg *config.Config) *Engine {
	if locker == nil {
		locker = watchdog.NoOp{}
	}
	return &Engine{state: state, writer: writer, queue: queue, supervisor: sup, locker: locker, auditStore: auditStore, cfg: cfg}
}

// Drive drains the request queue to empty, processing one request per
// iteration, serialized by BeginSwitch/EndSwitch: concurrent arrivals
// re-trigger the engine only if it was not already running.
func (e *Engine) Drive(ctx context.Context) {
	if !e.writer.BeginSwitch() {
		return
	}
	defer e.writer.EndSwitch()

	logger := log.WithComponent("failover")
	restartRequested := false

	for {
		req, ok := e.queue.Dequeue()
		if !ok {
			break
		}
		timer := metrics.NewTimer()
		restarted := e.processRequest(ctx, req)
		timer.ObserveDuration(metrics.FailoverDuration)
		metrics.RequestsProcessedTotal.WithLabelValues(req.Kind.String()).Inc()
		restartRequested = restartRequested || restarted
		logger.Info().Str("request", req.ID).Str("kind", req.Kind.String()).Msg("request processed")
	}

	// Step 10: notify PCP. Re-fork it so its state matches the new
	// cluster only if any restart was requested this drain.
	if e.supervisor != nil && restartRequested {
		e.supervisor.RestartFleet()
	}
}

// processRequest implements steps 1-9 for a single request. Returns
// whether a fleet restart was performed (step 8).
func (e *Engine) processRequest(ctx context.Context, req types.Request) bool {
	logger := log.WithComponent("failover")

	// CLOSE_IDLE carries no membership targets — it is a broadcast to
	// every pool worker to gently drain idle connections, not a status
	// transition. Handle it before validate(), whose loop only ever
	// walks req.NodeIDs and would otherwise always report "no valid
	// targets" and abandon the request.
	if req.Kind == types.RequestCloseIdle {
		if e.supervisor != nil {
			e.supervisor.SignalFleet(syscall.SIGUSR1)
		}
		metrics.FailoverRequestsTotal.WithLabelValues(req.Kind.String(), "committed").Inc()
		return false
	}

	// Step 1: validate.
	valid := e.validate(req)
	if len(valid) == 0 {
		logger.Info().Str("request", req.ID).Msg("no valid targets after validation, request abandoned")
		metrics.FailoverRequestsTotal.WithLabelValues(req.Kind.String(), "abandoned").Inc()
		return false
	}

	// Step 2: acquire watchdog inter-lock.
	lockName := lockFor(req.Kind)
	_ = e.locker.StartInterlock(ctx, req.ByHealth, firstOr(valid, -1))
	defer e.locker.EndInterlock()
	if err := e.locker.WaitForLock(ctx, lockName); err != nil {
		logger.Warn().Err(err).Msg("watchdog veto: failed to acquire lock, dropping request")
		metrics.FailoverRequestsTotal.WithLabelValues(req.Kind.String(), "watchdog_veto").Inc()
		return false
	}

	oldMaster := e.state.MasterNodeID()
	oldPrimary := e.state.PrimaryNodeID()

	// Step 3: mutate statuses.
	e.mutateStatuses(req, valid)

	// Step 4: select new master.
	newMaster := e.state.SelectMaster()

	// Step 5: select new primary.
	newPrimary := e.selectPrimary(ctx, req, valid, oldPrimary)

	holder := e.locker.AmLockHolder(lockName)

	// Step 6: run external hooks, once per membership event, only if
	// this peer holds the lock (or watchdog disabled).
	if holder {
		e.runHooks(req, valid, oldMaster, newMaster, oldPrimary, newPrimary)
	} else {
		logger.Info().Msg("not lock holder, skipping hook execution")
	}

	// Step 7: follow-master degeneration.
	if e.shouldDegenerateFollowers(req, oldPrimary, newPrimary) {
		e.degenerateFollowers(newPrimary)
		newMaster = e.state.SelectMaster()
	}

	// Step 8: fleet restart decision.
	restarted := e.maybeRestartFleet(req)

	// Step 9: commit.
	e.writer.SetMasterPrimary(newMaster, newPrimary)
	if holder {
		e.locker.Unlock(lockName)
	}

	if e.auditStore != nil {
		_ = e.auditStore.Record(audit.Entry{
			Kind:       req.Kind.String(),
			NodeIDs:    req.NodeIDs,
			NewMaster:  newMaster,
			NewPrimary: newPrimary,
		})
	}

	metrics.FailoverRequestsTotal.WithLabelValues(req.Kind.String(), "committed").Inc()
	return restarted
}

// validate drops indices invalid for the request kind (step 1). Only
// called for kinds that target specific backends; CLOSE_IDLE is handled
// in processRequest before validate is ever reached.
func (e *Engine) validate(req types.Request) []int {
	var out []int
	for _, idx := range req.NodeIDs {
		b, ok := e.state.Backend(idx)
		if !ok {
			continue
		}
		switch req.Kind {
		case types.RequestNodeUp:
			if b.Status != types.BackendDown {
				continue
			}
			if !b.Allowed() {
				continue
			}
		case types.RequestNodeDown:
			if b.Status != types.BackendUp && b.Status != types.BackendConnectWait {
				continue
			}
		case types.RequestPromoteNode:
			if b.Status != types.BackendUp && b.Status != types.BackendConnectWait {
				continue
			}
		}
		out = append(out, idx)
	}
	return out
}

func (e *Engine) mutateStatuses(req types.Request, valid []int) {
	switch req.Kind {
	case types.RequestNodeUp:
		for _, idx := range valid {
			e.writer.SetBackendStatus(idx, types.BackendConnectWait)
		}
	case types.RequestNodeDown:
		for _, idx := range valid {
			e.writer.SetBackendStatus(idx, types.BackendDown)
		}
	case types.RequestPromoteNode:
		// Promotion doesn't change backend status by itself; it only
		// changes which index is primary (step 5).
	}
}

func (e *Engine) selectPrimary(ctx context.Context, req types.Request, valid []int, oldPrimary int) int {
	if e.state.Mode() != types.ModeStreamingReplication {
		return -1
	}

	switch req.Kind {
	case types.RequestPromoteNode:
		if len(valid) > 0 {
			return valid[0]
		}
	case types.RequestNodeDown:
		if !containsInt(valid, oldPrimary) {
			// Fast path: the primary wasn't touched, avoid probing.
			return oldPrimary
		}
	}

	var timeout time.Duration
	if e.cfg != nil {
		timeout = e.cfg.SearchPrimaryNodeTimeout
	}
	return discovery.SearchPrimaryNode(ctx, e.state, discoveryConfig(e.cfg), timeout)
}

func discoveryConfig(cfg *config.Config) discovery.Config {
	if cfg == nil {
		return discovery.Config{Database: "postgres"}
	}
	return discovery.Config{
		User:     cfg.HealthCheckUser,
		Password: cfg.HealthCheckPassword,
		Database: "postgres",
		Timeout:  cfg.HealthCheckTimeout,
	}
}

func (e *Engine) runHooks(req types.Request, valid []int, oldMaster, newMaster, oldPrimary, newPrimary int) {
	if e.cfg == nil {
		return
	}
	failedIdx := firstOr(valid, -1)
	var failed types.Backend
	if failedIdx != -1 {
		failed, _ = e.state.Backend(failedIdx)
	}
	var master types.Backend
	if newMaster != -1 {
		master, _ = e.state.Backend(newMaster)
	}

	ctx := hooks.Context{
		FailedPort:      failed.Port,
		FailedDataDir:   failed.DataDir,
		FailedIndex:     failedIdx,
		FailedHost:      failed.Hostname,
		NewMasterHost:   master.Hostname,
		NewMasterIndex:  newMaster,
		NewMasterPort:   master.Port,
		NewMasterDir:    master.DataDir,
		OldMasterIndex:  oldMaster,
		OldPrimaryIndex: oldPrimary,
	}

	switch req.Kind {
	case types.RequestNodeDown:
		_ = hooks.Run(context.Background(), "failover_command", hooks.Render(e.cfg.FailoverCommand, ctx))
	case types.RequestNodeUp:
		_ = hooks.Run(context.Background(), "failback_command", hooks.Render(e.cfg.FailbackCommand, ctx))
	}

	if e.shouldFollowMaster(req, oldPrimary, newPrimary) {
		hooks.RunDetached("follow_master_command", hooks.Render(e.cfg.FollowMasterCommand, ctx))
	}
}

func (e *Engine) shouldFollowMaster(req types.Request, oldPrimary, newPrimary int) bool {
	if e.cfg == nil || e.cfg.FollowMasterCommand == "" {
		return false
	}
	return e.shouldDegenerateFollowers(req, oldPrimary, newPrimary)
}

// shouldDegenerateFollowers reports the trigger condition for
// reattaching followers: streaming replication with a configured
// follow command, when the failover targeted the old primary or a
// promotion happened.
func (e *Engine) shouldDegenerateFollowers(req types.Request, oldPrimary, newPrimary int) bool {
	if e.state.Mode() != types.ModeStreamingReplication {
		return false
	}
	if e.cfg == nil || e.cfg.FollowMasterCommand == "" {
		return false
	}
	if req.Kind == types.RequestPromoteNode {
		return true
	}
	if req.Kind == types.RequestNodeDown && newPrimary != oldPrimary {
		return true
	}
	return false
}

func (e *Engine) degenerateFollowers(newPrimary int) {
	for _, b := range e.state.Backends() {
		if b.Index == newPrimary {
			continue
		}
		if b.Status == types.BackendUnused {
			continue
		}
		e.writer.SetBackendStatus(b.Index, types.BackendDown)
	}
}

// maybeRestartFleet decides whether the worker fleet needs a restart
// after this request: streaming-replication NODE_UP never restarts;
// everything else restarts the fleet. Open Question: no "skip restart
// if master unchanged"
// shortcut is implemented, matching the original authors' deliberate
// choice to always restart rather than risk half-dead sockets.
func (e *Engine) maybeRestartFleet(req types.Request) bool {
	if e.state.Mode() == types.ModeStreamingReplication && req.Kind == types.RequestNodeUp {
		return false
	}
	if e.supervisor != nil {
		e.supervisor.RestartFleet()
		e.supervisor.SignalAuxiliary(syscall.SIGUSR1)
	}
	return true
}

func lockFor(kind types.RequestKind) watchdog.LockName {
	switch kind {
	case types.RequestNodeUp:
		return watchdog.LockFailback
	case types.RequestPromoteNode:
		return watchdog.LockFollowMaster
	default:
		return watchdog.LockFailover
	}
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func firstOr(xs []int, def int) int {
	if len(xs) == 0 {
		return def
	}
	return xs[0]
}
