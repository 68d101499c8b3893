// Package supervisor implements the worker-pool supervision model:
// forking the initial fleet, tracking PIDs, reaping children,
// restarting casualties, and driving fleet-wide restarts.
// Go has no fork() — os/exec.Cmd plus one goroutine blocked in
// cmd.Wait() per child is the idiomatic replacement, and is the
// race-free way to reap a specific child in Go (there is no equivalent
// of waitpid(-1, NOHANG) scoped to an arbitrary child set). Worker
// lifecycle is tracked with a mutex-guarded state map, one entry per
// slot.
package supervisor

import (
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sentrypool/sentrypool/pkg/log"
	"github.com/sentrypool/sentrypool/pkg/metrics"
	"github.com/sentrypool/sentrypool/pkg/types"
)

var logger = log.WithComponent("supervisor")

// exitEvent reports one child's termination, fed onto a single channel
// so the reap loop never races on which child to wait for.
type exitEvent struct {
	slot     int
	role     types.WorkerRole
	exitCode int
}

// Spawner builds the *exec.Cmd for a given worker slot/role; tests
// substitute a fake that never actually execs a PostgreSQL-facing
// binary.
type Spawner func(slot int, role types.WorkerRole) *exec.Cmd

const (
	pcpSlot = -1
	auxSlot = -2

	// GracePeriod bounds how long RestartFleet waits for SIGQUIT to take
	// effect before escalating to SIGKILL: an unavoidable completion of
	// "send SIGQUIT and re-fork" for a supervisor that must eventually
	// give up on a wedged child.
	GracePeriod = 5 * time.Second
)

// Supervisor owns numPoolWorkers pool-worker slots (0..numPoolWorkers-1)
// plus one PCP worker (slot pcpSlot) and one auxiliary worker (slot
// auxSlot).
type Supervisor struct {
	mu      sync.Mutex
	records map[int]*types.WorkerRecord
	cmds    map[int]*exec.Cmd

	numPoolWorkers int
	spawn          Spawner

	exiting   bool
	switching func() bool

	exited chan exitEvent
}

// New builds a Supervisor for numPoolWorkers pool slots. switching
// reports whether a failover is currently in flight; the reap decision
// consults it before reforking a pool worker.
func New(numPoolWorkers int, spawn Spawner, switching func() bool) *Supervisor {
	return &Supervisor{
		records:        make(map[int]*types.WorkerRecord),
		cmds:           make(map[int]*exec.Cmd),
		numPoolWorkers: numPoolWorkers,
		spawn:          spawn,
		switching:      switching,
		exited:         make(chan exitEvent, numPoolWorkers+2),
	}
}

// Start launches the initial fleet: numPoolWorkers pool workers, one PCP
// worker, and one auxiliary worker.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < s.numPoolWorkers; i++ {
		if err := s.forkLocked(i, types.WorkerRolePool); err != nil {
			return err
		}
	}
	if err := s.forkLocked(pcpSlot, types.WorkerRolePCP); err != nil {
		return err
	}
	if err := s.forkLocked(auxSlot, types.WorkerRoleAuxiliary); err != nil {
		return err
	}
	return nil
}

// forkLocked launches one worker and starts its reaper goroutine. Caller
// must hold s.mu.
func (s *Supervisor) forkLocked(slot int, role types.WorkerRole) error {
	cmd := s.spawn(slot, role)
	// Each child gets its own process group so a signal aimed at the
	// supervisor never reaches it directly, mirroring "closes the
	// parent's self-pipe ends, unblocks signals".
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		logger.Error().Err(err).Int("slot", slot).Msg("failed to start worker")
		return err
	}

	s.records[slot] = &types.WorkerRecord{
		Slot:      slot,
		Role:      role,
		PID:       cmd.Process.Pid,
		StartTime: time.Now(),
	}
	s.cmds[slot] = cmd
	metrics.WorkerRestartsTotal.WithLabelValues(roleLabel(role)).Inc()

	go s.waitForExit(slot, role, cmd)
	return nil
}

func roleLabel(r types.WorkerRole) string {
	switch r {
	case types.WorkerRolePCP:
		return "pcp"
	case types.WorkerRoleAuxiliary:
		return "auxiliary"
	default:
		return "pool"
	}
}

func (s *Supervisor) waitForExit(slot int, role types.WorkerRole, cmd *exec.Cmd) {
	err := cmd.Wait()
	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	s.exited <- exitEvent{slot: slot, role: role, exitCode: code}
}

// Reap drains every pending exit event and applies the per-role
// dispatch rule to each. Intended to be called from the event loop on
// EventChildReap.
func (s *Supervisor) Reap() {
	for {
		select {
		case ev := <-s.exited:
			s.handleExit(ev)
		default:
			return
		}
	}
}

func (s *Supervisor) handleExit(ev exitEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[ev.slot]
	if rec != nil {
		rec.PID = 0
	}
	delete(s.cmds, ev.slot)

	l := logger.With().Int("slot", ev.slot).Int("exit_code", ev.exitCode).Logger()
	if ev.exitCode == -1 {
		l = l.With().Bool("segfault_or_signal", true).Logger()
	}

	switch ev.role {
	case types.WorkerRolePCP:
		l.Warn().Msg("pcp worker exited, refork unconditionally")
		_ = s.forkLocked(ev.slot, ev.role)
	case types.WorkerRoleAuxiliary:
		if ev.exitCode != 0 {
			l.Warn().Msg("auxiliary worker exited non-zero, refork")
			_ = s.forkLocked(ev.slot, ev.role)
		} else {
			l.Info().Msg("auxiliary worker exited cleanly, not reforked")
		}
	default:
		if !s.exiting && !s.switching() && ev.exitCode != 0 {
			l.Warn().Msg("pool worker died, refork")
			_ = s.forkLocked(ev.slot, ev.role)
		} else {
			l.Info().Msg("pool worker slot left vacant")
		}
	}
}

// RestartFleet sends SIGQUIT to every pool-worker slot, waits up to
// GracePeriod for each to exit (escalating to SIGKILL past that), then
// re-forks the whole fleet. Streaming-replication NODE_UP skips this
// entirely; callers decide whether to invoke it.
func (s *Supervisor) RestartFleet() {
	s.mu.Lock()
	targets := make([]*exec.Cmd, 0, s.numPoolWorkers)
	for i := 0; i < s.numPoolWorkers; i++ {
		if cmd, ok := s.cmds[i]; ok {
			targets = append(targets, cmd)
		}
	}
	s.mu.Unlock()

	for _, cmd := range targets {
		_ = cmd.Process.Signal(syscall.SIGQUIT)
	}

	deadline := time.Now().Add(GracePeriod)
	for _, cmd := range targets {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			_ = cmd.Process.Kill()
			continue
		}
		done := make(chan struct{})
		go func(c *exec.Cmd) { _ = c.Wait(); close(done) }(cmd)
		select {
		case <-done:
		case <-time.After(remaining):
			_ = cmd.Process.Kill()
		}
	}

	s.mu.Lock()
	for i := 0; i < s.numPoolWorkers; i++ {
		if _, live := s.cmds[i]; !live {
			_ = s.forkLocked(i, types.WorkerRolePool)
		}
	}
	s.mu.Unlock()
}

// SignalAuxiliary asks the auxiliary worker to re-read state, used
// alongside RestartFleet to signal the auxiliary worker too.
func (s *Supervisor) SignalAuxiliary(sig syscall.Signal) {
	s.mu.Lock()
	cmd, ok := s.cmds[auxSlot]
	s.mu.Unlock()
	if ok && cmd.Process != nil {
		_ = cmd.Process.Signal(sig)
	}
}

// SignalFleet delivers sig to every live pool-worker slot without
// touching PCP or the auxiliary worker, and without killing or
// reforking anyone. Used for broadcasts the pool workers are expected to
// handle in place: SIGUSR1 to gently drain idle connections on
// CLOSE_IDLE, SIGUSR2 to wake workers blocked waiting for a connection.
func (s *Supervisor) SignalFleet(sig syscall.Signal) {
	s.mu.Lock()
	targets := make([]*exec.Cmd, 0, s.numPoolWorkers)
	for i := 0; i < s.numPoolWorkers; i++ {
		if cmd, ok := s.cmds[i]; ok {
			targets = append(targets, cmd)
		}
	}
	s.mu.Unlock()

	for _, cmd := range targets {
		if cmd.Process != nil {
			_ = cmd.Process.Signal(sig)
		}
	}
}

// SetExiting marks the supervisor as tearing down; live pool workers
// will no longer be reforked on exit.
func (s *Supervisor) SetExiting() {
	s.mu.Lock()
	s.exiting = true
	s.mu.Unlock()
}

// Records returns a snapshot of every tracked worker record, used to
// check the "pid is 0 or a running process" invariant.
func (s *Supervisor) Records() []types.WorkerRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.WorkerRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	return out
}
