// Package watchdog defines the lock-client capability the failover
// engine uses to cooperate with a peer supervisor so only one runs
// external hooks. The peer protocol itself is out of scope — it is
// treated as an abstract capability set {start, end, wait_for(name),
// am_holder(), unlock(name)} with a trivial disabled-mode implementation
// for single-node deployments — so this package defines exactly that
// interface plus two implementations: a no-op default, and an optional
// Raft-leadership-backed multi-peer
// implementation grounded on pkg/manager/manager.go's Bootstrap/Join
// pattern.
package watchdog

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/sentrypool/sentrypool/pkg/log"
)

// LockName is one of the three named locks the failover engine acquires
// depending on which hook is about to run.
type LockName int

const (
	LockFailback LockName = iota
	LockFailover
	LockFollowMaster
)

func (n LockName) String() string {
	switch n {
	case LockFailback:
		return "failback"
	case LockFailover:
		return "failover"
	case LockFollowMaster:
		return "follow_master"
	default:
		return "unknown"
	}
}

// Locker is the inter-lock capability set the failover engine depends on.
type Locker interface {
	StartInterlock(ctx context.Context, byHealthCheck bool, nodeID int) error
	EndInterlock()
	WaitForLock(ctx context.Context, name LockName) error
	AmLockHolder(name LockName) bool
	Unlock(name LockName)
}

// NoOp is the disabled-watchdog implementation: every call is a no-op
// and this peer is always considered the lock holder, so all watchdog
// calls degrade to true/no-op when watchdog is disabled.
type NoOp struct{}

func (NoOp) StartInterlock(context.Context, bool, int) error { return nil }
func (NoOp) EndInterlock()                                   {}
func (NoOp) WaitForLock(context.Context, LockName) error      { return nil }
func (NoOp) AmLockHolder(LockName) bool                       { return true }
func (NoOp) Unlock(LockName)                                  {}

// RaftLocker backs the lock API with Raft leadership: whichever peer is
// the current Raft leader holds every named lock. The FSM never applies
// real log entries — leadership alone is the signal — which keeps this
// a lock-holder election, not a replicated state machine.
type RaftLocker struct {
	raft       *raft.Raft
	sessionID  string
	interlockAt time.Time
}

// nullFSM never applies anything; Raft leadership is the only signal
// this lock client cares about.
type nullFSM struct{}

func (nullFSM) Apply(*raft.Log) interface{}         { return nil }
func (nullFSM) Snapshot() (raft.FSMSnapshot, error) { return nullSnapshot{}, nil }
func (nullFSM) Restore(rc io.ReadCloser) error       { return rc.Close() }

type nullSnapshot struct{}

func (nullSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (nullSnapshot) Release()                             {}

// NewRaftLocker starts a Raft node at bindAddr used purely for leader
// election among cooperating supervisor peers. When peers is non-empty
// it bootstraps a cluster of this node plus peers; when peers is empty
// it neither bootstraps nor joins a cluster, so the node has no leader
// until another member adds it. dataDir stores the Raft
// log/stable/snapshot stores.
func NewRaftLocker(nodeID, bindAddr, dataDir string, peers []raft.Server) (*RaftLocker, error) {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(nodeID)
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	cfg.ElectionTimeout = 500 * time.Millisecond
	cfg.CommitTimeout = 50 * time.Millisecond
	cfg.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("watchdog: resolve %s: %w", bindAddr, err)
	}
	transport, err := raft.NewTCPTransport(bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("watchdog: tcp transport: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStore(dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("watchdog: snapshot store: %w", err)
	}

	boltPath := filepath.Join(dataDir, "watchdog-raft.db")
	logStore, err := raftboltdb.NewBoltStore(boltPath)
	if err != nil {
		return nil, fmt.Errorf("watchdog: bolt store: %w", err)
	}

	r, err := raft.NewRaft(cfg, nullFSM{}, logStore, logStore, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("watchdog: new raft: %w", err)
	}

	if len(peers) > 0 {
		servers := append([]raft.Server{{ID: cfg.LocalID, Address: transport.LocalAddr()}}, peers...)
		r.BootstrapCluster(raft.Configuration{Servers: servers})
	}

	return &RaftLocker{raft: r}, nil
}

func (l *RaftLocker) StartInterlock(ctx context.Context, byHealthCheck bool, nodeID int) error {
	l.sessionID = uuid.New().String()
	l.interlockAt = time.Now()
	log.WithComponent("watchdog").Debug().
		Str("session", l.sessionID).
		Bool("by_health_check", byHealthCheck).
		Int("node", nodeID).
		Msg("interlock started")
	return nil
}

func (l *RaftLocker) EndInterlock() {
	log.WithComponent("watchdog").Debug().
		Str("session", l.sessionID).
		Dur("held", time.Since(l.interlockAt)).
		Msg("interlock ended")
	l.sessionID = ""
}

// WaitForLock blocks until this peer becomes leader or learns of a
// leader: "blocks until this peer holds the
// named lock or has learned another peer is the lock holder".
func (l *RaftLocker) WaitForLock(ctx context.Context, name LockName) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if l.raft.Leader() != "" {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// AmLockHolder reports whether this peer is the current Raft leader.
func (l *RaftLocker) AmLockHolder(name LockName) bool {
	return l.raft.State() == raft.Leader
}

func (l *RaftLocker) Unlock(name LockName) {
	// Leadership release is handled by Raft itself on shutdown/step-down;
	// nothing to do per-lock here.
}
