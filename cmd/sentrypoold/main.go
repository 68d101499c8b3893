// Command sentrypoold is the supervisor daemon entrypoint: the
// start/reload/stop CLI surface, daemonization, PID-file handling, and
// the graceful-shutdown signal sequence.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/sentrypool/sentrypool/pkg/audit"
	"github.com/sentrypool/sentrypool/pkg/cluster"
	"github.com/sentrypool/sentrypool/pkg/config"
	"github.com/sentrypool/sentrypool/pkg/eventloop"
	"github.com/sentrypool/sentrypool/pkg/failover"
	"github.com/sentrypool/sentrypool/pkg/health"
	"github.com/sentrypool/sentrypool/pkg/log"
	"github.com/sentrypool/sentrypool/pkg/metrics"
	"github.com/sentrypool/sentrypool/pkg/requestqueue"
	"github.com/sentrypool/sentrypool/pkg/signalmux"
	"github.com/sentrypool/sentrypool/pkg/statusstore"
	"github.com/sentrypool/sentrypool/pkg/supervisor"
	"github.com/sentrypool/sentrypool/pkg/types"
	"github.com/sentrypool/sentrypool/pkg/watchdog"
	"github.com/spf13/cobra"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

var cfg = config.Default()

func main() {
	root := &cobra.Command{
		Use:          "sentrypoold",
		Short:        "PostgreSQL connection-pool supervisor",
		Version:      Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context())
		},
	}
	cfg.BindFlags(root.Flags())

	root.AddCommand(&cobra.Command{
		Use:   "reload",
		Short: "ask the running supervisor to reload configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return signalRunning(cfg.PIDFile, syscall.SIGHUP)
		},
	})

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "stop the running supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cfg)
		},
	}
	stopCmd.Flags().StringVarP(&cfg.StopMode, "mode", "m", "smart", "stop mode: smart, fast, or immediate")
	root.AddCommand(stopCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "dump the effective configuration (diagnostic, supplemental to the original control surface)",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := cfg.Dump()
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	root.AddCommand(statusCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runStart implements the no-positional "start" mode: a stale PID file
// whose PID is live aborts startup; a stale PID file whose PID is dead
// is overwritten with a warning.
func runStart(ctx context.Context) error {
	log.Init(log.Config{Level: levelFor(cfg.Debug), JSONOutput: !cfg.DontDetach})
	logger := log.WithComponent("main")

	if err := checkStalePIDFile(cfg.PIDFile); err != nil {
		return err
	}
	if !cfg.DontDetach {
		if err := daemonize(); err != nil {
			return fmt.Errorf("daemonize: %w", err)
		}
	}
	if err := writePIDFile(cfg.PIDFile); err != nil {
		return err
	}
	defer os.Remove(cfg.PIDFile)

	backends := loadBackendsFromConfig(cfg)
	mode := types.ModeStreamingReplication
	if cfg.ReplicationMode == "raw" {
		mode = types.ModeRaw
	}

	statuses := statusstore.Load(cfg.StatusFile, len(backends), cfg.DiscardStatus)
	for i := range backends {
		if i < len(statuses) {
			backends[i].Status = statuses[i]
		}
	}

	state, writer := cluster.New(backends, mode)

	queue := requestqueue.New(cfg.RequestQueueSize)
	demux := signalmux.New()
	defer demux.Stop()

	var locker watchdog.Locker = watchdog.NoOp{}
	if cfg.WatchdogEnabled {
		rl, err := watchdog.NewRaftLocker(cfg.WatchdogNodeID, cfg.WatchdogBind, cfg.LogDir, nil)
		if err != nil {
			logger.Error().Err(err).Msg("failed to start watchdog raft locker, falling back to no-op")
			metrics.RegisterComponent("watchdog-lock", false, err.Error())
		} else {
			locker = rl
			metrics.RegisterComponent("watchdog-lock", true, "")
		}
	}

	var auditStore *audit.Store
	if cfg.AuditDBPath != "" {
		var err error
		auditStore, err = audit.Open(cfg.AuditDBPath)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to open audit store, continuing without it")
		} else {
			defer auditStore.Close()
		}
	}

	sup := supervisor.New(cfg.NumInitChildren, workerSpawner(cfg), state.Switching)
	if err := sup.Start(); err != nil {
		logger.Error().Err(err).Msg("fatal: failed to start worker fleet")
		metrics.RegisterComponent("worker-supervisor", false, err.Error())
		return err
	}
	metrics.SetVersion(Version)
	metrics.RegisterComponent("worker-supervisor", true, "")

	healthCfg := health.DefaultConfig()
	healthCfg.User = cfg.HealthCheckUser
	healthCfg.Password = cfg.HealthCheckPassword
	healthCfg.Period = cfg.HealthCheckPeriod
	healthCfg.Timeout = cfg.HealthCheckTimeout
	healthCfg.MaxRetries = cfg.HealthCheckMaxRetries
	healthCfg.RetryDelay = cfg.HealthCheckRetryDelay
	healthCfg.Parallel = cfg.ParallelModeHealthCheck
	healthEngine := health.New(state, queue, healthCfg)
	metrics.RegisterComponent("health-checker", true, "")

	failoverEngine := failover.New(state, writer, queue, sup, locker, auditStore, cfg)
	metrics.RegisterComponent("failover-engine", true, "")

	loop := eventloop.New(demux, healthEngine, queue, failoverEngine, sup, cfg.HealthCheckPeriod)

	go serveMetrics(cfg.Port + 1)

	loop.Run(ctx)

	final := make([]types.BackendStatus, len(backends))
	for i, b := range state.Backends() {
		final[i] = b.Status
	}
	if err := statusstore.Save(cfg.StatusFile, final); err != nil {
		logger.Warn().Err(err).Msg("failed to persist status file on shutdown")
	}
	return nil
}

// workerSpawner builds the per-slot command line for a pool, PCP, or
// auxiliary worker. The per-connection worker binary itself (do_child),
// the PCP control-plane binary, and the replication-delay auxiliary
// binary are external collaborators known only by their path; sentrypoold
// execs whatever binaries config names for each role.
func workerSpawner(cfg *config.Config) supervisor.Spawner {
	return func(slot int, role types.WorkerRole) *exec.Cmd {
		switch role {
		case types.WorkerRolePCP:
			return exec.Command(cfg.PCPWorkerPath)
		case types.WorkerRoleAuxiliary:
			return exec.Command(cfg.AuxiliaryWorkerPath)
		default:
			return exec.Command(cfg.PoolWorkerPath, strconv.Itoa(slot))
		}
	}
}

func runStop(cfg *config.Config) error {
	sig := syscall.SIGTERM
	switch types.ParseStopMode(cfg.StopMode) {
	case types.StopFast, types.StopImmediate:
		sig = syscall.SIGINT
	}
	if err := signalRunning(cfg.PIDFile, sig); err != nil {
		return err
	}
	pid, err := readPIDFile(cfg.PIDFile)
	if err != nil {
		return nil
	}
	for i := 0; i < 300; i++ {
		if err := syscall.Kill(pid, 0); err != nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("supervisor pid %d did not exit in time", pid)
}

func signalRunning(pidFile string, sig syscall.Signal) error {
	pid, err := readPIDFile(pidFile)
	if err != nil {
		return err
	}
	return syscall.Kill(pid, sig)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// checkStalePIDFile aborts startup on a live PID and removes a dead one
// with a warning.
func checkStalePIDFile(path string) error {
	pid, err := readPIDFile(path)
	if err != nil {
		return nil
	}
	if err := syscall.Kill(pid, 0); err == nil {
		return fmt.Errorf("pid file %s is live (pid %d), refusing to start", path, pid)
	}
	log.WithComponent("main").Warn().Int("pid", pid).Msg("removing stale pid file")
	return os.Remove(path)
}

func levelFor(debug bool) log.Level {
	if debug {
		return log.DebugLevel
	}
	return log.InfoLevel
}

func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	_ = http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}

func loadBackendsFromConfig(cfg *config.Config) []types.Backend {
	out := make([]types.Backend, len(cfg.Backends))
	for i, b := range cfg.Backends {
		flags := types.BackendFlag(0)
		if b.DisallowToFailover {
			flags |= types.FlagDisallowToFailover
		}
		out[i] = types.Backend{
			Index:    i,
			Hostname: b.Hostname,
			Port:     b.Port,
			DataDir:  b.DataDir,
			Weight:   b.Weight,
			Status:   types.BackendConnectWait,
			Flags:    flags,
		}
	}
	return out
}
