// Package config is the in-memory settings surface the supervisor's
// components are constructed from: a typed struct with defaults, plus a
// diagnostic YAML dump. BindFlags binds only the command-line surface
// (file paths, clear/detach/discard/debug switches, stop mode); every
// other field keeps its Default() value. No configuration file is read:
// the --config-file, --pcp-file and --hba-file paths are recorded but
// not parsed.
package config

import (
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// BackendConfig is one configured backend's static description.
type BackendConfig struct {
	Hostname          string `yaml:"hostname"`
	Port              int    `yaml:"port"`
	DataDir           string `yaml:"data_directory"`
	Weight            float64 `yaml:"weight"`
	DisallowToFailover bool   `yaml:"disallow_to_failover"`
}

// Config is the full set of tunables the supervisor's components need.
// Flags are named after their pgpool.conf/CLI counterparts for operator
// familiarity.
type Config struct {
	// Files / CLI surface.
	ConfigFile    string `yaml:"config_file"`
	PCPFile       string `yaml:"pcp_file"`
	HBAFile       string `yaml:"hba_file"`
	Clear         bool   `yaml:"-"`
	ClearOIDMaps  bool   `yaml:"-"`
	DontDetach    bool   `yaml:"-"`
	DiscardStatus bool   `yaml:"-"`
	Debug         bool   `yaml:"debug"`
	StopMode      string `yaml:"-"`

	SocketDir  string `yaml:"socket_dir"`
	Port       int    `yaml:"port"`
	PIDFile    string `yaml:"pid_file"`
	StatusFile string `yaml:"status_file"`
	LogDir     string `yaml:"log_dir"`

	NumInitChildren int `yaml:"num_init_children"`

	ReplicationMode string `yaml:"replication_mode"` // "raw" | "streaming"

	HealthCheckUser       string        `yaml:"health_check_user"`
	HealthCheckPassword   string        `yaml:"-"`
	HealthCheckPeriod     time.Duration `yaml:"health_check_period"`
	HealthCheckTimeout    time.Duration `yaml:"health_check_timeout"`
	HealthCheckMaxRetries int           `yaml:"health_check_max_retries"`
	HealthCheckRetryDelay time.Duration `yaml:"health_check_retry_delay"`
	ParallelModeHealthCheck bool        `yaml:"parallel_mode"`

	SearchPrimaryNodeTimeout time.Duration `yaml:"search_primary_node_timeout"`

	RequestQueueSize int `yaml:"request_queue_size"`

	FailoverCommand     string `yaml:"failover_command"`
	FailbackCommand     string `yaml:"failback_command"`
	FollowMasterCommand string `yaml:"follow_master_command"`

	WatchdogEnabled bool     `yaml:"watchdog_enabled"`
	WatchdogNodeID  string   `yaml:"watchdog_node_id"`
	WatchdogBind    string   `yaml:"watchdog_bind"`
	WatchdogPeers   []string `yaml:"watchdog_peers"`

	AuditDBPath string `yaml:"audit_db_path"`

	// Worker binaries. do_child (per-connection pooling), the PCP
	// control-plane listener, and the replication-delay auxiliary process
	// are external collaborators known only by their path; sentrypoold
	// execs whatever binaries these name.
	PoolWorkerPath      string `yaml:"pool_worker_path"`
	PCPWorkerPath       string `yaml:"pcp_worker_path"`
	AuxiliaryWorkerPath string `yaml:"auxiliary_worker_path"`

	Backends []BackendConfig `yaml:"backends"`
}

// Default returns a Config populated with conservative defaults.
func Default() *Config {
	return &Config{
		SocketDir:               "/tmp",
		Port:                    9999,
		PIDFile:                 "/var/run/sentrypoold/sentrypoold.pid",
		StatusFile:              "/var/log/sentrypoold/sentrypool_status",
		LogDir:                  "/var/log/sentrypoold",
		NumInitChildren:         32,
		ReplicationMode:         "streaming",
		HealthCheckUser:         "postgres",
		HealthCheckPeriod:       10 * time.Second,
		HealthCheckTimeout:      5 * time.Second,
		HealthCheckMaxRetries:   3,
		HealthCheckRetryDelay:   1 * time.Second,
		SearchPrimaryNodeTimeout: 0,
		RequestQueueSize:        10,
		AuditDBPath:             "/var/lib/sentrypoold/audit.db",
		PoolWorkerPath:          "/usr/local/bin/sentrypool-worker",
		PCPWorkerPath:           "/usr/local/bin/sentrypool-pcp",
		AuxiliaryWorkerPath:     "/usr/local/bin/sentrypool-auxiliary",
	}
}

// BindFlags registers the supervisor's CLI flags onto fs.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.ConfigFile, "config-file", "f", "", "configuration file path")
	fs.StringVarP(&c.PCPFile, "pcp-file", "F", "", "PCP password file path")
	fs.StringVarP(&c.HBAFile, "hba-file", "a", "", "host-based authentication file path")
	fs.BoolVarP(&c.Clear, "clear", "c", false, "clear the query cache on start")
	fs.BoolVarP(&c.ClearOIDMaps, "clear-oidmaps", "C", false, "clear OID maps on start")
	fs.BoolVarP(&c.DontDetach, "dont-detach", "n", false, "do not run in the background")
	fs.BoolVarP(&c.DiscardStatus, "discard-status", "D", false, "discard the persistent status file on start")
	fs.BoolVarP(&c.Debug, "debug", "d", false, "enable debug logging")
	fs.StringVarP(&c.StopMode, "mode", "m", "smart", "stop mode: smart, fast, or immediate")
}

// Dump renders the effective configuration as YAML for the diagnostic
// status subcommand.
func (c *Config) Dump() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
