package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings (e.g. "5ms", "10s", "1m").
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Lock        LockConfig        `json:"lock"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Admin       AdminConfig       `json:"admin"`
	Tasks       []TaskConfig      `json:"tasks"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the tick loop.
type SchedulerConfig struct {
	// Tick overrides the derived loop granularity.
	Tick string `json:"tick,omitempty"`
	// LockTTL bounds a single-node lock left behind by a crashed node (default "60s").
	LockTTL string `json:"lock_ttl,omitempty"`
	// NodeID identifies this instance in lock entries. Default: random UUID per start.
	NodeID     string `json:"node_id,omitempty"`
	LockPrefix string `json:"lock_prefix,omitempty"`
	// ShutdownTimeout bounds how long stop waits for running commands (default "30s").
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
	// Shell runs commands (default "sh").
	Shell string `json:"shell,omitempty"`
	// CaptureOutput logs command output at debug level.
	CaptureOutput bool `json:"capture_output,omitempty"`
}

// LockConfig selects the single-node lock backend.
//
// Example:
//
//	"lock": { "driver": "redis", "addr": "127.0.0.1:6379" }
type LockConfig struct {
	Driver      string `json:"driver"` // memory (default), file, sqlite, redis, nats, none
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	Addr        string `json:"addr,omitempty"`         // redis
	Password    string `json:"password,omitempty"`     // redis (never logged)
	DB          int    `json:"db,omitempty"`           // redis
	URL         string `json:"url,omitempty"`          // nats
	Bucket      string `json:"bucket,omitempty"`       // nats
}

// MaintenanceConfig points at the "down" marker file.
type MaintenanceConfig struct {
	File  string `json:"file,omitempty"` // default "storage/framework/down"
	Watch bool   `json:"watch,omitempty"`
}

// AdminConfig controls the diagnostics HTTP server.
//
// Prefer binding to localhost; the server has no authentication beyond an optional token.
type AdminConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default "127.0.0.1:9090"
	Token   string `json:"token,omitempty"` // optional bearer token (never logged)
	Pprof   bool   `json:"pprof,omitempty"`
}

// TaskConfig declares one task. Exactly one of Every/EverySeconds is required.
type TaskConfig struct {
	Command              string      `json:"command"`
	Every                string      `json:"every,omitempty"`
	EverySeconds         float64     `json:"every_seconds,omitempty"`
	WithoutOverlapping   bool        `json:"without_overlapping,omitempty"`
	OnOneServer          bool        `json:"on_one_server,omitempty"`
	RunInMaintenanceMode bool        `json:"run_in_maintenance_mode,omitempty"`
	Verbose              bool        `json:"verbose,omitempty"`
	When                 *WhenConfig `json:"when,omitempty"`
}

// WhenConfig holds declarative run conditions; all set conditions must hold.
type WhenConfig struct {
	FileExists  string `json:"file_exists,omitempty"`
	FileMissing string `json:"file_missing,omitempty"`
	EnvSet      string `json:"env_set,omitempty"`
}
