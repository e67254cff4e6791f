// internal/config/model.go
//
// Typed configuration model.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   - optional `conf/.env`                     – dotenv values,
//   - `conf/global.yaml`                       – primary static file,
//   - `QRELAY_`-prefixed environment overrides – highest precedence.
//
// Any value beginning with the prefix `vault:` is resolved through the
// Vault client after unmarshalling, so consumers only ever see plain
// strings.  Validation happens immediately after unmarshal; the binary
// fails fast on a malformed tree.
//
// Notes
// -----
//   - Struct tags use `koanf:"…"`, not `yaml:"…"` — Koanf ignores `yaml`
//     tags unless configured otherwise.
//   - The `Paths` block is filled at runtime; YAML must not try to set it.
package config

import "time"

//
// HTTP section
//

// HTTP holds web-server tunables for the registry service.
type HTTP struct {
	ListenAddr     string        `koanf:"listen_addr" validate:"required,hostname_port"`
	ResolveTimeout time.Duration `koanf:"resolve_timeout"`
}

//
// Store section
//

// Store selects the durability layer.  A non-empty DSN picks PostgreSQL;
// otherwise Path names the JSON snapshot file (relative paths resolve
// against the runtime root).  DSN values may use the `vault:` scheme.
type Store struct {
	Path string `koanf:"path"`
	DSN  string `koanf:"dsn"`
}

//
// Telemetry section
//

// Telemetry tunes the scan recorder: how often buffered increments settle
// to the store, and how many scan-log rows each entry retains.
type Telemetry struct {
	FlushInterval time.Duration `koanf:"flush_interval"`
	ScanLogSize   int           `koanf:"scan_log_size"`
}

//
// GeoIP section
//

// GeoIP names an optional MaxMind GeoLite2 database for country lookups in
// the scan log.  Empty disables geography.
type GeoIP struct {
	Path string `koanf:"path"`
}

//
// Supervisor section
//

// Supervisor configures the watchdog binary: the worker command line, the
// probe loop, and the restart backoff bounds.
type Supervisor struct {
	Command        []string      `koanf:"command"`
	ListenAddr     string        `koanf:"listen_addr"`
	HealthURL      string        `koanf:"health_url"`
	ProbeInterval  time.Duration `koanf:"probe_interval"`
	ProbeTimeout   time.Duration `koanf:"probe_timeout"`
	ProbeFailures  int           `koanf:"probe_failures"`
	BackoffInitial time.Duration `koanf:"backoff_initial"`
	BackoffMax     time.Duration `koanf:"backoff_max"`
	HealthyReset   time.Duration `koanf:"healthy_reset"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.  The loader
// discovers Root (repo root or QRELAY_ROOT override) so later code can
// build absolute file paths.
type Paths struct {
	Root string
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the process lifetime.
type Config struct {
	HTTP       HTTP       `koanf:"http"`
	Store      Store      `koanf:"store"`
	Telemetry  Telemetry  `koanf:"telemetry"`
	GeoIP      GeoIP      `koanf:"geoip"`
	Supervisor Supervisor `koanf:"supervisor"`
	Paths      Paths      `koanf:"-"`
}
