// internal/config/loader.go
//
// Configuration loader.
//
/*
Context
--------
`Load()` builds one immutable `Config` struct from three layers (highest
precedence last):

  1. Optional dotenv file — `<root>/conf/.env`.
  2. `conf/global.yaml`.
  3. Environment variables prefixed `QRELAY_`, where `__` maps to “.”
     (e.g., `QRELAY_HTTP__LISTEN_ADDR → http.listen_addr`).

After merging, the tree is unmarshalled into strongly-typed structs,
defaulted, validated, enriched with the runtime root path, and cached in an
`atomic.Pointer` for lock-free reads.  `Reload()` simply calls `Load()`
again and swaps the pointer.

Secret values using the `vault:` scheme (currently only `store.dsn`) are
resolved through internal/vault before the config is published, so no code
downstream ever sees a Vault URI.

Notes
-----
  • `rootDir()` climbs the cwd tree until it finds `conf/global.yaml`, so
    `go run ./cmd/web` works from any sub-directory.
  • Logs use the global *sugared* logger (`zap.S()`) so early boot issues
    surface even before the file logger is installed.
*/
package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/yanizio/qrelay/internal/vault"
)

var current atomic.Pointer[Config]

/*──────────────────────────── root discovery ───────────────────────────────*/

// rootDir resolves QRELAY_ROOT or climbs directories until conf/global.yaml
// is found.  Falls back to the executable heuristic for production layout.
func rootDir() string {
	if r := os.Getenv("QRELAY_ROOT"); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	dir := wd
	for {
		if _, err := os.Stat(filepath.Join(dir, "conf", "global.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir { // reached filesystem root
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load reads .env, YAML, env overrides, defaults, validates, resolves
// secrets, and caches the Config.
func Load() (*Config, error) {
	root := rootDir()
	zap.S().Debugw("config root resolved", "root", root)

	// .env (optional, no error if missing)
	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")

	yamlPath := filepath.Join(root, "conf", "global.yaml")
	if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
		zap.S().Errorw("config yaml load failed", "file", yamlPath, "err", err)
		return nil, err
	}

	// Env overrides: QRELAY_HTTP__LISTEN_ADDR → http.listen_addr
	if err := k.Load(env.Provider("QRELAY_", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, "QRELAY_"), "__", "."))
	}), nil); err != nil {
		zap.S().Errorw("config env overlay failed", "err", err)
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		zap.S().Errorw("config unmarshal failed", "err", err)
		return nil, err
	}

	cfg.Paths.Root = root
	applyDefaults(&cfg)

	if err := validateStruct(&cfg); err != nil {
		zap.S().Errorw("config validation failed", "err", err)
		return nil, err
	}

	if err := resolveSecrets(&cfg); err != nil {
		zap.S().Errorw("config secret resolution failed", "err", err)
		return nil, err
	}

	current.Store(&cfg)
	zap.S().Infow("config loaded",
		"listen_addr", cfg.HTTP.ListenAddr,
		"storage", storageKind(&cfg),
		"root", cfg.Paths.Root,
	)
	return &cfg, nil
}

// applyDefaults fills unset tunables so YAML can stay minimal.
func applyDefaults(c *Config) {
	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = ":8080"
	}
	if c.HTTP.ResolveTimeout <= 0 {
		c.HTTP.ResolveTimeout = 2 * time.Second
	}
	if c.Store.DSN == "" && c.Store.Path == "" {
		c.Store.Path = "data/registry.json"
	}
	if c.Store.Path != "" && !filepath.IsAbs(c.Store.Path) {
		c.Store.Path = filepath.Join(c.Paths.Root, c.Store.Path)
	}
	if c.Telemetry.FlushInterval <= 0 {
		c.Telemetry.FlushInterval = 2 * time.Second
	}
	if c.Telemetry.ScanLogSize <= 0 {
		c.Telemetry.ScanLogSize = 50
	}
	if c.Supervisor.ListenAddr == "" {
		c.Supervisor.ListenAddr = ":8081"
	}
	if c.Supervisor.HealthURL == "" {
		c.Supervisor.HealthURL = "http://127.0.0.1:8080/health"
	}
	if c.Supervisor.ProbeInterval <= 0 {
		c.Supervisor.ProbeInterval = 10 * time.Second
	}
	if c.Supervisor.ProbeTimeout <= 0 {
		c.Supervisor.ProbeTimeout = 3 * time.Second
	}
	if c.Supervisor.ProbeFailures <= 0 {
		c.Supervisor.ProbeFailures = 3
	}
	if c.Supervisor.BackoffInitial <= 0 {
		c.Supervisor.BackoffInitial = time.Second
	}
	if c.Supervisor.BackoffMax <= 0 {
		c.Supervisor.BackoffMax = time.Minute
	}
	if c.Supervisor.HealthyReset <= 0 {
		c.Supervisor.HealthyReset = 2 * time.Minute
	}
}

// resolveSecrets swaps vault: URIs for their secret values.  The Vault
// client is only constructed when something actually needs it.
func resolveSecrets(c *Config) error {
	if !strings.HasPrefix(c.Store.DSN, vault.Scheme) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cli, err := vault.New(ctx)
	if err != nil {
		return err
	}
	dsn, err := cli.Resolve(ctx, c.Store.DSN)
	if err != nil {
		return err
	}
	c.Store.DSN = dsn
	return nil
}

func storageKind(c *Config) string {
	if c.Store.DSN != "" {
		return "postgres"
	}
	return "file"
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func Get() *Config  { return current.Load() }
func Reload() error { _, err := Load(); return err }
