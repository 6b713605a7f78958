package config

import (
	"DaemonStore/logger"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl"
	"github.com/pkg/errors"
)

/*
Engine configuration, read from an HCL file:

	data_dir      = "/var/lib/daemonstore"
	buffer_frames = 256
	log_level     = "debug"

Paths left empty are placed under data_dir.
*/

const (
	DefaultFrames = 100
	MinFrames     = 20
)

type Config struct {
	DataDir       string `hcl:"data_dir"`
	BufferFrames  int    `hcl:"buffer_frames"`
	LogFile       string `hcl:"log_file"`     // write-ahead log
	TraceFile     string `hcl:"trace_file"`   // recovery trace
	CatalogFile   string `hcl:"catalog_file"` // table id ↔ path registry
	LogLevel      string `hcl:"log_level"`
	LogOutput     string `hcl:"log_output"` // structured log destination, stderr when empty
	LockWaitTrace bool   `hcl:"lock_wait_trace"`
}

var knownKeys = map[string]struct{}{
	"data_dir":        {},
	"buffer_frames":   {},
	"log_file":        {},
	"trace_file":      {},
	"catalog_file":    {},
	"log_level":       {},
	"log_output":      {},
	"lock_wait_trace": {},
}

// Default returns the configuration for an engine living in dir.
func Default(dir string) Config {
	cfg := Config{DataDir: dir, LogLevel: "info"}
	cfg.fill()
	return cfg
}

func (c *Config) fill() {
	if c.BufferFrames == 0 {
		c.BufferFrames = DefaultFrames
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.DataDir, "daemon.log")
	}
	if c.TraceFile == "" {
		c.TraceFile = filepath.Join(c.DataDir, "recovery.trace")
	}
	if c.CatalogFile == "" {
		c.CatalogFile = filepath.Join(c.DataDir, "catalog.db")
	}
}

// Load reads an HCL file. Unknown keys are rejected.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(string(b))
}

func Parse(src string) (Config, error) {
	var raw map[string]interface{}
	if err := hcl.Decode(&raw, src); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	var unknown []string
	for name := range raw {
		if _, ok := knownKeys[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Config{}, errors.Errorf("%s is not a config variable", unknown[0])
	}

	var cfg Config
	if err := hcl.Decode(&cfg, src); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "."
	}
	cfg.fill()
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir must be set")
	}
	if c.BufferFrames < MinFrames {
		return errors.Errorf("buffer_frames must be at least %d, got %d", MinFrames, c.BufferFrames)
	}
	if c.LogFile == "" {
		return errors.New("log_file must be set")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}
