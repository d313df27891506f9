package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/samber/oops"
	"gopkg.in/yaml.v2"

	"github.com/aquasecurity/vuln-reconcile/pkg/types"
)

// Config represents the configuration file
type Config struct {
	Scanners    map[string]Scanner `yaml:"scanners" toml:"scanners"`
	Parallelism int                `yaml:"parallelism" toml:"parallelism"`
	Format      string             `yaml:"format" toml:"format"`
	Archive     string             `yaml:"archive" toml:"archive"`
}

// Scanner overrides how one scanner family is run and how its statuses are read.
type Scanner struct {
	// Command is the scanner command line; "{image}" marks the image reference.
	Command []string `yaml:"command" toml:"command"`
	// Statuses maps native status values to canonical status names.
	// When set it replaces the default table for that scanner entirely.
	Statuses map[string]string `yaml:"statuses" toml:"statuses"`
}

// Load reads a YAML or TOML configuration file, chosen by extension.
func Load(path string) (Config, error) {
	eb := oops.With("file_path", path)

	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, eb.Wrapf(err, "failed to read config file")
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err = toml.Decode(string(b), &cfg); err != nil {
			return Config{}, eb.Wrapf(err, "failed to parse TOML config")
		}
	case ".yaml", ".yml":
		if err = yaml.UnmarshalStrict(b, &cfg); err != nil {
			return Config{}, eb.Wrapf(err, "failed to parse YAML config")
		}
	default:
		return Config{}, eb.Errorf("unsupported config file extension")
	}

	if err = cfg.Validate(); err != nil {
		return Config{}, eb.Wrap(err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Parallelism < 0 {
		return oops.With("parallelism", c.Parallelism).Errorf("parallelism must not be negative")
	}
	for _, name := range c.scannerNames() {
		for native, canonical := range c.Scanners[name].Statuses {
			if _, ok := types.ParseStatus(canonical); !ok {
				return oops.With("scanner", name, "native_status", native, "status", canonical).
					Errorf("unknown canonical status, must be one of %s", strings.Join(types.Statuses, ", "))
			}
		}
	}
	return nil
}

// StatusTables builds the status tables of the scanners that define one.
func (c Config) StatusTables() map[types.ScannerKind]types.StatusTable {
	tables := make(map[types.ScannerKind]types.StatusTable)
	for name, s := range c.Scanners {
		if len(s.Statuses) == 0 {
			continue
		}
		m := make(map[string]types.Status, len(s.Statuses))
		for native, canonical := range s.Statuses {
			m[native], _ = types.ParseStatus(canonical)
		}
		tables[types.ScannerKind(name)] = types.NewStatusTable(m)
	}
	return tables
}

// Commands returns the scanner command lines that override the defaults.
func (c Config) Commands() map[types.ScannerKind][]string {
	commands := make(map[types.ScannerKind][]string)
	for name, s := range c.Scanners {
		if len(s.Command) > 0 {
			commands[types.ScannerKind(name)] = s.Command
		}
	}
	return commands
}

func (c Config) scannerNames() []string {
	names := make([]string, 0, len(c.Scanners))
	for name := range c.Scanners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
