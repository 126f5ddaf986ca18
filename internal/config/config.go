// Package config assembles the monitor's settings from defaults, an optional
// YAML file and SWARMWATCH_* environment variables, in that order.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/ryandielhenn/swarmwatch/pkg/directory"
)

const envPrefix = "SWARMWATCH_"

// Directory sources.
const (
	SourceRPC  = "rpc"
	SourceEtcd = "etcd"
)

type Config struct {
	Network  string                       `yaml:"network"`
	Networks map[string]directory.Network `yaml:"networks"`

	Listen          string   `yaml:"listen"`
	EtcdEndpoints   []string `yaml:"etcd_endpoints"`
	DirectorySource string   `yaml:"directory_source"`
	DirectoryLimit  int      `yaml:"directory_limit"`

	BatchSize       int           `yaml:"batch_size"`
	ProbeInterval   time.Duration `yaml:"probe_interval"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
	MaxInFlight     int           `yaml:"max_in_flight"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	RefreshTimeout  time.Duration `yaml:"refresh_timeout"`
	ExpiryCycles    int           `yaml:"expiry_cycles"`
	PersistQueue    int           `yaml:"persist_queue"`

	LogLevel string `yaml:"log_level"`
	LogDev   bool   `yaml:"log_dev"`
}

func Default() Config {
	return Config{
		Network:         directory.Mainnet.Name,
		Listen:          ":3030",
		DirectorySource: SourceRPC,
		DirectoryLimit:  directory.DefaultLimit,
		BatchSize:       10,
		ProbeInterval:   time.Second,
		ProbeTimeout:    5 * time.Second,
		MaxInFlight:     64,
		RefreshInterval: 60 * time.Second,
		RefreshTimeout:  30 * time.Second,
		PersistQueue:    1024,
		LogLevel:        "info",
	}
}

// Load reads defaults, then path (if not empty), then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse %s", path)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) error {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%s%s", envPrefix, name)
		}
		*dst = n
		return nil
	}
	duration := func(name string, dst *time.Duration) error {
		v, ok := lookup(envPrefix + name)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "%s%s", envPrefix, name)
		}
		*dst = d
		return nil
	}

	str("NETWORK", &c.Network)
	str("LISTEN", &c.Listen)
	str("DIRECTORY_SOURCE", &c.DirectorySource)
	str("LOG_LEVEL", &c.LogLevel)
	if v, ok := lookup(envPrefix + "ETCD_ENDPOINTS"); ok && v != "" {
		c.EtcdEndpoints = splitList(v)
	}
	if v, ok := lookup(envPrefix + "LOG_DEV"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "%sLOG_DEV", envPrefix)
		}
		c.LogDev = b
	}

	for name, dst := range map[string]*int{
		"DIRECTORY_LIMIT": &c.DirectoryLimit,
		"BATCH_SIZE":      &c.BatchSize,
		"MAX_IN_FLIGHT":   &c.MaxInFlight,
		"EXPIRY_CYCLES":   &c.ExpiryCycles,
		"PERSIST_QUEUE":   &c.PersistQueue,
	} {
		if err := integer(name, dst); err != nil {
			return err
		}
	}
	for name, dst := range map[string]*time.Duration{
		"PROBE_INTERVAL":   &c.ProbeInterval,
		"PROBE_TIMEOUT":    &c.ProbeTimeout,
		"REFRESH_INTERVAL": &c.RefreshInterval,
		"REFRESH_TIMEOUT":  &c.RefreshTimeout,
	} {
		if err := duration(name, dst); err != nil {
			return err
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ResolveNetwork returns the selected network.
func (c Config) ResolveNetwork() (directory.Network, error) {
	return directory.Lookup(c.Network, c.Networks)
}

// Validate reports the first problem found.
func (c Config) Validate() error {
	if _, err := c.ResolveNetwork(); err != nil {
		return err
	}
	switch c.DirectorySource {
	case SourceRPC:
	case SourceEtcd:
		if len(c.EtcdEndpoints) == 0 {
			return errors.New("directory_source etcd needs etcd_endpoints")
		}
	default:
		return errors.Errorf("unknown directory_source %q", c.DirectorySource)
	}
	for name, v := range map[string]int{
		"batch_size":    c.BatchSize,
		"max_in_flight": c.MaxInFlight,
		"persist_queue": c.PersistQueue,
	} {
		if v <= 0 {
			return errors.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.ExpiryCycles < 0 {
		return errors.Errorf("expiry_cycles must not be negative, got %d", c.ExpiryCycles)
	}
	for name, v := range map[string]time.Duration{
		"probe_interval":   c.ProbeInterval,
		"probe_timeout":    c.ProbeTimeout,
		"refresh_interval": c.RefreshInterval,
		"refresh_timeout":  c.RefreshTimeout,
	} {
		if v <= 0 {
			return errors.Errorf("%s must be positive, got %s", name, v)
		}
	}
	return nil
}
