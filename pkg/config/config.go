package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// SetAddr overrides the listen address from a host:port string. A bare
// port like ":8080" keeps the configured host.
func (c *Config) SetAddr(addr string) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		c.Server.Address = addr
		return
	}
	if h != "" {
		c.Server.Address = h
	}
	if pi, err := strconv.Atoi(p); err == nil {
		c.Server.Port = pi
	}
}

// Default returns the built-in configuration used when no file exists.
func Default() *Config {
	var cfg Config
	cfg.Presence.Enabled = true
	cfg.Presence.SeeLast = true
	cfg.Queue.Capacity = 1024
	cfg.Janitor.Cron = "0 2 * * *"
	cfg.Janitor.BatchSize = 64
	return &cfg
}

// Load reads a YAML config file into a Config.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseCommandFlags defines and parses command-line flags and returns their
// values along with a map indicating which flags were explicitly set.
func ParseCommandFlags() (addr string, dbPath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dbPtr, *cfgPtr, setFlags
}

// LoadEnvOverrides applies environment overrides onto the provided cfg and
// reports whether any env vars were used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false

	if v := os.Getenv("PRESENCEDB_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("PRESENCEDB_DB_PATH"); v != "" {
		envUsed = true
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("PRESENCEDB_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PRESENCEDB_ENABLED"); v != "" {
		envUsed = true
		cfg.Presence.Enabled = envBool(v)
	}
	if v := os.Getenv("PRESENCEDB_SEE_LAST"); v != "" {
		envUsed = true
		cfg.Presence.SeeLast = envBool(v)
	}
	if v := os.Getenv("PRESENCEDB_INCLUDE_MUTED"); v != "" {
		envUsed = true
		cfg.Presence.IncludeMuted = envBool(v)
	}
	if v := os.Getenv("PRESENCEDB_UNIVERSAL_TRACKER"); v != "" {
		envUsed = true
		cfg.Presence.UniversalTracker = envBool(v)
	}
	if v := os.Getenv("PRESENCEDB_QUEUE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Queue.Capacity = n
		}
	}
	if v := os.Getenv("PRESENCEDB_JANITOR_CRON"); v != "" {
		envUsed = true
		cfg.Janitor.Cron = v
	}
	if v := os.Getenv("PRESENCEDB_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("PRESENCEDB_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Security.RateLimit.Burst = n
		}
	}
	return envUsed
}

func envBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// LoadEffective loads config from the given path and applies environment
// overrides. A missing file falls back to defaults.
func LoadEffective(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		cfg = Default()
	}
	envUsed := LoadEnvOverrides(cfg)
	return cfg, envUsed, nil
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and PRESENCEDB_CONFIG when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("PRESENCEDB_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
