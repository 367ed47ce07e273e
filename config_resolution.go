package main

import (
	"strconv"
	"time"

	"github.com/sheetstack/duckfed/federation"
)

type configCLIInputs struct {
	Set map[string]bool

	Host            string
	Port            int
	WorkspaceDir    string
	MaxConnections  int
	AcquireTimeout  string
	ProbeTables     bool
	DescribeColumns bool
}

type resolvedConfig struct {
	Host         string
	Port         int
	WorkspaceDir string
	Federation   federation.Config
}

func defaultConfig() resolvedConfig {
	return resolvedConfig{
		Host:         "127.0.0.1",
		Port:         8388,
		WorkspaceDir: "./workspace",
		Federation: federation.Config{
			MaxConnections:  4,
			AcquireTimeout:  30 * time.Second,
			ProbeTables:     true,
			DescribeColumns: true,
		},
	}
}

// resolveEffectiveConfig merges defaults, file config, environment and CLI
// flags, in that order of increasing precedence. Pure function so precedence
// is testable without touching the process environment.
func resolveEffectiveConfig(fileCfg *FileConfig, cli configCLIInputs, getenv func(string) string, warn func(string)) resolvedConfig {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	if warn == nil {
		warn = func(string) {}
	}
	if cli.Set == nil {
		cli.Set = map[string]bool{}
	}

	cfg := defaultConfig()

	if fileCfg != nil {
		if fileCfg.Host != "" {
			cfg.Host = fileCfg.Host
		}
		if fileCfg.Port != 0 {
			cfg.Port = fileCfg.Port
		}
		if fileCfg.WorkspaceDir != "" {
			cfg.WorkspaceDir = fileCfg.WorkspaceDir
		}
		if fileCfg.Pool.MaxConnections > 0 {
			cfg.Federation.MaxConnections = fileCfg.Pool.MaxConnections
		}
		if fileCfg.Pool.AcquireTimeout != "" {
			if d, err := time.ParseDuration(fileCfg.Pool.AcquireTimeout); err == nil {
				cfg.Federation.AcquireTimeout = d
			} else {
				warn("Invalid acquire_timeout duration: " + err.Error())
			}
		}
		if fileCfg.Attach.ProbeTables != nil {
			cfg.Federation.ProbeTables = *fileCfg.Attach.ProbeTables
		}
		if fileCfg.Attach.DescribeColumns != nil {
			cfg.Federation.DescribeColumns = *fileCfg.Attach.DescribeColumns
		}
	}

	if v := getenv("DUCKFED_HOST"); v != "" {
		cfg.Host = v
	}
	if v := getenv("DUCKFED_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		} else {
			warn("Invalid DUCKFED_PORT: " + err.Error())
		}
	}
	if v := getenv("DUCKFED_WORKSPACE_DIR"); v != "" {
		cfg.WorkspaceDir = v
	}
	if v := getenv("DUCKFED_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Federation.MaxConnections = n
		} else {
			warn("Invalid DUCKFED_MAX_CONNECTIONS: " + err.Error())
		}
	}
	if v := getenv("DUCKFED_ACQUIRE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Federation.AcquireTimeout = d
		} else {
			warn("Invalid DUCKFED_ACQUIRE_TIMEOUT duration: " + err.Error())
		}
	}
	if v := getenv("DUCKFED_PROBE_TABLES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Federation.ProbeTables = b
		} else {
			warn("Invalid DUCKFED_PROBE_TABLES: " + err.Error())
		}
	}
	if v := getenv("DUCKFED_DESCRIBE_COLUMNS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Federation.DescribeColumns = b
		} else {
			warn("Invalid DUCKFED_DESCRIBE_COLUMNS: " + err.Error())
		}
	}

	if cli.Set["host"] {
		cfg.Host = cli.Host
	}
	if cli.Set["port"] {
		cfg.Port = cli.Port
	}
	if cli.Set["workspace-dir"] {
		cfg.WorkspaceDir = cli.WorkspaceDir
	}
	if cli.Set["max-connections"] {
		cfg.Federation.MaxConnections = cli.MaxConnections
	}
	if cli.Set["acquire-timeout"] {
		if d, err := time.ParseDuration(cli.AcquireTimeout); err == nil {
			cfg.Federation.AcquireTimeout = d
		} else {
			warn("Invalid --acquire-timeout duration: " + err.Error())
		}
	}
	if cli.Set["probe-tables"] {
		cfg.Federation.ProbeTables = cli.ProbeTables
	}
	if cli.Set["describe-columns"] {
		cfg.Federation.DescribeColumns = cli.DescribeColumns
	}

	if cfg.Federation.MaxConnections <= 0 {
		warn("max_connections must be positive, using default")
		cfg.Federation.MaxConnections = defaultConfig().Federation.MaxConnections
	}

	return cfg
}
