package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig represents the YAML configuration file structure
type FileConfig struct {
	Host         string           `yaml:"host"`
	Port         int              `yaml:"port"`
	WorkspaceDir string           `yaml:"workspace_dir"`
	Pool         PoolConfig       `yaml:"pool"`
	Attach       AttachFileConfig `yaml:"attach"`
}

type PoolConfig struct {
	MaxConnections int    `yaml:"max_connections"`
	AcquireTimeout string `yaml:"acquire_timeout"` // e.g., "30s"
}

type AttachFileConfig struct {
	ProbeTables     *bool `yaml:"probe_tables"`
	DescribeColumns *bool `yaml:"describe_columns"`
}

// loadConfigFile loads configuration from a YAML file
func loadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}
