package federation

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// datasourcesFileName is the workspace-level registry of connected
// datasources. In the full product this lives behind the workspace
// service; the file-backed repository is the default wiring for
// self-hosted deployments and the CLI.
const datasourcesFileName = "datasources.yaml"

// YAMLRepository is a DatasourceRepository reading datasource records from
// a YAML file in the workspace root. The file is re-read on every lookup
// so credential edits take effect on the next sync without a restart.
type YAMLRepository struct {
	workspace string
}

// NewYAMLRepository creates a repository over workspace/datasources.yaml.
func NewYAMLRepository(workspace string) *YAMLRepository {
	return &YAMLRepository{workspace: workspace}
}

type datasourcesFile struct {
	Datasources []datasourceEntry `yaml:"datasources"`
}

type datasourceEntry struct {
	ID       string            `yaml:"id"`
	Name     string            `yaml:"name"`
	Provider string            `yaml:"provider"`
	Config   map[string]string `yaml:"config"`
}

// FindByID returns the stored record for a datasource id, or an error when
// the id is unknown or the registry file is unreadable.
func (r *YAMLRepository) FindByID(_ context.Context, id string) (*Datasource, error) {
	path := filepath.Join(r.workspace, datasourcesFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read datasource registry: %w", err)
	}

	var file datasourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse datasource registry %s: %w", path, err)
	}

	for _, entry := range file.Datasources {
		if entry.ID == id {
			return &Datasource{
				ID:       entry.ID,
				Name:     entry.Name,
				Provider: entry.Provider,
				Config:   entry.Config,
			}, nil
		}
	}
	return nil, fmt.Errorf("datasource %q not found in %s", id, path)
}
