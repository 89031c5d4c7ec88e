package config

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// FieldMapping maps one raw provider field to a schema column.
type FieldMapping struct {
	RawField    string `yaml:"raw_field"`
	SchemaField string `yaml:"schema_field"`
	Type        string `yaml:"type"`
	Required    bool   `yaml:"required"`
	// Template composes multiple raw fields into one output value,
	// e.g. "{plant}-{year}-{month}". When set, RawField is only used
	// for the required check on templated sources that name one.
	Template string `yaml:"template"`
}

// Layer identifies one layer of a tiled geometry service.
type Layer struct {
	ID   int    `yaml:"id"`
	Name string `yaml:"name"`
}

// Source describes one external dataset to ingest.
type Source struct {
	ID             string            `yaml:"id"`
	SourceType     string            `yaml:"source_type"`
	TargetTable    string            `yaml:"target_table"`
	JurisdictionID string            `yaml:"jurisdiction_id"`
	BaseURL        string            `yaml:"base_url"`
	DatasetID      string            `yaml:"dataset_id"`
	License        string            `yaml:"license"`
	RefreshCadence string            `yaml:"refresh_cadence"`
	Filters        map[string]string `yaml:"filters"`
	FieldMap       []FieldMapping    `yaml:"field_map"`
	Layers         []Layer           `yaml:"layers"`
	Extra          map[string]any    `yaml:"extra"`
}

// Validate checks the descriptor for the fields every source must carry.
func (s *Source) Validate() error {
	switch {
	case s.ID == "":
		return eris.New("config: source missing id")
	case s.SourceType == "":
		return eris.Errorf("config: source %q missing source_type", s.ID)
	case s.TargetTable == "":
		return eris.Errorf("config: source %q missing target_table", s.ID)
	}
	return nil
}

// LoadSource reads a single source descriptor YAML file.
func LoadSource(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read source %s", path)
	}

	var src Source
	if err := yaml.Unmarshal(data, &src); err != nil {
		return nil, eris.Wrapf(err, "config: parse source %s", path)
	}

	if err := src.Validate(); err != nil {
		return nil, err
	}

	return &src, nil
}

// LoadAllSources reads every *.yaml descriptor in dir, sorted by file name.
func LoadAllSources(dir string) ([]*Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "config: read sources dir %s", dir)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	sources := make([]*Source, 0, len(paths))
	for _, p := range paths {
		src, err := LoadSource(p)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}

	return sources, nil
}
