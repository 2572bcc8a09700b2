package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"jetstream/internal/spec"
)

const SupportedSchema = "v1"

// LoadPipelineSpec parses a pipeline YAML, validates schema_version, and
// returns the parsed pipeline file and an absolute path to the source config (if set).
// A relative cursor_file is resolved against the pipeline file as well.
func LoadPipelineSpec(path string) (spec.File, string, error) {
	var cfg spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, "", err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, "", err
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, "", fmt.Errorf("pipeline schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	cfg.Source.CursorFile = resolve(path, cfg.Source.CursorFile)
	return cfg, resolve(path, cfg.Source.Config), nil
}

func resolve(pipelinePath, p string) string {
	if p != "" && !filepath.IsAbs(p) {
		return filepath.Join(filepath.Dir(pipelinePath), p)
	}
	return p
}
