package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// recipeManifest is a YAML document bundling several DDL statements
// under one resource, the way warren's `apply -f service.yaml` bundles
// a service definition — generalized here to a list of recipe
// statements applied in order, since a FlowBase recipe is itself an
// ordered sequence rather than a single named resource.
type recipeManifest struct {
	APIVersion string   `yaml:"apiVersion"`
	Kind       string   `yaml:"kind"`
	Statements []string `yaml:"statements"`
}

func isManifestFile(path string) bool {
	return strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")
}

func loadManifest(path string) (*recipeManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var m recipeManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if m.Kind != "" && m.Kind != "Recipe" {
		return nil, fmt.Errorf("%s: unsupported manifest kind %q (want Recipe)", path, m.Kind)
	}
	if len(m.Statements) == 0 {
		return nil, fmt.Errorf("%s: no statements", path)
	}
	return &m, nil
}
