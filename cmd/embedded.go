package main

import (
	"embed"
	"fmt"
	"path"
	"sort"
)

//go:embed configs/*.yaml configs/*.toml
var configsFS embed.FS

// getEmbeddedConfig returns the raw bytes of an embedded example config.
func getEmbeddedConfig(name string) ([]byte, error) {
	return configsFS.ReadFile(path.Join("configs", name))
}

// listEmbeddedConfigs returns the names of all embedded example configs.
func listEmbeddedConfigs() ([]string, error) {
	entries, err := configsFS.ReadDir("configs")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded configs: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
