// Package main is the entry point for the Protocol Gateway.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/compresr/protocol-gateway/internal/config"
)

const appName = "protocol-gateway"

// ASCII banner for startup
const banner = `
 ____            _                  _    ____       _
|  _ \ _ __ ___ | |_ ___   ___ ___ | |  / ___| __ _| |_ _____      ____ _ _   _
| |_) | '__/ _ \| __/ _ \ / __/ _ \| | | |  _ / _' | __/ _ \ \ /\ / / _' | | | |
|  __/| | | (_) | || (_) | (_| (_) | | | |_| | (_| | ||  __/\ V  V / (_| | |_| |
|_|   |_|  \___/ \__\___/ \___\___/|_|  \____|\__,_|\__\___| \_/\_/ \__,_|\__, |
                                                                          |___/
`

func printBanner() {
	color.New(color.FgGreen, color.Bold).Printf("%s\n", banner)
}

// loadEnvFiles loads .env from standard locations
func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}

	// Try loading from ~/.config/protocol-gateway/.env first
	configEnv := filepath.Join(homeDir, ".config", appName, ".env")
	if _, err := os.Stat(configEnv); err == nil {
		_ = godotenv.Load(configEnv)
	}

	// Also load local .env (can override)
	_ = godotenv.Load()
}

// configSearchPaths lists config locations in order of preference.
func configSearchPaths() []string {
	var paths []string
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		dir := filepath.Join(homeDir, ".config", appName)
		paths = append(paths, filepath.Join(dir, "config.yaml"), filepath.Join(dir, "config.toml"))
	}
	return append(paths, "configs/config.yaml", "configs/config.toml", "config.yaml", "config.toml")
}

// resolveConfig finds the config file. Checks: user flag -> filesystem
// locations -> embedded example. Returns raw bytes and the source name,
// whose extension selects the parser.
func resolveConfig(userConfig string, searchPaths []string) ([]byte, string, error) {
	if userConfig != "" {
		path := config.ExpandEnvWithDefaults(userConfig)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("config file not found: %s", path)
		}
		return data, path, nil
	}

	for _, path := range searchPaths {
		if data, err := os.ReadFile(path); err == nil {
			return data, path, nil
		}
	}

	if data, err := getEmbeddedConfig("config.yaml"); err == nil {
		return data, "(embedded) config.yaml", nil
	}
	return nil, "", fmt.Errorf("no config file found. Specify --config path")
}

// parseConfig parses data as TOML when source ends in .toml, YAML otherwise.
func parseConfig(data []byte, source string) (*config.Config, error) {
	if strings.EqualFold(filepath.Ext(source), ".toml") {
		return config.LoadTOMLFromBytes(data)
	}
	return config.LoadFromBytes(data)
}

// loadConfig resolves and parses the config in one step.
func loadConfig(userConfig string) (*config.Config, string, error) {
	data, source, err := resolveConfig(userConfig, configSearchPaths())
	if err != nil {
		return nil, "", err
	}
	cfg, err := parseConfig(data, source)
	if err != nil {
		return nil, source, err
	}
	return cfg, source, nil
}

func newRootCmd() *cobra.Command {
	serve := newServeCmd()

	root := &cobra.Command{
		Use:           appName,
		Short:         "Protocol Gateway - OpenAI-compatible front for Anthropic, OpenAI Responses and Chat upstreams",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		// No subcommand: serve with the same flags
		RunE: serve.RunE,
	}
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(serve, newSetKeyCmd(), newCheckConfigCmd(), newInitCmd(), newVersionCmd())
	return root
}

func main() {
	loadEnvFiles()

	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
