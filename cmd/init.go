package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var (
		output string
		format string
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an example config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output == "" {
				output = filepath.Join("configs", "config."+format)
			}
			if err := writeExampleConfig(output, format, force); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
			fmt.Fprintln(cmd.OutOrStdout(), "Edit endpoints, models and credentials, then run: protocol-gateway serve --config", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination path (default configs/config.<format>)")
	cmd.Flags().StringVar(&format, "format", "yaml", "yaml or toml")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

// writeExampleConfig copies the embedded example for format to dest.
func writeExampleConfig(dest, format string, force bool) error {
	format = strings.ToLower(format)
	names, err := listEmbeddedConfigs()
	if err != nil {
		return err
	}
	name := "config." + format
	found := false
	for _, n := range names {
		if n == name {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("unknown format %q (available: %s)", format, strings.Join(names, ", "))
	}

	data, err := getEmbeddedConfig(name)
	if err != nil {
		return err
	}

	if !force {
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", dest)
		}
	}
	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(dest, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return nil
}
