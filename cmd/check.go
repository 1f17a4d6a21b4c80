package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/compresr/protocol-gateway/internal/config"
	"github.com/compresr/protocol-gateway/internal/keypool"
	"github.com/compresr/protocol-gateway/internal/store"
)

func newCheckConfigCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config and print a summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, source, err := loadConfig(configPath)
			if err != nil {
				if source != "" {
					return fmt.Errorf("%s: %w", source, err)
				}
				return err
			}
			secrets, err := keypool.Collect(cfg.Credentials.Keys, cfg.Credentials.KeysFile)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), cfg, source, len(secrets), store.NewFileKeyStore(cfg.Server.KeyFile).IsSet())
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (.yaml or .toml)")
	return cmd
}

func printSummary(w io.Writer, cfg *config.Config, source string, credentials int, keySet bool) {
	ok := color.New(color.FgGreen).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	head := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(w, "%s %s\n\n", ok("✓ config valid:"), source)

	fmt.Fprintln(w, head("Server"))
	fmt.Fprintf(w, "  port            %d\n", cfg.Server.Port)
	fmt.Fprintf(w, "  rate limit      %d req/s per IP\n", cfg.Server.RateLimit)
	if keySet {
		fmt.Fprintf(w, "  server key      %s (%s)\n", ok("set"), cfg.Server.KeyFile)
	} else {
		fmt.Fprintf(w, "  server key      %s (visit /status or run set-key)\n", warn("not set"))
	}

	fmt.Fprintln(w, head("Endpoints"))
	for _, ep := range cfg.Endpoints {
		auth := config.AuthHeaderAuthorization
		if ep.UsesXAPIKey() {
			auth = config.AuthHeaderXAPIKey
		}
		fmt.Fprintf(w, "  %-10s      %s (%s)\n", ep.Type, ep.BaseURL, auth)
	}

	fmt.Fprintln(w, head("Models"))
	for _, m := range config.NewRegistry(cfg).ListModels() {
		fmt.Fprintf(w, "  %-24s %-10s reasoning=%s\n", m.ID, m.Type, m.Reasoning)
	}

	fmt.Fprintln(w, head("Credentials"))
	if credentials == 0 {
		fmt.Fprintf(w, "  pool            %s\n", warn("empty (clients must send X-Endpoint-Authorization)"))
	} else {
		fmt.Fprintf(w, "  pool            %d keys, %s\n", credentials, cfg.Credentials.Algorithm)
	}
	fmt.Fprintf(w, "  remove on 402   %v\n", cfg.Credentials.RemoveOn402())
	fmt.Fprintf(w, "  skip threshold  %v\n", cfg.Credentials.SkipThreshold)
	if cfg.Balance.Enabled() {
		fmt.Fprintf(w, "  balance checks  %s (batch %d, delay %s)\n", cfg.Balance.URL, cfg.Balance.BatchSize, cfg.Balance.BatchDelay)
	} else {
		fmt.Fprintf(w, "  balance checks  %s\n", warn("disabled"))
	}
}
