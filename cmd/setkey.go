package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/compresr/protocol-gateway/internal/store"
)

func newSetKeyCmd() *cobra.Command {
	var (
		configPath string
		keyFile    string
		key        string
	)
	cmd := &cobra.Command{
		Use:   "set-key",
		Short: "Set the server access key offline (write-once)",
		Long: `Writes the server access key file used by the access gate.
The key can only be set once; delete the file to reset it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := keyFile
			if path == "" {
				cfg, _, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				path = cfg.Server.KeyFile
			}

			ks := store.NewFileKeyStore(path)
			if ks.IsSet() {
				return fmt.Errorf("server key already set in %s", path)
			}

			if key == "" {
				var err error
				key, err = readKey(os.Stdin, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			}

			if err := ks.Set(key); err != nil {
				if errors.Is(err, store.ErrInvalidKey) {
					return errors.New("key is required")
				}
				return err
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Server key saved to %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Use header Authorization: Bearer <key> for all API requests (except /status).")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file (used for server.key_file)")
	cmd.Flags().StringVar(&keyFile, "key-file", "", "key file path (overrides the config)")
	cmd.Flags().StringVar(&key, "key", "", "key value (prompted when omitted)")
	return cmd
}

// readKey prompts without echo on a terminal, otherwise reads the first line of in.
func readKey(in *os.File, prompt io.Writer) (string, error) {
	if term.IsTerminal(int(in.Fd())) {
		fmt.Fprint(prompt, "Server access key: ")
		first, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read key: %w", err)
		}
		fmt.Fprint(prompt, "Repeat key: ")
		second, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("failed to read key: %w", err)
		}
		if string(first) != string(second) {
			return "", errors.New("keys do not match")
		}
		return strings.TrimSpace(string(first)), nil
	}
	return readKeyLine(in)
}

func readKeyLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read key: %w", err)
	}
	return strings.TrimSpace(line), nil
}
