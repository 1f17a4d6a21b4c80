package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags
var Version = "v0.1.0"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			printBanner()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", appName, Version)
			fmt.Fprintf(cmd.OutOrStdout(), "Runtime: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
