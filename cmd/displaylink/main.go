// cmd/displaylink/main.go
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	logLevel   string
	rootCmd    *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:           "displaylink",
		Short:         "Drive a wireless e-paper display from a calendar feed",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "displaylink.yaml", "Path to the YAML config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (trace, debug, info, warn, error)")

	rootCmd.AddCommand(newRunCmd(), newScanCmd(), newVersionCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "displaylink %s\n", version)
			if rev := vcsRevision(); rev != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "revision: %s\n", rev)
			}
		},
	}
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}
