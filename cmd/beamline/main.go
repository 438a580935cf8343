// Command beamline runs the beamline core: the resource registry, processing
// triggers and result collection, behind an HTTP API.
//
//	beamline serve                 run the long-lived service
//	beamline notify start 100      send one processing notification
//	beamline results --timeout 5s  wait for the next result set
//	beamline version
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "beamline",
		Short:         "Beamline core: resource registry and processing triggers",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", getConfigPath(), "configuration file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(notifyCmd(&configPath))
	root.AddCommand(resultsCmd(&configPath))
	root.AddCommand(versionCmd())

	return root
}

// getConfigPath returns BEAMLINE_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("BEAMLINE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "beamline %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
