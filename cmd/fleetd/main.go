// fleetd is the fleet decision daemon and CLI: it projects the versioned
// registry, scores subnet decentralization, plans membership changes and
// rollouts, and computes node provider rewards.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/icfleet/fleetd/internal/buildinfo"
)

var rootCmd = &cobra.Command{
	Use:           "fleetd",
	Short:         "Fleet decision core for decentralized compute subnets",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Printf("fleetd %s (%s, built %s)\n", buildinfo.Version, buildinfo.GitCommit, buildinfo.BuildTime)
	},
}

func init() {
	log.SetFlags(log.LstdFlags | log.LUTC)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fleetd: %v\n", err)
		os.Exit(1)
	}
}
