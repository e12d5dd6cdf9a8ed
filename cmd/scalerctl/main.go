package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "scalerctl",
		Short: "fleetscaler autoscaling decision engine",
		Long:  "scalerctl runs and simulates the fleetscaler autoscaling decision engine for a serving-system control plane",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (optional, defaults apply otherwise)")

	rootCmd.AddCommand(serveCmd(), simulateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
