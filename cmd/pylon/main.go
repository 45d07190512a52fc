// Command pylon runs the gateway process and its operator subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pylonproxy/pylon/internal/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "pylon",
		Short: "Pylon is a credential-authenticated reverse-proxy gateway",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "./config/config.example.yaml", "path to yaml config")

	root.AddCommand(newServeCmd())
	root.AddCommand(newIssueCmd())
	root.AddCommand(newSetPasswordCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfigQuiet loads the config for the one-shot operator subcommands,
// which don't need the structured logger serve wires up.
func loadConfigQuiet() (*config.Config, error) {
	return config.Load(configPath)
}
