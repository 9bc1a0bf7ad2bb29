// Command mudscribe relays a MUD session through an LLM gateway.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "mudscribe",
		Short:         "Narrate, illustrate and translate a MUD session with an LLM",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.mudscribe/config.json)")

	root.AddCommand(
		newRunCmd(&configPath),
		newConfigCmd(&configPath),
		newVersionCmd(),
	)
	return root
}
