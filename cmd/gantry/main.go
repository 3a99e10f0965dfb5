package main

import (
	"fmt"
	"os"

	"gantry/cmd/gantry/ui"
	"gantry/internal/logging"
	"gantry/internal/support/buildinfo"

	"github.com/spf13/cobra"
)

func main() {
	var (
		debug   bool
		socket  string
		noColor bool
	)
	if err := logging.Configure(logging.LevelWarn); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "gantry",
		Short:         "Inspect and control the gantry routing daemon",
		Version:       buildinfo.Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.ConfigureColor(noColor)
			level := logging.LevelWarn
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	root.PersistentFlags().StringVar(&socket, "socket", "/var/run/gantryd.sock", "Daemon unix socket path")

	root.AddCommand(statusCmd(&socket))
	root.AddCommand(routesCmd(&socket))
	root.AddCommand(historyCmd(&socket))
	root.AddCommand(rebuildCmd(&socket))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		os.Exit(1)
	}
}
