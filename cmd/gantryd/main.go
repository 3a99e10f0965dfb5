package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gantry/config"
	daemonruntime "gantry/daemon"
	"gantry/internal/logging"
	"gantry/internal/support/buildinfo"

	"github.com/spf13/cobra"
)

func main() {
	if err := logging.Configure(logging.LevelInfo); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var network string
	var socketPath string
	var debug bool

	cmd := &cobra.Command{
		Use:     "gantryd",
		Short:   "Nginx routing daemon for Docker containers",
		Version: buildinfo.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			// Flags win over file and environment.
			if network != "" {
				cfg.Network = network
			}
			if socketPath != "" {
				cfg.Socket = socketPath
			}
			if debug {
				cfg.LogLevel = logging.LevelDebug
			}
			if err := logging.Configure(cfg.LogLevel); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return daemonruntime.Run(ctx, cfg)
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&configPath, "config", config.Path(), "Config file path")
	cmd.Flags().StringVar(&network, "network", "", "Docker bridge network to watch")
	cmd.Flags().StringVar(&socketPath, "socket", "", "Control API unix socket path")
	return cmd
}
