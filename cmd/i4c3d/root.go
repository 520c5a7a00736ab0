package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var ov overrides

	ctx := newCommandContext(&configFlag, &ov)

	rootCmd := &cobra.Command{
		Use:           "i4c3d",
		Short:         "Voice and gesture control for 3D tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	flags.StringVar(&ov.host, "host", "", "3D tool host (overrides target.host)")
	flags.IntVar(&ov.tcpPort, "tcp-port", 0, "3D tool command port (overrides target.tcp_port)")
	flags.IntVar(&ov.udpPort, "udp-port", 0, "3D tool sign port (overrides target.udp_port)")
	flags.StringVar(&ov.mode, "mode", "", "Initial gesture mode (overrides gesture.initial_mode)")
	flags.StringVar(&ov.listen, "listen", "", "HTTP listen address (overrides server.listen)")
	flags.StringVar(&ov.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newModeCommand(ctx))
	rootCmd.AddCommand(newConnectCommand(ctx))
	rootCmd.AddCommand(newReplayCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
