package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-i4c3d/internal/log"
	"github.com/teslashibe/go-i4c3d/pkg/session"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var noDashboard bool
	var noCamera bool
	var waitForCamera bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a control session",
		Long: "Start the gesture engine, the sensor endpoint, the voice listeners " +
			"and the status server, and connect to the 3D tool. Runs until interrupted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if noDashboard {
				cfg.Server.Dashboard = false
			}
			if noCamera {
				cfg.Voice.CameraEnabled = false
			}
			if cmd.Flags().Changed("wait-for-camera") {
				cfg.Voice.WaitForCameraFix = waitForCamera
			}

			log.Init(cfg.Logging.Level, cfg.Logging.Format)
			if ctx.configExists {
				log.Info("config loaded", "path", ctx.configPath)
			} else {
				log.Info("no config file, using defaults", "path", ctx.configPath)
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			app, err := session.New(cfg,
				session.WithOutput(cmd.OutOrStdout()),
				session.WithLockFile(lockPath(cfg.Server.Listen)))
			if err != nil {
				return err
			}
			if err := app.Init(runCtx); err != nil {
				return err
			}
			return app.Run(runCtx)
		},
	}

	cmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "Do not serve the dashboard page")
	cmd.Flags().BoolVar(&noCamera, "no-camera", false, "Disable the camera-angle vocabulary")
	cmd.Flags().BoolVar(&waitForCamera, "wait-for-camera", false, "Start gesture control only after \"camera fix\"")
	return cmd
}

// lockPath is one lock file per listen address, so two sessions can share a
// machine only when they serve different ports.
func lockPath(listen string) string {
	name := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, listen)
	return filepath.Join(os.TempDir(), "i4c3d-"+name+".lock")
}
