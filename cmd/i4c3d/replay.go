package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-i4c3d/pkg/bridge"
)

func newReplayCommand(ctx *commandContext) *cobra.Command {
	var url string
	var sensorID string
	var speed float64

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Stream a recorded sensor session to a running engine",
		Long: "Read JSON messages (one per line) and send them to the sensor endpoint. " +
			"Skeleton, token and ping messages are forwarded; others are skipped.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if speed < 0 {
				return errors.New("--speed must be non-negative")
			}
			target := strings.TrimSpace(url)
			if target == "" {
				base, err := ctx.serverURL()
				if err != nil {
					return err
				}
				target = base
			}

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open recording: %w", err)
			}
			defer f.Close()

			client, err := bridge.New(bridge.Config{URL: target, SensorID: sensorID, MaxAttempts: 3})
			if err != nil {
				return err
			}
			defer client.Close()

			st, err := client.Replay(cmd.Context(), f, speed)
			fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d messages (%d skipped) to %s\n", st.Sent, st.Skipped, client.Endpoint())
			return err
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Engine URL (default: derived from server.listen)")
	cmd.Flags().StringVar(&sensorID, "sensor-id", "replay", "Sensor ID to register as")
	cmd.Flags().Float64Var(&speed, "speed", 1, "Playback speed; 0 sends as fast as possible")
	return cmd
}
