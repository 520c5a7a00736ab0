package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-i4c3d/internal/httpc"
	"github.com/teslashibe/go-i4c3d/pkg/web"
)

const requestTimeout = 5 * time.Second

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.serverURL()
			if err != nil {
				return err
			}
			reqCtx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			var st web.Status
			if err := httpc.GetJSON(reqCtx, base+"/api/status", &st); err != nil {
				return fmt.Errorf("query %s: %w", base, err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			renderStatus(out, st)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw status document")
	return cmd
}

func renderStatus(out io.Writer, st web.Status) {
	fmt.Fprintf(out, "Mode:      %s (armed: %s)\n", st.Engine.Mode, yesNo(st.Engine.Armed))
	fmt.Fprintf(out, "Tool:      %s %s (udp %d)\n", st.Channel.State, st.Channel.Target.TCPAddr(), st.Channel.Target.UDPPort)
	fmt.Fprintf(out, "Frames:    %d (%d gestures, %d commands)\n", st.Engine.Frames, st.Engine.Gestures, st.Engine.Commands)
	if d := st.Dispatch; d != nil {
		fmt.Fprintf(out, "Dispatch:  %d delivered, %d dropped, %d failed, %d queued\n", d.Delivered, d.Dropped, d.Failed, d.Queued)
	}
	if s := st.Sensors; s != nil {
		fmt.Fprintf(out, "Sensors:   %d connected (%d parse errors)\n", s.SensorCount, s.ParseErrors)
	}
	if c := st.Camera; c != nil {
		fmt.Fprintf(out, "Camera:    elevation %d, movable %s, fixed %s\n", c.Applied, yesNo(c.Movable), yesNo(c.Fixed))
	}
	if len(st.Listeners) > 0 {
		rows := make([][]string, 0, len(st.Listeners))
		for _, l := range st.Listeners {
			rows = append(rows, []string{
				l.Name,
				string(l.State),
				strconv.FormatUint(l.Heard, 10),
				strconv.FormatUint(l.Matched, 10),
				l.LastToken,
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Listener", "State", "Heard", "Matched", "Last token"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
		))
	}
}

func newModeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mode <name>",
		Short: "Switch the gesture mode of a running session",
		Long:  "Switch the gesture mode as if its voice token had been heard. Names: zoomin, zoomout, left, right, up, down, stop.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := ctx.serverURL()
			if err != nil {
				return err
			}
			reqCtx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			var resp web.ModeResponse
			name := strings.ToLower(strings.TrimSpace(args[0]))
			if err := httpc.PostJSON(reqCtx, base+"/api/mode/"+name, nil, &resp); err != nil {
				return fmt.Errorf("set mode: %w", err)
			}
			out := cmd.OutOrStdout()
			switch {
			case resp.Gated:
				fmt.Fprintf(out, "Mode %s ignored: say \"kinekuto\" first\n", name)
			case resp.Changed:
				fmt.Fprintf(out, "Mode %s -> %s\n", resp.From, resp.Mode)
			default:
				fmt.Fprintf(out, "Mode unchanged (%s)\n", resp.Mode)
			}
			return nil
		},
	}
}

func newConnectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Point a running session at the configured 3D tool",
		Long:  "Reconnect a running session using target.host and the ports from the configuration or the --host/--tcp-port/--udp-port flags.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			base := httpc.BaseURL(cfg.Server.Listen)
			reqCtx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
			defer cancel()

			req := web.ConnectRequest{Host: cfg.Target.Host, TCPPort: cfg.Target.TCPPort, UDPPort: cfg.Target.UDPPort}
			if err := httpc.PostJSON(reqCtx, base+"/api/connect", req, nil); err != nil {
				return fmt.Errorf("connect %s:%d: %w", req.Host, req.TCPPort, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Connected to %s:%d (udp %d)\n", req.Host, req.TCPPort, req.UDPPort)
			return nil
		},
	}
}
