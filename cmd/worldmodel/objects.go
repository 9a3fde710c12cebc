package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/banshee-data/worldmodel/internal/rpc"
	"github.com/banshee-data/worldmodel/internal/worldmodel"
)

var (
	serverAddr  string
	callTimeout time.Duration
	outputJSON  bool
	noSnapshot  bool
)

var objectsCmd = &cobra.Command{
	Use:   "objects",
	Short: "Inspect and edit the object model of a running service",
	Long: `Talk to a running worldmodel service over gRPC.

Examples:
  worldmodel objects list
  worldmodel objects get door_3
  worldmodel objects set-state door_3 locked
  worldmodel objects reset
  worldmodel objects watch --no-snapshot`,
}

var objectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every tracked object",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
			m, err := c.GetObjectModel(ctx)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), m)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session %s, %d objects\n", m.Session, len(m.Objects))
			fmt.Fprintf(out, "%-16s %-12s %-10s %8s %8s %8s %8s\n", "ID", "CLASS", "STATE", "X", "Y", "Z", "SUPPORT")
			for _, o := range m.Objects {
				printObjectRow(out, o)
			}
			return nil
		})
	},
}

var objectsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
			o, err := c.GetObject(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), o)
		})
	},
}

var objectsSetStateCmd = &cobra.Command{
	Use:   "set-state <id> <pending|confirmed|discarded|locked>",
	Short: "Set the state of an object",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		state, err := worldmodel.ParseState(args[1])
		if err != nil {
			return err
		}
		return withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
			o, err := c.SetObjectState(ctx, args[0], state)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), o)
			}
			printObjectRow(cmd.OutOrStdout(), *o)
			return nil
		})
	},
}

var objectsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove every object and start a new session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *rpc.Client) error {
			handled, err := c.SysCommand(ctx, worldmodel.SysCommand{Data: "reset"})
			if err != nil {
				return err
			}
			if !handled {
				return errors.New("reset was not handled")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "model reset")
			return nil
		})
	},
}

var objectsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print model updates as JSON lines until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cc, err := rpc.Dial(serverAddr)
		if err != nil {
			return err
		}
		defer cc.Close()

		stream, err := rpc.NewClient(cc).WatchObjects(cmd.Context(), &rpc.WatchRequest{Snapshot: !noSnapshot})
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		for {
			ev, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) || cmd.Context().Err() != nil {
					return nil
				}
				return err
			}
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
	},
}

func init() {
	objectsCmd.PersistentFlags().StringVarP(&serverAddr, "server", "s", "localhost:8091", "gRPC address of the worldmodel service")
	objectsCmd.PersistentFlags().DurationVar(&callTimeout, "timeout", 5*time.Second, "Timeout of a single call")
	objectsCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Print JSON instead of a table")
	objectsWatchCmd.Flags().BoolVar(&noSnapshot, "no-snapshot", false, "Skip the initial model snapshot")

	objectsCmd.AddCommand(objectsListCmd, objectsGetCmd, objectsSetStateCmd, objectsResetCmd, objectsWatchCmd)
}

func withClient(cmd *cobra.Command, fn func(context.Context, *rpc.Client) error) error {
	cc, err := rpc.Dial(serverAddr)
	if err != nil {
		return err
	}
	defer cc.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
	defer cancel()
	return fn(ctx, rpc.NewClient(cc))
}

func printObjectRow(w io.Writer, o worldmodel.Object) {
	fmt.Fprintf(w, "%-16s %-12s %-10s %8.3f %8.3f %8.3f %8.2f\n",
		o.ID, o.Class(), o.State, o.Position.X, o.Position.Y, o.Position.Z, o.Support)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
