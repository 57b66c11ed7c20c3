package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/paddock/internal/rebuild"
)

// rebuilder runs a rebuild batch
type rebuilder interface {
	Run(ctx context.Context, target rebuild.Target, progress func(rebuild.Progress)) (rebuild.Report, error)
}

func newRebuildCommand(a *app) *cobra.Command {
	var nodeID int64

	cmd := &cobra.Command{
		Use:   "rebuild [server-id]",
		Short: "Push the current build of servers to their daemons",
		Long: `Rebuilds one server, every server on a node (--node), or every server.

A server that cannot be rebuilt is reported and the batch continues; the
command still exits 0 once every target has been attempted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := rebuild.Target{NodeID: nodeID}
			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid server id %q", args[0])
				}
				target.ServerID = id
			}

			if err := a.open(); err != nil {
				return err
			}
			orchestrator := rebuild.New(rebuild.Options{
				Repos:       a.repos,
				Daemon:      a.daemon,
				Concurrency: a.cfg.Rebuild.Concurrency,
				Logger:      a.logger.Named("rebuild"),
			})
			return runRebuild(cmd.Context(), orchestrator, target, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().Int64Var(&nodeID, "node", 0, "Rebuild every server on this node")
	return cmd
}

// runRebuild prints one progress line per finished target, an error line
// per failure and a summary table. Only an unresolvable target is an error.
func runRebuild(ctx context.Context, r rebuilder, target rebuild.Target, out, errOut io.Writer) error {
	report, err := r.Run(ctx, target, func(p rebuild.Progress) {
		if p.Result.State == rebuild.StateFailed {
			fmt.Fprintf(errOut, "[%d/%d] %s\n", p.Done, p.Total, p.Result.Message())
			return
		}
		fmt.Fprintf(out, "[%d/%d] rebuilt server %q (id %d)\n", p.Done, p.Total, p.Result.Server.Name, p.Result.Server.ID)
	})
	if err != nil {
		return err
	}

	if len(report.Results) == 0 {
		fmt.Fprintln(out, "No servers to rebuild")
		return nil
	}

	table := uitable.New()
	table.AddRow("", "Servers")
	table.AddRow("Succeeded", report.Succeeded())
	table.AddRow("Failed", report.Failed())
	table.AddRow("Total", len(report.Results))
	fmt.Fprintln(out, table)
	return nil
}
