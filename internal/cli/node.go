package cli

import (
	"fmt"
	"strconv"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/jbweber/homelab/paddock/internal/nodes"
)

func newNodeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Inspect nodes",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List nodes with their capacity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			svc := nodes.NewService(a.repos, a.cfg.PanelURL, a.logger)
			list, err := svc.List(cmd.Context())
			if err != nil {
				return err
			}

			table := uitable.New()
			table.MaxColWidth = 40
			table.AddRow("ID", "NAME", "ADDRESS", "MEMORY", "DISK", "SERVERS", "MAINTENANCE")
			for _, n := range list {
				usage, err := a.repos.Servers.UsageByNodeID(cmd.Context(), n.ID)
				if err != nil {
					return err
				}
				count, err := a.repos.Servers.CountByNodeID(cmd.Context(), n.ID)
				if err != nil {
					return err
				}
				table.AddRow(n.ID, n.Name, fmt.Sprintf("%s://%s:%d", n.Scheme, n.FQDN, n.DaemonListen),
					fmt.Sprintf("%d/%d MB", usage.Memory, n.Memory),
					fmt.Sprintf("%d/%d MB", usage.Disk, n.Disk),
					count, n.MaintenanceMode)
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	})

	var format string
	configuration := &cobra.Command{
		Use:   "configuration <node-id>",
		Short: "Print the daemon configuration for a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid node id %q", args[0])
			}
			if err := a.open(); err != nil {
				return err
			}

			svc := nodes.NewService(a.repos, a.cfg.PanelURL, a.logger)
			cfg, err := svc.Configuration(cmd.Context(), id)
			if err != nil {
				return err
			}
			body, err := cfg.Render(format)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(body)
			return err
		},
	}
	configuration.Flags().StringVar(&format, "format", "yaml", "Output format (yaml or json)")
	cmd.AddCommand(configuration)

	return cmd
}
