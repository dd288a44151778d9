package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Inspect configured MCP servers and their tools",
	}

	cmd.AddCommand(newMCPServersCmd())
	cmd.AddCommand(newMCPToolsCmd())
	cmd.AddCommand(newMCPToggleCmd())
	cmd.AddCommand(newMCPVerifyCmd())

	return cmd
}

func newMCPServersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "Connect to every configured server and show its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if len(a.manager.ServerNames()) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No MCP servers configured.")
				return nil
			}

			a.manager.InitializeAllConnections(cmd.Context())

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTRANSPORT\tSTATUS\tTOOLS\tACTIVE\tURL")
			for _, s := range a.manager.Statuses() {
				status := "disconnected"
				switch {
				case s.Connected:
					status = "connected"
				case s.Err != nil:
					status = "error: " + s.Err.Error()
				}
				active := len(a.registry.ActiveTools(s.Name))
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n", s.Name, s.Transport, status, s.Tools, active, s.URL)
			}
			return w.Flush()
		},
	}
}

func newMCPToolsCmd() *cobra.Command {
	var (
		server string
		filter string
	)

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List discovered tools, optionally fuzzy filtered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if server != "" {
				if _, err := a.manager.ConnectToServer(ctx, server); err != nil {
					return err
				}
			} else {
				for name, err := range a.manager.InitializeAllConnections(ctx) {
					log.Warn().Err(err).Str("server", name).Msg("server unavailable")
				}
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SERVER\tTOOL\tACTIVE\tDESCRIPTION")
			for _, m := range a.registry.Search(filter) {
				if server != "" && m.Server != server {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", m.Server, m.Tool.Name, m.Tool.IsActive, firstLine(m.Tool.Description))
			}
			if server == "" && filter == "" {
				for _, t := range a.executor.LocalTools() {
					fmt.Fprintf(w, "(built-in)\t%s\t%t\t%s\n", t.Name, true, firstLine(t.Description))
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&server, "server", "", "only this server")
	cmd.Flags().StringVar(&filter, "filter", "", "fuzzy filter over server/tool")
	return cmd
}

func newMCPToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <server> <tool> <on|off>",
		Short: "Activate or deactivate a tool",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, tool := args[0], args[1]

			var active bool
			switch strings.ToLower(args[2]) {
			case "on", "true", "1":
				active = true
			case "off", "false", "0":
			default:
				return fmt.Errorf("expected on or off, got %q", args[2])
			}

			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.manager.ConnectToServer(cmd.Context(), server); err != nil {
				return err
			}
			if err := a.registry.SetToolActive(server, tool, active); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s active=%t\n", server, tool, active)
			return nil
		},
	}
}

func newMCPVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <server>",
		Short: "Connect to a server and report its tools, resources and prompts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.manager.VerifyServer(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server %s: %s %s (%s)\n", report.Server, report.ServerInfo.Name, report.ServerInfo.Version, report.Elapsed.Round(time.Millisecond))

			fmt.Fprintf(out, "Tools (%d):\n", len(report.Tools))
			for _, t := range report.Tools {
				fmt.Fprintf(out, "  %s  %s\n", t.Name, firstLine(t.Description))
			}

			if report.ResourcesErr != nil {
				fmt.Fprintf(out, "Resources: error: %v\n", report.ResourcesErr)
			} else {
				fmt.Fprintf(out, "Resources (%d):\n", len(report.Resources))
				for _, r := range report.Resources {
					fmt.Fprintf(out, "  %s  %s\n", r.URI, r.Name)
				}
			}

			if report.PromptsErr != nil {
				fmt.Fprintf(out, "Prompts: error: %v\n", report.PromptsErr)
			} else {
				fmt.Fprintf(out, "Prompts (%d):\n", len(report.Prompts))
				for _, p := range report.Prompts {
					fmt.Fprintf(out, "  %s  %s\n", p.Name, firstLine(p.Description))
				}
			}
			return nil
		},
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
