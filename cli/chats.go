package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"chatmcp/model"
)

func newChatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List, show, search and delete stored chats",
	}

	cmd.AddCommand(newChatsListCmd())
	cmd.AddCommand(newChatsShowCmd())
	cmd.AddCommand(newChatsSearchCmd())
	cmd.AddCommand(newChatsDeleteCmd())

	return cmd
}

func newChatsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List chats, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			chats, err := a.db.ListChats(cmd.Context())
			if err != nil {
				return err
			}
			printChats(cmd, chats)
			return nil
		},
	}
}

func newChatsSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Fuzzy search chat titles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			matches, err := a.db.SearchChats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			chats := make([]model.Chat, len(matches))
			for i, m := range matches {
				chats[i] = m.Chat
			}
			printChats(cmd, chats)
			return nil
		},
	}
}

func newChatsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <uuid>",
		Short: "Print the messages of a chat and mark them seen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.store.SwitchChat(ctx, args[0]); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, m := range a.store.Snapshot().Messages {
				marker := " "
				if !m.Seen {
					marker = "*"
				}
				fmt.Fprintf(out, "%s[%s] %s", marker, m.Role, m.Content.String())
				for _, tc := range m.ToolCalls {
					fmt.Fprintf(out, " -> %s(%s)", tc.Function.Name, tc.Function.Arguments)
				}
				fmt.Fprintln(out)
			}
			return a.store.MarkSeen(ctx)
		},
	}
}

func newChatsDeleteCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "delete [uuid]",
		Short: "Delete a chat, or every chat with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if all {
				if err := a.store.DeleteAllChats(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Deleted all chats")
				return nil
			}

			if err := a.store.DeleteChatSession(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted chat %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "delete every chat")
	return cmd
}

func printChats(cmd *cobra.Command, chats []model.Chat) {
	if len(chats) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No chats.")
		return
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UUID\tCREATED\tTITLE")
	for _, c := range chats {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.UUID, c.CreatedAt.Local().Format("2006-01-02 15:04"), c.Title)
	}
	w.Flush()
}
