package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"chatmcp/model"
)

func newChatCmd() *cobra.Command {
	var (
		chatUUID   string
		modelID    string
		server     string
		toolCallID string
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message and stream the reply",
		Long: "Send a message in a new chat, or in an existing one with --chat, and stream\n" +
			"the reply. Tools of the selected MCP server are offered to the model.\n\n" +
			"With --tool-call-id the message is stored as the result of that tool call\n" +
			"and the assistant continues from it.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if toolCallID != "" && chatUUID == "" {
				return fmt.Errorf("--tool-call-id needs --chat")
			}
			message := strings.Join(args, " ")
			out := cmd.OutOrStdout()
			errOut := cmd.ErrOrStderr()

			a, err := newApp(appOptions{
				modelID:  modelID,
				server:   server,
				feedback: promptFeedback(os.Stdin, errOut),
				observer: func(_ string, ev model.StreamEvent) {
					switch {
					case ev.Content != "":
						fmt.Fprint(out, ev.Content)
					case len(ev.ToolCalls) > 0:
						for _, tc := range ev.ToolCalls {
							fmt.Fprintf(errOut, "\n[tool %s %s]\n", tc.Function.Name, tc.Function.Arguments)
						}
					}
				},
			})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := a.store.Init(ctx); err != nil {
				return err
			}
			if chatUUID != "" {
				if err := a.store.SwitchChat(ctx, chatUUID); err != nil {
					return err
				}
			} else {
				a.store.StartNewChat()
			}

			send := func() error { return a.store.SendMessage(ctx, message) }
			if toolCallID != "" {
				send = func() error {
					return a.store.AddToolResponseMessage(ctx, model.Message{
						Content:    model.TextContent(message),
						ToolCallID: toolCallID,
					})
				}
			}
			if err := send(); err != nil {
				fmt.Fprintln(out)
				return err
			}
			fmt.Fprintln(out)
			fmt.Fprintf(errOut, "[chat %s]\n", a.store.ActiveChat())
			return nil
		},
	}

	cmd.Flags().StringVar(&chatUUID, "chat", "", "continue the chat with this UUID")
	cmd.Flags().StringVar(&modelID, "model", "", "model id (default from config)")
	cmd.Flags().StringVar(&server, "server", "", "MCP server whose tools are offered (default from config)")
	cmd.Flags().StringVar(&toolCallID, "tool-call-id", "", "store the message as the result of this tool call")

	return cmd
}
