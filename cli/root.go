// Package cli is the chatmcp command line. It wires configuration,
// storage, MCP connections and the completion client together.
package cli

import (
	"io"

	"github.com/spf13/cobra"

	"chatmcp/config"
	"chatmcp/logging"
)

var (
	cfgFile  string
	logLevel string

	// loaded before every command
	cfg       *config.Config
	log       *logging.Logger
	logCloser io.Closer
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chatmcp",
		Short: "Chat with OpenAI-compatible models that can call MCP tools",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}
			return setupLogging()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				logCloser.Close()
				logCloser = nil
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/chatmcp/config.toml)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newChatsCmd())
	cmd.AddCommand(newMCPCmd())

	return cmd
}

// setupLogging writes to <dataDir>/debug.log in debug mode and to the
// console otherwise.
func setupLogging() error {
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}

	if config.CheckDebug() {
		f, err := config.OpenDebugLog(cfg.DataDir())
		if err != nil {
			return err
		}
		logCloser = f
		log = logging.New(f, "debug")
		return nil
	}

	log = logging.New(nil, level)
	return nil
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
