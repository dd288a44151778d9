package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"chatmcp/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.GetConfigFilePath()
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if force && config.FileExists(path) {
				if err := os.Remove(path); err != nil {
					return fmt.Errorf("failed to remove old config: %w", err)
				}
			}

			written, err := config.CreateDefaultConfig(path)
			if err != nil {
				return err
			}
			if !written {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), configPath())
		},
	}
}
