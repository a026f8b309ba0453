package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/wvbridge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a documented default configuration",
	Long: `Write a documented default configuration file.

Without a path the file goes to $XDG_CONFIG_HOME/wvbridge/config.kdl
(~/.config/wvbridge/config.kdl when XDG_CONFIG_HOME is unset).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultPath()
		if len(args) == 1 {
			path = args[0]
		}
		if path == "" {
			return fmt.Errorf("cannot determine config directory; pass a path")
		}
		if err := config.WriteDefaultConfig(path, configForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configForce bool

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}
