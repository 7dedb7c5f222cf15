package main

import (
	"fmt"

	"github.com/marmos91/sockd/pkg/config"
	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	var (
		force bool
		path  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		Long: `Write a configuration file with every default value to
$XDG_CONFIG_HOME/sockd/config.yaml, or to --config if given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				written, err := config.InitConfig(force)
				if err != nil {
					return err
				}
				path = written
			} else if err := config.InitConfigToPath(path, force); err != nil {
				return err
			}

			fmt.Printf("Configuration written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing configuration file")
	cmd.Flags().StringVarP(&path, "config", "c", "", "Path of the configuration file to write")

	return cmd
}
