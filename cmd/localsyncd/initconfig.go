package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pixelgardenlabs.io/localsync/pkg/config"
)

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Generate a default localsync.config.json next to the sync root",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootFlags.rootPath == "" {
				return fmt.Errorf("--root is required")
			}
			configBase := rootFlags.configDir
			if configBase == "" {
				configBase = rootFlags.rootPath
			}

			cfg := config.NewDefault(rootFlags.rootPath)
			cfg.ConfigBase = configBase
			if err := config.Generate(cfg); err != nil {
				return fmt.Errorf("generate config: %w", err)
			}

			fmt.Printf("wrote %s/%s\n", configBase, config.ConfigFileName)
			return nil
		},
	}
}
