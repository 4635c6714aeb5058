package cmd

import (
	"fmt"

	"github.com/MnAnX/Infra/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage cluster configuration",
	Long:  `Generate or validate cluster configuration files.`,
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate [config-file]",
	Short: "Generate default configuration file",
	Long:  `Generate a default configuration file with the example service.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) > 0 {
			path = args[0]
		}

		if err := config.SaveConfig(config.NewDefaultConfig(), path); err != nil {
			return fmt.Errorf("failed to save default config: %w", err)
		}

		cmd.Println(successStyle.Render("Default configuration saved to: " + path))
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [config-file]",
	Short: "Validate configuration file",
	Long:  `Validate a cluster configuration file and show every resolved service.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) > 0 {
			path = args[0]
		}

		cfg, err := config.LoadConfig(path)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		cmd.Println(successStyle.Render("Configuration file is valid: " + path))
		for _, name := range cfg.Names() {
			svc, err := cfg.Service(name)
			if err != nil {
				return err
			}

			maxPending := "default"
			if depth := svc.MaxPending(); depth >= 0 {
				maxPending = fmt.Sprintf("%d", depth)
			}
			store := svc.Store.Driver
			if store == "" {
				store = config.StoreMemory
			}

			cmd.Println(renderTable(name, map[string]string{
				"active":      fmt.Sprintf("%t", svc.IsActive()),
				"client":      svc.ClientURI(),
				"worker":      svc.BackendBind(),
				"control":     svc.ControlURI(),
				"scale":       fmt.Sprintf("%d", svc.Service.Scale),
				"max pending": maxPending,
				"store":       store,
			}))
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGenerateCmd)
	configCmd.AddCommand(configValidateCmd)
}
