package cmd

import (
	"fmt"
	"os"

	"github.com/MnAnX/Infra/internal/config"
	"github.com/MnAnX/Infra/internal/logger"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	quiet      bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "infra",
	Short: "Infra - broker-mediated RPC services",
	Long: `Infra runs services behind a load-balancing broker and talks to them.
A service accepts single-key requests from clients, spreads them over a pool of
workers and answers operational commands on a separate control endpoint.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		env, err := config.LoadEnv()
		if err != nil {
			return err
		}

		logger.SetSilentMode(quiet)
		logger.SetLevel(env.LogLevel)
		if verbose {
			logger.SetLevel(logger.LOG_DEBUG)
		}
		return nil
	},
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", errorStyle.Render("Error: "+err.Error()))
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "discard log output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "cluster.yml", "Path to cluster configuration file")

	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(ctlCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(configCmd)
}

func loadConfigFile() (*config.Config, error) {
	return config.LoadConfig(configPath)
}

// resolveService loads the cluster file and returns the settings of name
func resolveService(name string) (*config.ServiceConfig, error) {
	cfg, err := loadConfigFile()
	if err != nil {
		return nil, err
	}
	return cfg.Service(name)
}

// resolveEndpoint picks the explicit endpoint, or derives one from the
// configuration of the named service
func resolveEndpoint(endpoint, name string, pick func(*config.ServiceConfig) string) (string, error) {
	if endpoint != "" {
		return endpoint, nil
	}
	if name == "" {
		return "", fmt.Errorf("either --endpoint or --name is required")
	}
	svc, err := resolveService(name)
	if err != nil {
		return "", err
	}
	return pick(svc), nil
}
