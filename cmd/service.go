package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/MnAnX/Infra/internal/config"
	"github.com/MnAnX/Infra/internal/example"
	"github.com/MnAnX/Infra/internal/logger"
	"github.com/MnAnX/Infra/internal/service"
	"github.com/spf13/cobra"
)

// constructors maps a configured service name to the code that builds it
var constructors = map[string]func(*config.ServiceConfig) (*service.Service, error){
	example.ServiceName: example.New,
}

var serviceName string

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Run a configured service",
	Long: `Run one service from the cluster configuration. The service binds its
client, worker and control endpoints, launches its workers and runs until it
receives SIGINT/SIGTERM or a remote stop command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.New()

		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := config.SaveConfig(config.NewDefaultConfig(), configPath); err != nil {
				return fmt.Errorf("failed to create default config file: %w", err)
			}
			log.Info().
				Str("config_path", configPath).
				Msg("Created default configuration file. Please edit it with your settings.")
			return nil
		}

		build, ok := constructors[serviceName]
		if !ok {
			return fmt.Errorf("no implementation for service %q (known: %s)", serviceName, knownServices())
		}

		cfg, err := resolveService(serviceName)
		if err != nil {
			return err
		}

		svc, err := build(cfg)
		if err != nil {
			return fmt.Errorf("failed to create service %s: %w", serviceName, err)
		}

		log.Info().
			Str("config_path", configPath).
			Str("service", serviceName).
			Msg("Starting service")

		if err := svc.Run(); err != nil {
			return fmt.Errorf("service %s stopped with error: %w", serviceName, err)
		}

		logger.Info("Service exited")
		return nil
	},
}

func knownServices() string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func init() {
	serviceCmd.Flags().StringVarP(&serviceName, "name", "n", example.ServiceName, "Name of the service to run")
}
