package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MnAnX/Infra/internal/directory"
	"github.com/MnAnX/Infra/internal/logger"
	"github.com/spf13/cobra"
)

var (
	monitorAddr    string
	monitorSeed    bool
	monitorTimeout time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the service directory",
	Long: `Run the service directory HTTP API. Services configured with a monitor
URL register their control endpoint here on start and deregister on stop. The
directory proxies status queries to the registered control endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.GetLogger("monitor")

		dir := directory.New()
		defer dir.Close()

		if monitorSeed {
			seedDirectory(dir)
		}

		api := directory.NewAPIServer(dir, directory.ControlStatus(monitorTimeout))

		errCh := make(chan error, 1)
		go func() {
			errCh <- api.Start(monitorAddr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("Shutting down directory")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return api.Shutdown(ctx)
	},
}

// seedDirectory registers every active service of the configuration file
func seedDirectory(dir *directory.Directory) {
	cfg, err := loadConfigFile()
	if err != nil {
		logger.Error(err, "Could not seed directory from configuration")
		return
	}

	for _, name := range cfg.Names() {
		svc, err := cfg.Service(name)
		if err != nil {
			logger.Warn("Skipping service " + name + ": " + err.Error())
			continue
		}
		if !svc.IsActive() {
			logger.Debug("Skipping inactive service " + name)
			continue
		}
		if _, err := dir.Register(name, svc.Host, svc.Control.Port); err != nil {
			logger.Warn("Skipping service " + name + ": " + err.Error())
		}
	}
}

func init() {
	monitorCmd.Flags().StringVarP(&monitorAddr, "addr", "a", ":8090", "HTTP listen address")
	monitorCmd.Flags().BoolVar(&monitorSeed, "seed", false, "Register the active services of the configuration file on start")
	monitorCmd.Flags().DurationVar(&monitorTimeout, "status-timeout", 2500*time.Millisecond, "Timeout of proxied status queries")
}
