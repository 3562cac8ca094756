package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"
	"github.com/spf13/cobra"

	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/common"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/config"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/factory"
	"github.com/BrayAlter/VMware-EventID-2004-Detector/internal/log"
)

const shutdownTimeout = 5 * time.Second

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll powered-on VMs for the target event and restart them when needed",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		conf, err := config.Parse(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to parse config %s: %w", cfgFile, err)
		}

		// Init logger
		err = log.Init(conf.Logs)
		if err != nil {
			return fmt.Errorf("failed to init logger: %w", err)
		}

		logger := log.Logger()

		// Dump generic information
		logger.Info("Starting vmware monitor",
			"version", version.Info(),
			"buildContext", version.BuildContext(),
		)
		logger.Info("Using config", "config", fmt.Sprintf("%+v", conf))

		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := log.Logger()

		conf := config.Get()

		// Set max procs based on cpu limits
		err := common.SetMaxProcs()
		if err != nil {
			return fmt.Errorf("failed to set max procs: %w", err)
		}

		// Set max memory
		err = common.SetMemLimit()
		if err != nil {
			return fmt.Errorf("failed to set mem limit: %w", err)
		}

		// Listen to sigterm and interrupt signals
		ctx := common.SetupSignalHandler(context.Background())

		// One monitor per fleet
		releaseLock, err := factory.AcquireInstanceLock(conf.CaptureDir)
		if err != nil {
			return err
		}
		defer releaseLock(context.Background()) //nolint:errcheck

		// Restart history backend
		hist, closeHistory, err := factory.CreateHistory(ctx, conf.History)
		if err != nil {
			return err
		}
		defer closeHistory(context.Background()) //nolint:errcheck

		// Metrics
		registry := prometheus.NewRegistry()

		metricsServer := factory.CreatePrometheusServer(conf.Metrics, registry)

		go func() {
			err := metricsServer.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(err, "Metrics server failed")
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			err := metricsServer.Shutdown(shutdownCtx)
			if err != nil {
				logger.Error(err, "Failed to shutdown metrics server")
			}
		}()

		// Create and run the poller
		poller, err := factory.CreateMonitor(conf, hist, registry)
		if err != nil {
			return err
		}

		err = poller.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		logger.V(2).Info("Monitoring stopped")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}
