package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/frahmantamala/service-marketplace/internal"
	"github.com/frahmantamala/service-marketplace/internal/payment"
	requestPostgres "github.com/frahmantamala/service-marketplace/internal/request/postgres"
	"github.com/frahmantamala/service-marketplace/pkg/logger"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start background workers that run apart from the HTTP server.`,
}

var repairWorkerCmd = &cobra.Command{
	Use:   "repair",
	Short: "Start the settlement repair worker",
	Long:  `Complete accepted requests whose payment already succeeded, sweeping on an interval until stopped.`,
	Run: func(cmd *cobra.Command, args []string) {
		startRepairWorker(false)
	},
}

var repairOnceCmd = &cobra.Command{
	Use:   "repair-once",
	Short: "Run a single settlement repair sweep",
	Run: func(cmd *cobra.Command, args []string) {
		startRepairWorker(true)
	},
}

var (
	repairWorkers   int
	repairBatchSize int
)

func startRepairWorker(once bool) {
	config, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	initLogger(config)
	lg := logger.LoggerWrapper()

	repairer, closeDB, err := newRepairer(config)
	if err != nil {
		lg.Error("failed to build repair worker", "error", err)
		os.Exit(1)
	}
	defer closeDB()

	if once {
		repaired, err := repairer.SweepOnce(context.Background())
		if err != nil {
			lg.Error("repair sweep failed", "error", err)
			os.Exit(1)
		}
		lg.Info("repair sweep finished", "repaired", repaired)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lg.Info("repair worker is running. Press Ctrl+C to stop.")
	if err := repairer.Run(ctx); err != nil {
		lg.Error("repair worker stopped with error", "error", err)
	}
	lg.Info("repair worker shutdown complete")
}

func newRepairer(config *internal.Config) (*payment.Repairer, func(), error) {
	sqlDB, err := initDB(config.Database)
	if err != nil {
		return nil, nil, err
	}
	db, err := initGorm(sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}

	repairer := payment.NewRepairer(requestPostgres.NewRequestRepository(db), payment.RepairConfig{
		Interval:  config.Worker.RepairInterval,
		BatchSize: getIntFlag(repairBatchSize, config.Worker.RepairBatchSize),
		Workers:   getIntFlag(repairWorkers, config.Worker.RepairWorkers),
	}, logger.LoggerWrapper())

	return repairer, func() { _ = sqlDB.Close() }, nil
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	for _, c := range []*cobra.Command{repairWorkerCmd, repairOnceCmd} {
		c.Flags().IntVar(&repairWorkers, "workers", 0, "Number of repair workers (overrides config)")
		c.Flags().IntVar(&repairBatchSize, "batch-size", 0, "Requests repaired per sweep (overrides config)")
	}

	workerCmd.AddCommand(repairWorkerCmd)
	workerCmd.AddCommand(repairOnceCmd)

	rootCmd.AddCommand(workerCmd)
}
