package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Seer-Labs-Inc/device-pilot/internal/clock"
	"github.com/Seer-Labs-Inc/device-pilot/internal/config"
	"github.com/Seer-Labs-Inc/device-pilot/internal/core"
	"github.com/Seer-Labs-Inc/device-pilot/internal/history"
	"github.com/Seer-Labs-Inc/device-pilot/internal/httpapi"
	"github.com/Seer-Labs-Inc/device-pilot/internal/logging"
	"github.com/Seer-Labs-Inc/device-pilot/internal/recorder"
)

// Exit codes per the CLI contract: 0 clean shutdown, 1 configuration
// error, 2 unrecoverable runtime error.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitRuntimeError = 2
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the capture/detect/record pipeline until terminated",
	RunE:  runE,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runE(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(exitConfigError)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(exitConfigError)
	}

	logger := logging.New(cfg.Verbose, cfg.LogFormat)

	var hist recorder.HistoryRecorder
	if cfg.HistoryDBPath != "" {
		store, err := history.Open(cfg.HistoryDBPath)
		if err != nil {
			logger.Error("failed to open history database", "error", err)
			os.Exit(exitConfigError)
		}
		defer store.Close()
		hist = store
	}

	clk := clock.Real{}
	idGen := func() string { return uuid.NewString() }

	pilot, err := core.New(cfg, logger, clk, idGen, hist)
	if err != nil {
		logger.Error("failed to initialize pipeline", "error", err)
		os.Exit(exitRuntimeError)
	}

	srv := httpapi.NewServer(cfg.HealthAddr, logger, pilot.HealthStatus)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() { errCh <- pilot.Serve(ctx) }()
	go func() { errCh <- srv.Serve(ctx) }()

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping")

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		logger.Error("pipeline exited with error", "error", firstErr)
		os.Exit(exitRuntimeError)
	}

	os.Exit(exitOK)
	return nil
}
