package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/orbitalci/orbital/pkg/agentclient"
	"github.com/orbitalci/orbital/pkg/api"
	"github.com/orbitalci/orbital/pkg/codehost"
	"github.com/orbitalci/orbital/pkg/eventbus"
	"github.com/orbitalci/orbital/pkg/log"
	"github.com/orbitalci/orbital/pkg/orchestrator"
	"github.com/orbitalci/orbital/pkg/pipeline"
	"github.com/orbitalci/orbital/pkg/reconciler"
	"github.com/orbitalci/orbital/pkg/sandbox"
	"github.com/orbitalci/orbital/pkg/stepscheduler"
	"github.com/orbitalci/orbital/pkg/storage"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "orbital",
	Short: "Orbital - AI-assisted CI validation loop orchestrator",
	Long: `Orbital drives a goal through plan -> code -> PR -> validate,
retrying in sandboxed environments until the requirements-completion
predicate is satisfied or the iteration cap is hit.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("server", envOr("ORBITAL_SERVER", "http://localhost:8080"), "Orbital API server address")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(eventsCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator and its HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func runServe() error {
	cfg := loadServeConfig()
	logger := log.WithComponent("cmd")

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer store.Close()

	bus := eventbus.NewWithSubscriberBuffer(cfg.EventBusQueueCapacity)
	bus.Start()
	defer bus.Stop()

	sb, err := sandbox.NewManager(cfg.SocketPath, bus)
	if err != nil {
		return fmt.Errorf("failed to start sandbox manager: %w", err)
	}
	defer func() {
		if err := sb.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("sandbox manager shutdown reported an error")
		}
	}()

	coord := stepscheduler.NewCoordinator()
	executor := pipeline.NewExecutor(sb, bus, coord)

	agent := agentclient.NewClient(cfg.AgentServiceURL, cfg.AgentServiceToken)
	host := codehost.NewClient(cfg.CodeHostURL, cfg.CodeHostToken)

	orchCfg := orchestrator.Config{
		MaxConcurrentWorkflows: cfg.MaxConcurrentWorkflows,
		DefaultStepTimeout:     cfg.DefaultStepTimeout,
		ValidationTimeout:      cfg.ValidationTimeout,
		MaxIterations:          cfg.MaxIterations,
	}
	orch := orchestrator.New(orchCfg, store, bus, agent, host, executor, sb)
	orch.Start()
	defer orch.Stop()

	recon := reconciler.New(orch, store, sb, reconciler.DefaultInterval, reconciler.DefaultStuckThreshold)
	recon.Start()
	defer recon.Stop()

	server := api.NewServer(orch, store, bus)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.APIAddr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server error: %w", err)
		}
	}()
	logger.Info().Str("addr", cfg.APIAddr).Msg("orbital serving")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		return err
	}
	return nil
}
