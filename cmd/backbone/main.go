package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rayguard/sentinel-backbone/internal/alert"
	"github.com/rayguard/sentinel-backbone/internal/chain"
	"github.com/rayguard/sentinel-backbone/internal/config"
	"github.com/rayguard/sentinel-backbone/internal/guard"
	"github.com/rayguard/sentinel-backbone/internal/hub"
	"github.com/rayguard/sentinel-backbone/internal/metrics"
	"github.com/rayguard/sentinel-backbone/internal/recorder"
	"github.com/rayguard/sentinel-backbone/internal/registry"
	"github.com/rayguard/sentinel-backbone/internal/server"
	"github.com/rayguard/sentinel-backbone/internal/storage"
	"github.com/rayguard/sentinel-backbone/internal/verifier"
	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

const AppVersion = "1.0.0"

// Application wires all backbone components together
type Application struct {
	config   *config.Config
	logger   *logrus.Logger
	store    chain.StoreClient
	storage  storage.Storage
	registry *registry.Registry
	hub      *hub.Hub
	guard    *guard.Guard
	sink     alert.Sink
	recorder *recorder.Recorder
	verifier *verifier.Verifier
	server   *server.HTTPServer
	metrics  *metrics.Manager
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &Application{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return app, nil
}

func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging
	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}
	app.logger = utils.GetLogger()
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
	}).Info("Logger initialized")
	return nil
}

func (app *Application) initializeComponents() error {
	app.metrics = metrics.NewManager()

	switch app.config.Chain.Mode {
	case "memory":
		app.store = chain.NewMemoryStore()
		app.logger.Warn("Using in-memory ledger store, records do not survive restarts")
	default:
		app.store = chain.NewRPCStore(&chain.RPCConfig{
			NodeURL:        app.config.Chain.NodeURL,
			BackupNodes:    app.config.Chain.BackupNodes,
			RequestTimeout: app.config.Chain.RequestTimeout,
			RetryAttempts:  app.config.Chain.RetryAttempts,
			RetryDelay:     app.config.Chain.RetryDelay,
		}, app.metrics)
	}

	store, err := storage.NewStorage(&storage.StorageConfig{
		Type:             app.config.Storage.Type,
		ConnectionString: app.config.Storage.ConnectionString,
		MaxConnections:   app.config.Storage.MaxConnections,
		MaxIdleTime:      app.config.Storage.MaxIdleTime,
		RetentionDays:    app.config.Storage.RetentionDays,
	})
	if err != nil {
		return err
	}
	if err := store.Connect(); err != nil {
		return err
	}
	if err := store.Migrate(); err != nil {
		return err
	}
	app.storage = store

	app.registry = registry.New(app.store)
	app.registry.EnablePersistence(app.storage)
	app.restoreLedgers()

	app.hub = hub.New(app.config.Hub.QueueSize)
	app.guard = guard.New(app.config.Guard.BanDuration)

	if app.config.Alerts.Enabled {
		app.sink = alert.NewWebhookSink(&alert.WebhookConfig{
			URL:           app.config.Alerts.WebhookURL,
			Headers:       app.config.Alerts.Headers,
			Timeout:       app.config.Alerts.Timeout,
			RetryAttempts: app.config.Alerts.RetryAttempts,
			RetryDelay:    app.config.Alerts.RetryDelay,
		})
	} else {
		app.sink = alert.NoopSink{}
	}

	app.recorder = recorder.New(&recorder.Config{
		RetryAttempts: app.config.Recorder.RetryAttempts,
		RetryDelay:    app.config.Recorder.RetryDelay,
		AlertTimeout:  app.config.Recorder.AlertTimeout,
	}, app.registry, app.store, app.hub, app.guard, app.sink, app.storage, app.metrics)

	app.verifier = verifier.New(&verifier.Config{
		MaxScan: app.config.Verifier.MaxScan,
	}, app.store, app.storage, app.metrics)

	app.server = server.NewHTTPServer(&app.config.Server,
		app.recorder, app.verifier, app.registry, app.hub, app.guard, app.store, app.storage, app.metrics)

	app.logger.Info("All components initialized")
	return nil
}

// restoreLedgers seeds the registry cache from persisted mappings so a
// restart does not re-create ledgers for known origins
func (app *Application) restoreLedgers() {
	ctx, cancel := context.WithTimeout(app.ctx, 10*time.Second)
	defer cancel()

	ledgers, err := app.storage.GetLedgers(ctx)
	if err != nil {
		app.logger.WithField("error", err).Warn("Failed to restore ledger mappings")
		return
	}
	for _, ledger := range ledgers {
		app.registry.Restore(ledger)
	}
	if len(ledgers) > 0 {
		app.logger.WithField("count", len(ledgers)).Info("Ledger mappings restored")
	}
}

// Start starts the application and blocks until the HTTP server exits
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
		"address":     fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
	}).Info("Starting sentinel backbone")

	go app.maintenanceLoop()

	return app.server.Start()
}

// maintenanceLoop periodically cleans up old events and refreshes gauges
func (app *Application) maintenanceLoop() {
	interval := app.config.Storage.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	gauges := time.NewTicker(15 * time.Second)
	defer gauges.Stop()

	var lastDropped uint64
	for {
		select {
		case <-app.ctx.Done():
			return
		case <-gauges.C:
			app.metrics.UpdateSystemMetrics()
			pm := app.metrics.GetPrometheusMetrics()
			pm.UpdateHubSubscribers(app.hub.SubscriberCount())
			if dropped := app.hub.GetStats().Dropped; dropped > lastDropped {
				pm.RecordHubDropped(dropped - lastDropped)
				lastDropped = dropped
			}
			pm.UpdateBannedOrigins(app.guard.GetStats().ActiveBans)
			app.metrics.SetComponentHealth("storage", app.storage.Ping() == nil)
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(app.ctx, time.Minute)
			if err := app.storage.Cleanup(ctx, app.config.Storage.RetentionDays); err != nil {
				app.logger.WithField("error", err).Error("Event cleanup failed")
			}
			cancel()
		}
	}
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping sentinel backbone")
	app.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if app.server != nil {
		if err := app.server.Stop(shutdownCtx); err != nil {
			app.logger.WithField("error", err).Error("Failed to stop HTTP server")
		}
	}
	if app.hub != nil {
		app.hub.Close()
	}
	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithField("error", err).Error("Failed to close storage")
		}
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			app.logger.WithField("error", err).Error("Failed to close ledger store")
		}
	}

	app.logger.Info("Sentinel backbone stopped")
	return nil
}

var rootCmd = &cobra.Command{
	Use:     "sentinel-backbone",
	Short:   "Threat-event ingestion and notification backbone",
	Long:    `Records classified threat events onto per-origin append-only ledgers and streams them live to dashboard subscribers.`,
	Version: AppVersion,
	RunE:    runBackbone,
}

func runBackbone(cmd *cobra.Command, args []string) error {
	configPath := viper.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start()
	}()

	select {
	case err := <-errChan:
		if err != nil {
			app.Stop()
			return err
		}
	case <-signalChan:
		fmt.Println("\nReceived shutdown signal, stopping...")
	}

	return app.Stop()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sentinel-backbone %s\n", AppVersion)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration validation failed: %w", err)
		}

		fmt.Println("Configuration is valid")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Chain mode:  %s\n", cfg.Chain.Mode)
		fmt.Printf("Node:        %s\n", cfg.Chain.NodeURL)
		fmt.Printf("Database:    %s\n", cfg.Storage.Type)
		return nil
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connectivity and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := viper.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if cfg.Chain.Mode == "rpc" {
			fmt.Printf("Testing ledger node at %s...\n", cfg.Chain.NodeURL)
			store := chain.NewRPCStore(&chain.RPCConfig{
				NodeURL:        cfg.Chain.NodeURL,
				BackupNodes:    cfg.Chain.BackupNodes,
				RequestTimeout: cfg.Chain.RequestTimeout,
				RetryAttempts:  1,
				RetryDelay:     cfg.Chain.RetryDelay,
			}, nil)
			defer store.Close()
			if err := store.HealthCheck(ctx); err != nil {
				return fmt.Errorf("ledger node check failed: %w", err)
			}
			fmt.Println("Ledger node reachable")
		}

		fmt.Printf("Testing storage (%s)...\n", cfg.Storage.Type)
		store, err := storage.NewStorage(&storage.StorageConfig{
			Type:             cfg.Storage.Type,
			ConnectionString: cfg.Storage.ConnectionString,
			MaxConnections:   cfg.Storage.MaxConnections,
			MaxIdleTime:      cfg.Storage.MaxIdleTime,
		})
		if err != nil {
			return fmt.Errorf("failed to create storage: %w", err)
		}
		if err := store.Connect(); err != nil {
			return fmt.Errorf("failed to connect to storage: %w", err)
		}
		defer store.Close()
		fmt.Println("Storage reachable")

		fmt.Println("All connectivity tests passed")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(testCmd)
	configCmd.AddCommand(validateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
