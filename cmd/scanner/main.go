// File: cmd/scanner/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/smartdevs17/solana-draw-scanner/internal/assignment"
	"github.com/smartdevs17/solana-draw-scanner/internal/config"
	"github.com/smartdevs17/solana-draw-scanner/internal/connection"
	"github.com/smartdevs17/solana-draw-scanner/internal/metrics"
	"github.com/smartdevs17/solana-draw-scanner/internal/monitor"
	"github.com/smartdevs17/solana-draw-scanner/internal/notification"
	"github.com/smartdevs17/solana-draw-scanner/internal/pricing"
	"github.com/smartdevs17/solana-draw-scanner/internal/scanner"
	"github.com/smartdevs17/solana-draw-scanner/internal/server"
	"github.com/smartdevs17/solana-draw-scanner/internal/service"
	"github.com/smartdevs17/solana-draw-scanner/internal/storage"
	"github.com/smartdevs17/solana-draw-scanner/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// Application represents the main application
type Application struct {
	config     *config.Config
	logger     *logrus.Entry
	metrics    *metrics.Manager
	connection *connection.ConnectionManager
	storage    storage.Storage
	service    *service.ScanService
	monitor    *monitor.DrawMonitor
	server     *server.HTTPServer
	startedAt  time.Time
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config:    cfg,
		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now(),
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		app.close()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// initializeLogger initializes the application logger
func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging
	if level := viper.GetString("log-level"); level != "" && level != logCfg.Level {
		logCfg.Level = level
	}
	if viper.GetBool("debug") {
		logCfg.Level = "debug"
	}

	if err := utils.InitLogger(logCfg.Level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	app.logger = utils.ComponentLogger("app")
	app.logger.WithFields(logrus.Fields{
		"level":  logCfg.Level,
		"format": logCfg.Format,
		"output": logCfg.Output,
	}).Info("Logger initialized")
	return nil
}

// initializeComponents initializes all application components
func (app *Application) initializeComponents() error {
	app.logger.Info("Initializing application components")

	app.metrics = metrics.NewManager()

	if err := app.initializeStorage(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.connection = connection.NewConnectionManager(&app.config.Solana)
	app.connection.SetMetricsManager(app.metrics)

	fetcher := connection.NewSignatureFetcher(app.connection, app.config.Fetcher, app.metrics)
	oracle := pricing.NewDexScreenerClient(app.config.Pricing, app.metrics)
	buyScanner := scanner.NewBuyScanner(fetcher, oracle, app.storage, app.config.Scanner, app.metrics)

	app.service = service.NewScanService(app.storage, buyScanner, app.config.Scanner, app.metrics)
	if app.config.Notify.Enabled {
		app.service.SetNotifier(notification.NewWebhookSender(app.config.Notify, app.metrics))
	}

	app.monitor = monitor.NewDrawMonitor(app.service, app.config.Scheduler)
	app.monitor.SetMetricsManager(app.metrics)

	app.server = server.NewHTTPServer(app.config.Server, AppVersion, app.storage, app.service, app.monitor, app.metrics)

	app.logger.Info("All components initialized successfully")
	return nil
}

// initializeStorage connects the configured database and applies migrations
func (app *Application) initializeStorage() error {
	store, err := storage.NewStorage(&app.config.Storage)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	if err := store.Connect(); err != nil {
		return fmt.Errorf("failed to connect to storage: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return fmt.Errorf("failed to run storage migrations: %w", err)
	}

	app.storage = storage.NewStorageWithMetrics(store, app.metrics)
	app.logger.WithField("type", app.config.Storage.Type).Info("Storage layer initialized successfully")
	return nil
}

// Start starts the HTTP server and the scan scheduler
func (app *Application) Start() error {
	app.logger.WithFields(logrus.Fields{
		"version":     AppVersion,
		"environment": app.config.App.Environment,
	}).Info("Starting drawing scanner")

	healthCtx, cancel := context.WithTimeout(app.ctx, app.config.Solana.RequestTimeout)
	defer cancel()
	if err := app.connection.HealthCheck(healthCtx); err != nil {
		// Scans retry on every pass; an unhealthy node at boot is not fatal
		app.logger.WithError(err).Warn("Solana RPC health check failed")
	}

	if app.config.Server.Enabled {
		if err := app.server.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
	}

	if app.config.Scheduler.Enabled {
		if err := app.monitor.Start(app.ctx); err != nil {
			return fmt.Errorf("failed to start scan scheduler: %w", err)
		}
	}

	app.logger.WithFields(logrus.Fields{
		"server_address": fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		"rpc_url":        app.config.Solana.RPCURL,
		"schedule":       app.config.Scheduler.Cron,
	}).Info("Drawing scanner started successfully")
	return nil
}

// Stop stops the application gracefully
func (app *Application) Stop() error {
	app.logger.Info("Stopping drawing scanner")
	app.cancel()

	if app.server != nil && app.config.Server.Enabled {
		if err := app.server.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop HTTP server")
		}
	}

	if app.monitor != nil {
		if err := app.monitor.Stop(); err != nil {
			app.logger.WithError(err).Error("Failed to stop scan scheduler")
		}
	}

	app.close()
	app.logger.WithField("uptime", time.Since(app.startedAt).String()).Info("Drawing scanner stopped successfully")
	return nil
}

// close waits for pending notifications and releases storage and RPC clients
func (app *Application) close() {
	if app.service != nil {
		app.service.Wait()
	}
	if app.storage != nil {
		if err := app.storage.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close storage")
		}
	}
	if app.connection != nil {
		if err := app.connection.Close(); err != nil {
			app.logger.WithError(err).Error("Failed to close connection")
		}
	}
}

// CLI Commands

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "draw-scanner",
	Short:   "Solana token drawing scanner",
	Long:    `Scans a token's trading venue for qualifying buys and assigns drawing tickets in chronological order.`,
	Version: AppVersion,
	RunE:    runScanner,
}

// runCmd runs the HTTP API and the scan scheduler until interrupted
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the API server and scheduled scans",
	RunE:  runScanner,
}

func runScanner(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	if err := app.Start(); err != nil {
		app.Stop()
		return fmt.Errorf("failed to start application: %w", err)
	}

	<-signalChan
	fmt.Println("\nReceived shutdown signal, stopping application...")

	return app.Stop()
}

// scanCmd scans one drawing
var scanCmd = &cobra.Command{
	Use:   "scan <drawing-id>",
	Short: "Scan one drawing for qualifying buys",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseDrawingID(args[0])
		if err != nil {
			return err
		}
		return withApplication(cmd.Context(), func(ctx context.Context, app *Application) error {
			result, err := app.service.ScanDrawing(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(result)
		})
	},
}

// scanAllCmd scans every active drawing once
var scanAllCmd = &cobra.Command{
	Use:   "scan-all",
	Short: "Scan every active drawing once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApplication(cmd.Context(), func(ctx context.Context, app *Application) error {
			results, err := app.service.ScanAllActive(ctx)
			if err != nil {
				return err
			}
			return printJSON(results)
		})
	},
}

// backfillCmd inserts a manually verified buy at its chronological position
var backfillCmd = &cobra.Command{
	Use:   "backfill <drawing-id>",
	Short: "Insert a missed buy at its chronological position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseDrawingID(args[0])
		if err != nil {
			return err
		}
		req, err := backfillRequestFromFlags(cmd)
		if err != nil {
			return err
		}
		return withApplication(cmd.Context(), func(ctx context.Context, app *Application) error {
			entry, err := app.service.InsertBackfilledEntry(ctx, id, req)
			if err != nil {
				return err
			}
			fmt.Printf("Assigned ticket #%d\n", entry.TicketNumber)
			return printJSON(entry)
		})
	},
}

// cleanBlacklistedCmd removes entries of blacklisted wallets
var cleanBlacklistedCmd = &cobra.Command{
	Use:   "clean-blacklisted <drawing-id>",
	Short: "Remove entries of blacklisted wallets and renumber",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseDrawingID(args[0])
		if err != nil {
			return err
		}
		return withApplication(cmd.Context(), func(ctx context.Context, app *Application) error {
			result, err := app.service.CleanBlacklisted(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(result)
		})
	},
}

// clearHistoryCmd drops a drawing's scan watermarks
var clearHistoryCmd = &cobra.Command{
	Use:   "clear-history <drawing-id>",
	Short: "Clear scan history so the next scan starts from the drawing start time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseDrawingID(args[0])
		if err != nil {
			return err
		}
		return withApplication(cmd.Context(), func(ctx context.Context, app *Application) error {
			n, err := app.service.ClearScanHistory(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d scan records\n", n)
			return nil
		})
	},
}

// migrateCmd applies or rolls back database migrations
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.File); err != nil {
			return err
		}

		down, _ := cmd.Flags().GetInt("down")
		isPostgres := strings.HasPrefix(strings.ToLower(cfg.Storage.Type), "postgres")
		if down > 0 {
			if !isPostgres {
				return fmt.Errorf("rollback is only supported for postgres storage")
			}
			if err := storage.RollbackPostgres(cfg.Storage.ConnectionString, down); err != nil {
				return err
			}
			fmt.Printf("Rolled back %d migrations\n", down)
			return nil
		}

		if isPostgres {
			version, err := storage.MigratePostgres(cfg.Storage.ConnectionString)
			if err != nil {
				return err
			}
			fmt.Printf("Schema at version %d\n", version)
			return nil
		}

		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return err
		}
		if err := store.Connect(); err != nil {
			return err
		}
		defer store.Close()
		if err := store.Migrate(); err != nil {
			return err
		}
		fmt.Println("Schema is up to date")
		return nil
	},
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Drawing scanner %s\n", AppVersion)
	},
}

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

// validateConfigCmd validates the configuration
var validateConfigCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration is valid!\n")
		fmt.Printf("Environment: %s\n", cfg.App.Environment)
		fmt.Printf("Solana RPC: %s\n", cfg.Solana.RPCURL)
		fmt.Printf("Database: %s\n", cfg.Storage.Type)
		fmt.Printf("Schedule: %s (enabled: %t)\n", cfg.Scheduler.Cron, cfg.Scheduler.Enabled)
		return nil
	},
}

// loadConfig loads and validates the configuration named by --config
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// withApplication runs fn against a fully wired application without the
// server or scheduler, cancelling on interrupt
func withApplication(parent context.Context, fn func(ctx context.Context, app *Application) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer func() {
		app.cancel()
		app.close()
	}()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, app)
}

func backfillRequestFromFlags(cmd *cobra.Command) (assignment.BackfillRequest, error) {
	var req assignment.BackfillRequest
	flags := cmd.Flags()

	req.WalletAddress, _ = flags.GetString("wallet")
	if signature, _ := flags.GetString("signature"); signature != "" {
		req.Signature = &signature
	}
	if notes, _ := flags.GetString("notes"); notes != "" {
		req.Notes = &notes
	}

	var err error
	tokens, _ := flags.GetString("tokens")
	if req.TokenAmount, err = decimal.NewFromString(tokens); err != nil {
		return req, fmt.Errorf("invalid --tokens %q: %w", tokens, err)
	}
	usd, _ := flags.GetString("usd")
	if req.USDAmount, err = decimal.NewFromString(usd); err != nil {
		return req, fmt.Errorf("invalid --usd %q: %w", usd, err)
	}
	at, _ := flags.GetString("time")
	if req.EventTime, err = time.Parse(time.RFC3339, at); err != nil {
		return req, fmt.Errorf("invalid --time %q, want RFC3339: %w", at, err)
	}
	return req, nil
}

func parseDrawingID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid drawing id %q", arg)
	}
	return id, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug mode")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	backfillCmd.Flags().String("wallet", "", "buyer wallet address")
	backfillCmd.Flags().String("signature", "", "transaction signature, if known")
	backfillCmd.Flags().String("tokens", "0", "token amount bought")
	backfillCmd.Flags().String("usd", "0", "USD value of the buy")
	backfillCmd.Flags().String("time", "", "buy time (RFC3339)")
	backfillCmd.Flags().String("notes", "", "operator notes")
	backfillCmd.MarkFlagRequired("wallet")
	backfillCmd.MarkFlagRequired("time")

	migrateCmd.Flags().Int("down", 0, "roll back this many migrations (postgres only)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(scanAllCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(cleanBlacklistedCmd)
	rootCmd.AddCommand(clearHistoryCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(validateConfigCmd)
}

// main is the entry point
func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
