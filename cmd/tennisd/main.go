// Command tennisd watches the reservation site for newly opened tennis court
// slots and push-notifies subscribers.
//
// Usage:
//
//	tennisd serve
//	tennisd refresh --test 1
//	tennisd cleanup
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"tennis-alarm-backend/config"
	"tennis-alarm-backend/internal/db"
	"tennis-alarm-backend/internal/notification"
	"tennis-alarm-backend/internal/obs"
	"tennis-alarm-backend/internal/refresh"
	"tennis-alarm-backend/internal/scraper"
	"tennis-alarm-backend/internal/snapshot"
	"tennis-alarm-backend/internal/store"
)

var version = "dev"

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          obs.ServiceName,
		Short:        "Tennis court slot alarm service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}

	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "./config/config.yaml" // Default path for local development
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultPath, "path to the YAML config file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(refreshCmd(&configPath))
	root.AddCommand(cleanupCmd(&configPath))
	return root
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduled refresh loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(*configPath)
		},
	}
}

func refreshCmd(configPath *string) *cobra.Command {
	var test string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Run a single refresh cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(ctx context.Context, a *app) error {
				res, err := a.service.RunOnce(ctx, refresh.Options{Test: test})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(),
					"facilities=%d slots=%d seeded=%d sent=%d failed=%d suppressed=%d took=%s\n",
					res.Facilities, res.Slots, res.Alarms.Seeded, res.Alarms.Sent,
					res.Alarms.Failed, res.Alarms.Suppressed, res.Duration)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&test, "test", "", `test mode: "1" or "2" inject a debug slot, "push" sends a probe notification`)
	return cmd
}

func cleanupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired alarms, baselines and delivery records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(ctx context.Context, a *app) error {
				res, err := a.service.Cleanup(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "alarms=%d baselines=%d sent=%d\n", res.Alarms, res.Baselines, res.Sent)
				return nil
			})
		},
	}
}

// app is the wired service graph shared by every command.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	db       *gorm.DB
	store    store.Store
	snapshot *snapshot.Cache
	service  *refresh.Service
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := obs.NewLogger(cfg.Log, version)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	logger.Info("configuration loaded", zap.String("path", configPath))

	gormDB, err := db.Init(&cfg.Database, logger.Named("db"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	appStore := store.NewGormStore(gormDB)
	snap := snapshot.New()
	dispatcher := notification.NewDispatcher(cfg.Push, logger.Named("push"))
	client := scraper.NewClient(cfg.Scraper, logger.Named("scraper"))
	service := refresh.NewService(cfg, client, appStore, snap, dispatcher, logger.Named("refresh"))

	return &app{
		cfg:      cfg,
		log:      logger,
		db:       gormDB,
		store:    appStore,
		snapshot: snap,
		service:  service,
	}, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.log.Sync()
}

func withApp(configPath string, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.close()

	return fn(ctx, a)
}
