package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bolo3547/kupemisa-cooking-sub000/api"
	"github.com/bolo3547/kupemisa-cooking-sub000/config"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/database"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/scheduler"
	"github.com/bolo3547/kupemisa-cooking-sub000/internal/tracing"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	// Serve command flags
	disableNewRelic bool
	serverPort      int
	gracefulTimeout int
	skipMigrate     bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and the maintenance scheduler",
	Long: `Starts the HTTP API for devices and owners together with the scheduled
jobs for offline detection, command expiry and cache sweeps.

The server respects the configuration in config.yaml or specified via the --config flag.
It will gracefully shut down on receiving SIGINT or SIGTERM signals.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&disableNewRelic, "disable-newrelic", false, "Disable New Relic monitoring")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "Server port (overrides config file)")
	serveCmd.Flags().IntVar(&gracefulTimeout, "graceful-timeout", 30, "Graceful shutdown timeout in seconds")
	serveCmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Do not run schema migrations on start")
}

// startServer runs the HTTP server and the scheduler until a signal arrives
// or either of them fails
func startServer() error {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if serverPort > 0 {
		cfg.Server.Port = serverPort
	}

	log.WithFields(logrus.Fields{
		"port":             cfg.Server.Port,
		"mode":             cfg.Server.Mode,
		"ratelimit":        cfg.RateLimit.Backend,
		"dedupe":           cfg.Alerting.DedupeBackend,
		"newrelic_enabled": cfg.NewRelic.Enabled && !disableNewRelic,
	}).Info("Initializing service components...")

	db, err := connectDatabase(cfg.Database, 5)
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Info("Successfully connected to database")

	if !skipMigrate {
		log.Info("Running database migrations...")
		if err := database.AutoMigrate(db); err != nil {
			_ = db.Close()
			log.Fatalf("Failed to run database migrations: %v", err)
		}
	}

	var nrApp *newrelic.Application
	if !disableNewRelic {
		nrApp, err = tracing.InitNewRelic(cfg.NewRelic)
		if err != nil {
			log.Warnf("Failed to initialize New Relic: %v", err)
			nrApp = nil
		} else if nrApp != nil {
			log.Info("New Relic monitoring initialized successfully")
		}
	}

	c, err := buildComponents(cfg, db)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer c.close()

	sched, err := scheduler.New(log, nrApp, scheduler.MaintenanceJobs(cfg, c.svc, c.sweepers, log)...)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg, log, nrApp, c.svc, c.limiter, c.ready)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("port", cfg.Server.Port).Info("Starting server...")
		return server.Start()
	})

	g.Go(func() error {
		log.Info("Starting maintenance scheduler")
		return sched.Run(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(gracefulTimeout)*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Server error")
		return err
	}

	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}
	log.Info("Server shutdown complete")
	return nil
}
