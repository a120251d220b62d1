package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orgoj/amqpgelf/internal/config"
	"github.com/orgoj/amqpgelf/internal/logger"
	"github.com/orgoj/amqpgelf/internal/logrushook"
	"github.com/orgoj/amqpgelf/internal/server"
	"github.com/orgoj/amqpgelf/internal/version"
	"github.com/sirupsen/logrus"
)

// processCategory is the category of the service's own log entries.
const processCategory = "amqpgelf"

func main() {
	// --- Configuration --- //
	configPath := flag.String("config", "config/config.yaml", "Path to the configuration file")
	testConfigShort := flag.Bool("t", false, "Test configuration and exit (nginx style)")
	testConfigLong := flag.Bool("test", false, "Test configuration and exit (nginx style)")
	showVersion := flag.Bool("version", false, "Show version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.VersionInfo())
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("[CRITICAL] Failed to load configuration from '%s': %v\n", *configPath, err)
		os.Exit(1)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		fmt.Printf("[CRITICAL] Configuration validation failed for '%s':\n%v\n", *configPath, err)
		os.Exit(1)
	}

	if *testConfigShort || *testConfigLong {
		fmt.Printf("Configuration '%s' is valid.\n", *configPath)
		os.Exit(0)
	}

	shutdownTimeout, err := config.ParseDuration(cfg.ShutdownTimeout)
	if err != nil {
		// LoadConfig has already validated it
		shutdownTimeout = 5 * time.Second
	}

	// Initialize application logger
	appLogger := logger.GetAppLogger()
	if err := appLogger.SetLogLevelFromString(cfg.AppLog.Level); err != nil {
		fmt.Printf("[WARN] Invalid log level '%s', using default: %v\n", cfg.AppLog.Level, err)
	}
	if cfg.AppLog.File != "" {
		if err := appLogger.SetOutputFile(cfg.AppLog.File, cfg.AppLog.Rotation); err != nil {
			fmt.Printf("[CRITICAL] Failed to open app log file '%s': %v\n", cfg.AppLog.File, err)
			os.Exit(1)
		}
	}
	defer appLogger.Close()
	appLogger.SetShowHealth(cfg.AppLog.ShowHealthLogs)

	appLogger.Warn("%s", version.VersionInfo())

	// --- Dependency Initialization --- //

	manager := logger.NewManager(logger.WithAppLogger(appLogger))
	if err := manager.InitAppenders(cfg.Appenders); err != nil {
		appLogger.Fatal("Failed to initialize one or more appenders: %v. Exiting.", err)
	}

	// The service's own logs go through the same appenders.
	log := logrus.New()
	log.Out = os.Stderr
	log.Level = logrus.InfoLevel
	log.AddHook(logrushook.New(manager, processCategory, logrus.InfoLevel))
	log.WithFields(logrus.Fields{
		"version":   version.Version,
		"appenders": len(manager.Names()),
	}).Info("amqpgelf started")

	var srv *server.Server
	if cfg.Server.Enabled {
		srv, err = server.NewServer(server.Dependencies{
			Config:    cfg,
			Events:    manager,
			AppLogger: appLogger,
		})
		if err != nil {
			appLogger.Fatal("Failed to create server: %v", err)
		}
		go func() {
			if err := srv.Start(); err != nil {
				log.WithError(err).Error("HTTP server stopped")
				appLogger.Fatal("Server error: %v", err)
			}
		}()
	}

	// --- Graceful Shutdown --- //

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	appLogger.Info("Received shutdown signal.")
	log.WithField("signal", sig.String()).Info("amqpgelf shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			appLogger.Warn("Server forced to shutdown: %v", err)
		}
	}
	if err := manager.CloseAll(ctx); err != nil {
		appLogger.Warn("Appenders did not shut down cleanly: %v", err)
	}

	appLogger.Info("amqpgelf shut down gracefully.")
}
