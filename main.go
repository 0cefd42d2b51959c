package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hbomb79/Iris/internal"
	"github.com/hbomb79/Iris/pkg/logger"
)

var log = logger.Get("Main")

const shutdownGracePeriod = time.Second * 10

// main is the entry point to the program. The user configuration is
// loaded from the YAML file provided via -config, falling back to the
// process environment alone when no file is given.
func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file (optional)")
	flag.Parse()

	config := internal.IrisConfig{}
	var err error
	if *configPath != "" {
		err = config.LoadFromFile(*configPath)
	} else {
		err = config.LoadFromEnv()
	}
	if err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogging(config.Logging)
	log.Emit(logger.INFO, "Configuration loaded: %s\n", config.Summary())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If services do not wind down within the grace period after a
	// shutdown signal, the process exits hard.
	go func() {
		<-ctx.Done()
		time.Sleep(shutdownGracePeriod)
		log.Emit(logger.FATAL, "Services did not stop within %s of shutdown signal, exiting\n", shutdownGracePeriod)
		os.Exit(1)
	}()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Iris stopped due to error: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Iris shut down cleanly\n")
}

func setupLogging(config internal.LoggingConfig) {
	logger.SetMinLoggingLevel(logger.ParseLogStatus(config.Level))

	logger.SetConsoleLogging(config.Console)
	if config.File {
		if err := logger.EnableFileLogging(config.DirPath); err != nil {
			log.Emit(logger.WARNING, "File logging unavailable: %v\n", err)
		}
	}
}
