package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kumarabd/gokit/logger"

	"github.com/vulpeslabs/redaction-plane/internal/config"
	"github.com/vulpeslabs/redaction-plane/internal/metrics"
	"github.com/vulpeslabs/redaction-plane/pkg/server"
	"github.com/vulpeslabs/redaction-plane/pkg/service"
)

// main is the entry point of the application
func main() {
	// Initialize a new logger with the application name and syslog format
	log, err := logger.New(config.ApplicationName, logger.Options{
		Format: logger.SyslogLogFormat,
	})
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	// Initialize a new configuration handler
	configHandler, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("")
		os.Exit(1)
	}

	// Initialize a new metrics handler
	metricsHandler, err := metrics.New(config.ApplicationName)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	// Initialize the service layer: batch engine plus stream sessions
	serviceHandler, err := service.New(log, metricsHandler, configHandler.Service)
	if err != nil {
		log.Error().Err(err).Msg("service initialization failed")
		os.Exit(1)
	}
	log.Info().Msg("service initialized")

	// Create server instance
	srv, err := server.New(log, metricsHandler, configHandler.Server, serviceHandler)
	if err != nil {
		log.Error().Err(err).Msg("server initialization failed")
		os.Exit(1)
	}
	log.Info().Msg("server initialized")

	// Run the server with graceful shutdown
	ch := make(chan struct{})
	srv.Start(ch)
	<-ch
	log.Info().Msg("server stopped")

	// Close any stream sessions still live
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	serviceHandler.Shutdown(ctx)
	log.Info().Msg("stream sessions closed")
}
