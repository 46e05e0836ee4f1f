package config

import (
	"fmt"
	"time"

	config_pkg "github.com/kumarabd/gokit/config"

	"github.com/vulpeslabs/redaction-plane/internal/metrics"
	"github.com/vulpeslabs/redaction-plane/pkg/guard"
	"github.com/vulpeslabs/redaction-plane/pkg/pipeline"
	"github.com/vulpeslabs/redaction-plane/pkg/redact"
	"github.com/vulpeslabs/redaction-plane/pkg/server"
	"github.com/vulpeslabs/redaction-plane/pkg/service"
	"github.com/vulpeslabs/redaction-plane/pkg/stream"
)

var (
	ApplicationName    = "redaction-plane"
	ApplicationVersion = "dev"
)

type Config struct {
	Server  *server.Config   `json:"server,omitempty" yaml:"server,omitempty"`
	Service *service.Config  `json:"service" yaml:"service"`
	Metrics *metrics.Options `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// New creates a new config instance
func New() (*Config, error) {
	// Create default config object
	configObject := &Config{
		Server: &server.Config{
			HTTP: &server.HTTPConfig{
				Host:         "0.0.0.0",
				Port:         "8080",
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
				MaxTextBytes: 1048576, // 1MB per request
			},
		},
		Service: &service.Config{
			Engine: &redact.Config{
				MinConfidence: 0,                // Apply every resolved span
				CacheTTL:      5 * time.Minute,  // Detector output cache
				CacheCleanup:  10 * time.Minute, // Expired entry sweep
			},
			Pipeline: &pipeline.Config{
				Stream: stream.Config{
					Mode:             stream.ModeSentence,
					BufferSize:       1024, // UTF-16 code units
					Overlap:          32,
					IdleFlushTimeout: 500 * time.Millisecond,
					Accelerated:      false,
				},
				Breaker: guard.BreakerConfig{
					FailureThreshold: 5,
					ResetTimeout:     30 * time.Second,
					SuccessThreshold: 2,
					OperationTimeout: 5 * time.Second,
				},
				Queue: guard.QueueConfig{
					HighWaterMark: 64,
					LowWaterMark:  16,
					MaxSize:       128,
				},
				Supervisor: guard.SupervisorConfig{
					MaxRestarts:   3,
					RestartWindow: time.Minute,
					ShutdownGrace: 5 * time.Second,
				},
			},
		},
		Metrics: &metrics.Options{},
	}

	// Load config using gokit config package
	finalConfig, err := config_pkg.New(configObject)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Safe type assertion
	if finalConfig == nil {
		return nil, fmt.Errorf("config is nil")
	}

	cfg, ok := finalConfig.(*Config)
	if !ok {
		return nil, fmt.Errorf("config type assertion failed: expected *Config, got %T", finalConfig)
	}

	return cfg, nil
}
