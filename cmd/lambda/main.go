// Command lambda serves the HTTP API behind an API Gateway proxy integration.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/rendis/diagrammer/internal/api"
	"github.com/rendis/diagrammer/internal/config"
	"github.com/rendis/diagrammer/internal/logging"
	"github.com/rendis/diagrammer/internal/service"
)

var version = "dev"

func main() {
	cfg, err := lambdaConfig()
	logger := logging.New(os.Stdout, cfg.LogLevel, true)
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx := context.Background()
	rt, err := service.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("runtime wiring failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := rt.Start(ctx); err != nil {
		logger.Error("scheduler start failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	lambda.Start(newProxy(api.FromRuntime(rt, version).Handler()).Handle)
}

// lambdaConfig reads DIAGRAMMER_* variables. The event log stays off unless
// DIAGRAMMER_DB_PATH names a writable location such as /tmp.
func lambdaConfig() (config.Config, error) {
	cfg, err := config.Load(os.Getenv(config.EnvPrefix + "CONFIG"))
	if err != nil {
		return cfg, err
	}
	if os.Getenv(config.EnvPrefix+"DB_PATH") == "" {
		cfg.DBPath = ""
	}
	return cfg, cfg.Validate()
}
