package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"studio-agent/internal/app"
	"studio-agent/internal/config"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// ---- Handler ----
	h, cleanup, err := app.New(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to create handler", "err", err)
		cleanup()
		os.Exit(1)
	}
	defer cleanup()

	lambda.Start(h.Handle)
}
