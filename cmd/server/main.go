// Package main provides the entry point for the document ingestion core
// service: parser registry, extraction pipeline, job store and worker
// pool, webhook dispatcher, rate limiter and event bus.
package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/clarityinspect/ingestcore/domain/events"
	"github.com/clarityinspect/ingestcore/domain/health"
	"github.com/clarityinspect/ingestcore/domain/ingestion"
	"github.com/clarityinspect/ingestcore/domain/parsing"
	"github.com/clarityinspect/ingestcore/domain/ratelimit"
	"github.com/clarityinspect/ingestcore/domain/scheduler"
	"github.com/clarityinspect/ingestcore/domain/webhooks"
	"github.com/clarityinspect/ingestcore/internal/config"
	"github.com/clarityinspect/ingestcore/internal/database"
	"github.com/clarityinspect/ingestcore/internal/jobs"
	"github.com/clarityinspect/ingestcore/internal/server"
	"github.com/clarityinspect/ingestcore/internal/storage"
	"github.com/clarityinspect/ingestcore/pkg/encryption"
	"github.com/clarityinspect/ingestcore/pkg/kreuzberg"
	"github.com/clarityinspect/ingestcore/pkg/logger"
)

func main() {
	// Load .env files if present (for local development)
	// Order matters: .env.local overrides .env
	_ = godotenv.Load("../../.env")
	_ = godotenv.Overload("../../.env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure
		logger.Module,
		config.Module,
		database.Module,
		server.Module,
		storage.Module,
		encryption.Module,
		kreuzberg.Module,

		// Core subsystems
		health.Module,
		events.Module,
		jobs.Module,
		parsing.Module,
		ingestion.Module,
		webhooks.Module,
		ratelimit.Module,
		scheduler.Module,
	).Run()
}
