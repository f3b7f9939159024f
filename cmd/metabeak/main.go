// Command metabeak runs the scholarly-metadata event pipeline: harvest
// from Crossref, extract events from assertions, execute handler
// functions against events, and/or serve the HTTP API, depending on
// which flags are given. Flags run in pipeline order regardless of the
// order they're given on the command line; any combination is legal.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/pardalotus/metabeak/internal/api"
	"github.com/pardalotus/metabeak/internal/api/middleware"
	"github.com/pardalotus/metabeak/internal/crossref"
	"github.com/pardalotus/metabeak/internal/pipeline"
	"github.com/pardalotus/metabeak/internal/storage"
)

const (
	version = "0.1.0"
	name    = "metabeak"
)

func main() {
	var (
		loadHandlersDir        = flag.String("load-handlers", "", "load every file in `dir` as a handler")
		loadEventsDir          = flag.String("load-events", "", "load every file in `dir` as an array of events")
		fetchCrossref          = flag.Bool("fetch-crossref", false, "run the incremental checkpointed Crossref harvest")
		fetchCrossrefSecondary = flag.String("fetch-crossref-secondary", "", "run a bulk Crossref harvest against `filter`, storing Secondary assertions")
		extract                = flag.Bool("extract", false, "drain the assertion queue into events")
		execute                = flag.Bool("execute", false, "drain the event queue, running every enabled handler")
		serveAPI               = flag.Bool("api", false, "serve the HTTP API and block until shutdown")
		versionFlag            = flag.Bool("version", false, "show version information")
	)

	flag.Parse()

	if *versionFlag {
		os.Stdout.WriteString(name + " v" + version + "\n")
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("starting metabeak", slog.String("version", version))

	dbConfig := storage.LoadConfig()
	if err := dbConfig.Validate(); err != nil {
		logger.Error("DB_URI is required", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := storage.NewConnection(dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	crossrefClient := crossref.NewClient(nil, logger)
	pipelineConfig := pipeline.LoadConfig()
	orchestrator := pipeline.New(conn.DB, crossrefClient, pipelineConfig, logger)

	ctx := context.Background()

	if *loadHandlersDir != "" {
		if err := orchestrator.LoadHandlers(ctx, *loadHandlersDir); err != nil {
			logger.Error("load-handlers failed", slog.String("error", err.Error()))
		}
	}

	if *loadEventsDir != "" {
		if err := orchestrator.LoadEvents(ctx, *loadEventsDir); err != nil {
			logger.Error("load-events failed", slog.String("error", err.Error()))
		}
	}

	if *fetchCrossref {
		if err := orchestrator.FetchCrossref(ctx); err != nil {
			logger.Error("fetch-crossref failed", slog.String("error", err.Error()))
		}
	}

	if *fetchCrossrefSecondary != "" {
		if err := orchestrator.FetchCrossrefSecondary(ctx, *fetchCrossrefSecondary); err != nil {
			logger.Error("fetch-crossref-secondary failed", slog.String("error", err.Error()))
		}
	}

	if *extract {
		if err := orchestrator.Extract(ctx); err != nil {
			logger.Error("extract failed", slog.String("error", err.Error()))
		}
	}

	if *execute {
		if err := orchestrator.Execute(ctx); err != nil {
			logger.Error("execute failed", slog.String("error", err.Error()))
		}
	}

	if *serveAPI {
		runAPI(conn, logger)
	}

	logger.Info("metabeak exiting")
}

// runAPI wires the handler store, execution result store, API key store
// and rate limiter and blocks serving the HTTP API until a shutdown
// signal arrives.
func runAPI(conn *storage.Connection, logger *slog.Logger) {
	serverConfig := api.LoadServerConfig()
	if err := serverConfig.Validate(); err != nil {
		logger.Error("invalid server configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	handlers := storage.NewHandlerStore(conn.DB)
	results := storage.NewExecutionResultStore(conn.DB)
	apiKeyStore := storage.NewPostgresKeyStore(conn)
	rateLimiter := middleware.NewInMemoryRateLimiter(middleware.LoadConfig())

	server := api.NewServer(&serverConfig, conn.DB, handlers, results, apiKeyStore, rateLimiter)

	if err := server.Start(); err != nil {
		logger.Error("API server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
