package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"marginalia/internal/auth"
	"marginalia/internal/config"
	"marginalia/internal/handler"
	"marginalia/internal/middleware"
	"marginalia/internal/repository/postgres"
	annotationsService "marginalia/internal/service/annotations"
	notesService "marginalia/internal/service/notes"
	"marginalia/internal/service/suggest"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}
	var logOut io.Writer = os.Stdout
	if cfg.Debug {
		// Debug builds also keep a rotating file trail for offline digging.
		logFile, err := config.SetupLogFile("logs", 5)
		if err != nil {
			log.Fatalf("Failed to set up log file: %v", err)
		}
		defer logFile.Close()
		logOut = io.MultiWriter(os.Stdout, logFile)
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	// Create pgx connection pool
	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Create repositories
	tables := postgres.NewTableNames(cfg.TablePrefix)
	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}
	noteRepo := postgres.NewNoteRepository(repoConfig)
	annotationRepo := postgres.NewAnnotationRepository(repoConfig)
	logRepo := postgres.NewProcessingLogRepository(repoConfig)
	txManager := postgres.NewTransactionManager(pool)

	// Debounced writer absorbs rapid edit-driven anchor updates
	writer := annotationsService.NewDebouncedWriter(annotationRepo, config.SyncDebounceWindow, logger)

	// Services
	noteService := notesService.NewService(noteRepo, logger)
	annotationService := annotationsService.NewService(annotationRepo, noteRepo, txManager, writer, logger)

	// Suggestion providers and runner
	registry, _, err := suggest.SetupProviders(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to setup suggestion providers: %v", err)
	}
	runner := suggest.NewRunner(noteRepo, annotationRepo, logRepo, registry, cfg, logger)

	// Handlers
	noteHandler := handler.NewNoteHandler(noteService, annotationService, logger)
	annotationHandler := handler.NewAnnotationHandler(annotationService, logger)
	suggestHandler := handler.NewSuggestHandler(runner, logRepo, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", noteHandler.HealthCheck)

	// Note routes
	mux.HandleFunc("POST /api/notes", noteHandler.CreateNote)
	mux.HandleFunc("GET /api/notes", noteHandler.ListNotes)
	mux.HandleFunc("GET /api/notes/{id}", noteHandler.GetNote)
	mux.HandleFunc("PUT /api/notes/{id}/content", noteHandler.SyncContent)

	// Annotation routes
	mux.HandleFunc("POST /api/notes/{id}/annotations", annotationHandler.CreateAnnotation)
	mux.HandleFunc("GET /api/notes/{id}/annotations", annotationHandler.ListThreads)
	mux.HandleFunc("GET /api/annotations/{id}/thread", annotationHandler.GetThread)
	mux.HandleFunc("POST /api/annotations/{id}/replies", annotationHandler.CreateReply)
	mux.HandleFunc("POST /api/annotations/{id}/resolve", annotationHandler.Resolve)
	mux.HandleFunc("POST /api/annotations/{id}/reopen", annotationHandler.Reopen)
	mux.HandleFunc("DELETE /api/annotations/{id}", annotationHandler.DeleteReply)
	mux.HandleFunc("DELETE /api/annotations/{id}/thread", annotationHandler.DeleteThread)

	// Anchor sync flush (editor teardown)
	mux.HandleFunc("POST /api/sync/flush", noteHandler.FlushAnchors)

	// Suggestion routes
	mux.HandleFunc("POST /api/notes/{id}/suggestions", suggestHandler.RunSuggestions)
	mux.HandleFunc("GET /api/notes/{id}/processing-logs", suggestHandler.ListProcessingLogs)
	mux.HandleFunc("GET /api/processing-logs/{id}", suggestHandler.GetProcessingLog)

	// Build middleware chain
	var root http.Handler = mux

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → Auth → Routes
	if cfg.JWKSURL != "" {
		jwtVerifier, err := auth.NewJWTVerifier(cfg.JWKSURL, logger)
		if err != nil {
			log.Fatalf("Failed to create JWT verifier: %v", err)
		}
		defer jwtVerifier.Close()
		root = middleware.Auth(jwtVerifier, logger)(root)
	} else if cfg.Environment == "dev" {
		logger.Warn("JWKS_URL not set - all requests run as the local dev user")
		root = middleware.StaticUser("dev-user")(root)
	} else {
		log.Fatalf("JWKS_URL is required outside the dev environment")
	}
	root = middleware.Recovery(logger)(root)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	})
	root = corsHandler.Handler(root)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Serve until signalled, then drain debounced anchor writes before exit.
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Port)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
		if err := annotationService.Flush(shutdownCtx); err != nil {
			logger.Error("anchor flush on shutdown failed", "error", err)
		}
	}
}
