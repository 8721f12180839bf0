package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"bank-movements/internal/config"
	"bank-movements/internal/errors"
	"bank-movements/internal/gateway"
	"bank-movements/internal/guard"
	"bank-movements/internal/handler"
	"bank-movements/internal/journal"
	"bank-movements/internal/service"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
)

// Server represents the HTTP server
type Server struct {
	router *mux.Router
	server *http.Server
	db     *sql.DB
	logger *slog.Logger
	port   string
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	// Journal database connection
	db, err := sql.Open("postgres", cfg.GetDBConnectionString())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	if logger != nil {
		logger.Info("Successfully connected to journal database")
	}

	// Wire the coordination engine: gateway to the account service, the
	// per-account guard and the journal behind the movement service.
	movementJournal := journal.New(db, logger)
	balanceGateway := gateway.NewClient(cfg, logger)
	accountGuard := guard.New()

	movementService := service.NewMovementService(
		balanceGateway,
		movementJournal,
		accountGuard,
		cfg.CASMaxAttempts,
		logger,
	)

	movementHandler := handler.NewMovementHandler(movementService)

	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))

	// Movement routes require an authenticated principal; identity
	// validation itself happens upstream, we only consume the header.
	movements := router.PathPrefix("/movements").Subrouter()
	movements.Use(principalMiddleware)
	movements.HandleFunc("/deposit", movementHandler.Deposit).Methods("POST")
	movements.HandleFunc("/withdraw", movementHandler.Withdraw).Methods("POST")
	movements.HandleFunc("/transfer", movementHandler.Transfer).Methods("POST")

	router.HandleFunc("/accounts/{account_id}/movements", movementHandler.History).Methods("GET")

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "journal database unavailable"})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	return &Server{
		router: router,
		db:     db,
		logger: logger,
	}, nil
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create response wrapper to capture status code
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
				"principal_id", PrincipalID(r.Context()),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

type principalKey struct{}

// principalMiddleware extracts the authenticated caller set by the identity
// collaborator. Requests without a principal are rejected before any work.
func principalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := r.Header.Get("X-Principal-ID")
		if principal == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]string{
					"code":    string(errors.InvalidInput),
					"message": "missing X-Principal-ID header",
				},
			})
			return
		}

		ctx := context.WithValue(r.Context(), principalKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalID returns the caller identity threaded through the request
// context, or "" when the route carries none.
func PrincipalID(ctx context.Context) string {
	principal, _ := ctx.Value(principalKey{}).(string)
	return principal
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port string) (string, error) {
	// Create listener first to get actual port
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	// Get the actual port being used
	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	// Create HTTP server
	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.logger != nil {
		s.logger.Info("Starting server", "port", s.port)
	}

	// Start server in background
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Error("Server failed to start", "error", err)
			}
		}
	}()

	return s.port, nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	if s.logger != nil {
		s.logger.Info("Shutting down server")
	}

	// Close database connection
	if s.db != nil {
		s.db.Close()
	}

	// Shutdown HTTP server
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// StartServer starts the server with the given configuration
func StartServer(cfg *config.Config) (*Server, string, error) {
	// Initialize logger - use io.Discard for tests to avoid noisy output
	var logger *slog.Logger
	if cfg.ServerPort == "0" {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		return nil, "", err
	}

	// Start the server and get the actual port
	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		return nil, "", err
	}

	return server, port, nil
}
