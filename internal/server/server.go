package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"virtual-ledger/internal/account"
	"virtual-ledger/internal/actor"
	"virtual-ledger/internal/config"
	"virtual-ledger/internal/handler"
	"virtual-ledger/internal/reminder"
	"virtual-ledger/internal/repository"
	"virtual-ledger/internal/service"
)

// Server represents the HTTP server
type Server struct {
	router    *mux.Router
	server    *http.Server
	store     *repository.Store
	accounts  *account.Directory
	reminders *reminder.Service
	cfg       *config.Config
	logger    *slog.Logger
	port      string

	cancel         context.CancelFunc
	done           chan struct{}
	tracerShutdown func(context.Context) error
}

// NewServer creates a new server instance
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("State store ready", "backend", cfg.StateBackend)

	tracerShutdown, err := setupTracing(ctx, cfg.OTelEndpoint)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	reminders := reminder.NewService(store.Reminders(), logger)
	accounts := account.NewDirectory(account.Options{
		EnforceActive:   cfg.EnforceActiveFlag,
		InterestDueTime: cfg.InterestDueTime,
		InterestPeriod:  cfg.InterestPeriod,
	}, store.State(), reminders, logger, actor.WithIdleTimeout(cfg.EntityIdleTimeout))
	reminders.SetDispatcher(accounts)

	transactor := service.NewTransactorService(accounts, cfg.EnforceActiveFlag, logger)

	// Initialize handlers
	accountHandler := handler.NewAccountHandler(transactor)
	transactionHandler := handler.NewTransactionHandler(transactor)

	// Setup router
	router := mux.NewRouter()

	// Add middleware for logging
	router.Use(loggingMiddleware(logger))

	// Account routes
	router.HandleFunc("/accounts", accountHandler.CreateAccount).Methods("POST")
	router.HandleFunc("/accounts/{account_id}", accountHandler.GetAccount).Methods("GET")
	router.HandleFunc("/accounts/{account_id}", accountHandler.DeleteAccount).Methods("DELETE")
	router.HandleFunc("/accounts/{account_id}/exists", accountHandler.AccountExists).Methods("GET")

	// Transaction routes
	router.HandleFunc("/transactions", transactionHandler.Transfer).Methods("POST")

	// Health check
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		// Check store connectivity in health check
		if err := store.State().Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "state store unavailable"})
			return
		}

		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	return &Server{
		router:         router,
		store:          store,
		accounts:       accounts,
		reminders:      reminders,
		cfg:            cfg,
		logger:         logger,
		tracerShutdown: tracerShutdown,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*repository.Store, error) {
	switch cfg.StateBackend {
	case config.BackendPostgres:
		db, err := repository.OpenPostgres(ctx, cfg.GetDBConnectionString())
		if err != nil {
			return nil, err
		}
		return repository.NewSQLStore(db, repository.Postgres, logger), nil
	case config.BackendSQLite:
		db, err := repository.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return repository.NewSQLStore(db, repository.SQLite, logger), nil
	case config.BackendRedis:
		client, err := repository.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return repository.NewRedisStore(client, logger), nil
	case config.BackendMemory:
		return repository.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported state backend %q", cfg.StateBackend)
	}
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
				"user_agent", r.UserAgent(),
			)
		})
	}
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

// Start starts the HTTP server on the specified port together with the
// reminder poller and the idle-entity sweeper.
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

	s.logger.Info("Starting server", "port", s.port)

	// Start server in background
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server failed to start", "error", err)
		}
	}()

	bg, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.accounts.Host().Run(bg, s.sweepInterval())
		}()
		s.reminders.Run(bg, s.cfg.ReminderPollInterval)
		<-done
	}()

	return s.port, nil
}

func (s *Server) sweepInterval() time.Duration {
	if s.cfg.EntityIdleTimeout <= 0 {
		return 0
	}
	interval := s.cfg.EntityIdleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	var err error
	// Shutdown HTTP server first so no new calls reach the entities
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	if s.cancel != nil {
		s.cancel()
		<-s.done
	}

	s.accounts.Host().Close(ctx)

	if s.tracerShutdown != nil {
		if tErr := s.tracerShutdown(ctx); tErr != nil {
			s.logger.Warn("Tracer shutdown failed", "error", tErr)
		}
	}

	// Close store connection
	if cErr := s.store.Close(); cErr != nil {
		s.logger.Warn("Store close failed", "error", cErr)
	}
	return err
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
	// Initialize logger - use io.Discard for tests to avoid panic
	var logger *slog.Logger
	if cfg.ServerPort == "0" {
		// Test environment - use discard logger
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	} else {
		// Production environment - use stdout
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	server, err := NewServer(context.Background(), cfg, logger)
	if err != nil {
		return nil, "", err
	}

	// Start the server and get the actual port
	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		server.Stop(context.Background())
		return nil, "", err
	}

	return server, port, nil
}
