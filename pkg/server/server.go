// Package server is the Chorus backend: auth and REST endpoints over SQLite,
// the realtime change feed, and the moderation functions.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/aeolun/chorus/pkg/auth"
	"github.com/aeolun/chorus/pkg/database"
	"github.com/aeolun/chorus/pkg/moderation"
	"github.com/aeolun/chorus/pkg/realtime"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const shutdownTimeout = 10 * time.Second

var (
	errorLog = zap.NewNop().Sugar()
	debugLog = zap.NewNop().Sugar()
)

// Server represents the Chorus backend
type Server struct {
	db         *database.DB
	signer     *auth.Signer
	sessions   *realtime.SessionManager
	moderation *moderation.Service
	limiter    *rateLimiter
	config     ServerConfig
	metrics    *Metrics
	router     *mux.Router
	handler    http.Handler
	startTime  time.Time

	httpServer    *http.Server
	metricsServer *http.Server
	shutdown      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// ServerConfig holds server configuration
type ServerConfig struct {
	HTTPPort       int
	MetricsPort    int // Internal /metrics and /health (0 = disabled)
	AllowedOrigins []string

	JWTSecret       string
	SessionTokenTTL time.Duration
	AdminTokenTTL   time.Duration
	AdminUsername   string
	AdminPassword   string // Seeds admin_users on startup when set

	MessageRateLimit  int // per minute per user
	MaxMessageLength  int // characters
	MaxUsernameLength int // characters
	RealtimeBuffer    int // queued events per websocket
	MaxSubscriptions  int // per websocket
}

// DefaultConfig returns default server configuration
func DefaultConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:          8080,
		MetricsPort:       9090,
		AllowedOrigins:    []string{"*"},
		SessionTokenTTL:   7 * 24 * time.Hour,
		AdminTokenTTL:     time.Hour,
		AdminUsername:     "admin",
		MessageRateLimit:  30,
		MaxMessageLength:  4000,
		MaxUsernameLength: 32,
		RealtimeBuffer:    64,
		MaxSubscriptions:  16,
	}
}

// InitLoggers sets up the error and debug loggers. Errors always go to
// stderr as JSON; debug output is only produced with debug enabled, using
// the development encoder.
func InitLoggers(debug bool) error {
	prod := zap.NewProductionConfig()
	prod.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	prod.OutputPaths = []string{"stderr"}
	base, err := prod.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	errorLog = base.Sugar()

	if !debug {
		debugLog = zap.NewNop().Sugar()
		return nil
	}
	dev, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("build debug logger: %w", err)
	}
	debugLog = dev.Sugar()
	debugLog.Debug("Debug logging enabled")
	return nil
}

// NewServer opens the database at dbPath and wires every component.
func NewServer(dbPath string, config ServerConfig) (*Server, error) {
	db, err := database.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.JWTSecret == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to generate token secret: %w", err)
		}
		config.JWTSecret = hex.EncodeToString(secret)
		errorLog.Warn("auth.jwt_secret is not set; using a random secret, tokens will not survive a restart")
	}

	if config.AdminPassword != "" {
		if err := seedAdmin(db, config.AdminUsername, config.AdminPassword); err != nil {
			db.Close()
			return nil, err
		}
	}

	metrics := NewMetrics()
	sessions := realtime.NewSessionManager(config.RealtimeBuffer, config.MaxSubscriptions, debugLog)
	sessions.SetMetrics(metrics)
	sessions.SetChannelAuthorizer(channelReader(db))
	db.SetChangeListener(sessions.Publish)

	signer := auth.NewSigner(config.JWTSecret)
	mod := moderation.NewService(db, signer, config.AdminTokenTTL, errorLog)
	mod.SetMetrics(metrics)

	s := &Server{
		db:         db,
		signer:     signer,
		sessions:   sessions,
		moderation: mod,
		limiter:    newRateLimiter(config.MessageRateLimit),
		config:     config,
		metrics:    metrics,
		startTime:  time.Now(),
		shutdown:   make(chan struct{}),
	}
	s.router = s.routes()
	s.handler = s.withIPBans(s.withCORS(s.router))
	return s, nil
}

// channelReader lets a user follow a channel while they are an unbanned
// member of the server that owns it.
func channelReader(db *database.DB) realtime.ChannelAuthorizer {
	return func(userID, channelID string) (bool, error) {
		ch, err := db.GetChannel(channelID)
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		member, err := db.IsMember(ch.ServerID, userID)
		if err != nil || !member {
			return false, err
		}
		ban, err := db.GetActiveBan(userID, ch.ServerID)
		if err != nil {
			return false, err
		}
		return ban == nil, nil
	}
}

func seedAdmin(db *database.DB, username, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	if err := db.UpsertAdminUser(username, hash); err != nil {
		return fmt.Errorf("failed to seed admin user: %w", err)
	}
	return nil
}

// Handler returns the public HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start starts the public and metrics HTTP servers
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		errorLog.Infow("Public HTTP server listening", "addr", addr)
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Errorw("Public HTTP server error", "error", err)
		}
	}()

	// Internal only, never expose publicly
	if s.config.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", s.metrics.Handler())
		metricsMux.HandleFunc("/health", s.HealthHandler)
		s.metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", s.config.MetricsPort),
			Handler:           metricsMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			errorLog.Infow("Metrics server listening (internal only)", "addr", s.metricsServer.Addr)
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errorLog.Errorw("Metrics server error", "error", err)
			}
		}()
	}

	s.wg.Add(1)
	go s.housekeepingLoop()

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		errorLog.Info("Graceful shutdown initiated...")
		close(s.shutdown)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Websockets are hijacked, so close them before waiting on the listener
		s.sessions.CloseAll()

		if s.httpServer != nil {
			if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
				errorLog.Warnw("Public HTTP server shutdown", "error", shutdownErr)
			}
		}
		if s.metricsServer != nil {
			if shutdownErr := s.metricsServer.Shutdown(ctx); shutdownErr != nil {
				errorLog.Warnw("Metrics server shutdown", "error", shutdownErr)
			}
		}

		s.wg.Wait()

		if closeErr := s.db.Close(); closeErr != nil {
			errorLog.Errorw("Error during database close", "error", closeErr)
			err = closeErr
			return
		}
		errorLog.Info("Graceful shutdown complete")
	})
	return err
}

// housekeepingLoop logs key metrics and forgets idle rate limiters
func (s *Server) housekeepingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			pruned := s.limiter.prune(10 * time.Minute)
			debugLog.Infow("[METRICS]",
				"realtime_sessions", s.sessions.Count(),
				"rate_limiters_pruned", pruned,
				"goroutines", runtime.NumGoroutine())
		}
	}
}
