// Package httpapi exposes the synchronizer over a JSON control API used by
// the dashboard frontend.
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	stdsync "sync"
	"time"

	"lifesync/internal/cache"
	"lifesync/internal/core"
	"lifesync/internal/log"
	"lifesync/internal/sync"
)

// Engine is the synchronizer surface the API serves.
type Engine interface {
	Document() *core.UserDataDocument
	Save(ctx context.Context, patch core.DocumentPatch) error
	Status(ctx context.Context) sync.Status
	Synchronize(ctx context.Context) error
	Refresh(ctx context.Context) error
	Monthly(ctx context.Context, rawKey string) (core.MonthlyRecord, core.PeriodKey, error)
	Summary() core.FinanceSummary
	AddTransaction(ctx context.Context, rawMonth string, tx core.Transaction) (core.Transaction, error)
	OnInvalidate(fn func())
}

type Server struct {
	http.Server
	engine      Engine
	logger      *log.Logger
	rateLimiter *rateLimiter

	monthlyCache *cache.LRUCache[core.MonthlyRecord]
	summaryCache *cache.LRUCache[core.FinanceSummary]
	cacheManager *cache.Manager

	shutdownOnce stdsync.Once
}

// NewServer wires routes and view caches, returning a ready-to-run server.
// The caches are purged whenever the engine reports a document change.
func NewServer(addr string, engine Engine, logger *log.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		engine:       engine,
		logger:       logger.WithComponent(log.ComponentHTTP),
		rateLimiter:  newRateLimiter(),
		monthlyCache: cache.NewLRUCache[core.MonthlyRecord](64, 5*time.Minute),
		summaryCache: cache.NewLRUCache[core.FinanceSummary](4, 5*time.Minute),
		cacheManager: cache.NewManager(),
	}

	s.cacheManager.Register(s.monthlyCache)
	s.cacheManager.Register(s.summaryCache)
	s.cacheManager.StartCleanup(10 * time.Minute)

	engine.OnInvalidate(func() {
		s.monthlyCache.Purge()
		s.summaryCache.Purge()
	})

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", handleReady)

	mux.HandleFunc("GET /api/v1/document", s.withMiddleware(s.handleGetDocument))
	mux.HandleFunc("PATCH /api/v1/document", s.withMiddleware(s.handlePatchDocument))
	mux.HandleFunc("GET /api/v1/status", s.withMiddleware(s.handleStatus))
	mux.HandleFunc("POST /api/v1/sync", s.withMiddleware(s.handleSynchronize))
	mux.HandleFunc("POST /api/v1/refresh", s.withMiddleware(s.handleRefresh))
	mux.HandleFunc("GET /api/v1/finance/summary", s.withMiddleware(s.handleSummary))
	mux.HandleFunc("GET /api/v1/finance/months/{month}", s.withMiddleware(s.handleMonthly))
	mux.HandleFunc("POST /api/v1/finance/months/{month}/transactions", s.withMiddleware(s.handleAddTransaction))

	return s
}

// Shutdown stops the HTTP server and the background cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withMiddleware adds request IDs, security headers, rate limiting of
// mutating requests, and request logging.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		clientIP := clientAddr(r)
		requestID := generateRequestID()

		reqLogger := s.logger.With(log.FieldRequestID, requestID)
		ctx := context.WithValue(r.Context(), log.LoggerContextKey, reqLogger)
		r = r.WithContext(ctx)

		reqLogger.InfoContext(ctx, "Request started",
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldClientIP, clientIP)

		if isMutation(r.Method) && !s.rateLimiter.allow(clientIP) {
			reqLogger.WarnContext(ctx, "Rate limit exceeded",
				log.FieldClientIP, clientIP,
				log.FieldPath, r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		reqLogger.InfoContext(ctx, "Request completed",
			log.FieldMethod, r.Method,
			log.FieldPath, r.URL.Path,
			log.FieldStatusCode, rw.statusCode,
			log.FieldDuration, time.Since(start).Milliseconds(),
			log.FieldClientIP, clientIP)
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func clientAddr(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// generateRequestID creates a unique request ID for tracing
func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
