package http

import (
	"context"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"ledger/internal/ledger"
	applog "ledger/internal/log"
	"ledger/internal/metrics"
	appweb "ledger/web"
)

const requestIDHeader = "X-Request-ID"

type Server struct {
	http.Server
	session     *ledger.Session
	templates   *template.Template
	rateLimiter *rateLimiter
	metrics     *metrics.Metrics

	shutdownOnce sync.Once
}

// Options tunes a Server. Zero values fall back to sensible defaults.
type Options struct {
	RateLimitPerMinute int
	Logger             *applog.Logger
	// Metrics enables /metrics and request instrumentation when set.
	Metrics *metrics.Metrics
	// Web holds templates/*.html and static/*; defaults to the embedded assets.
	Web fs.FS
}

// NewServer configures routes and templates, returning a ready-to-run http.Server.
func NewServer(addr string, session *ledger.Session, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.Default()
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	s := &Server{
		session:     session,
		rateLimiter: newRateLimiter(opts.RateLimitPerMinute),
		metrics:     opts.Metrics,
	}

	var templatesFS, staticFS fs.FS = appweb.TemplatesFS, appweb.StaticFS
	if opts.Web != nil {
		templatesFS, staticFS = opts.Web, opts.Web
	}

	// Parse templates at startup; handlers answer 500 while they are missing.
	t, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		logger.WithComponent(applog.ComponentTemplate).Warn("Failed parsing templates", applog.FieldError, err)
	}
	s.templates = t

	mux := http.NewServeMux()

	if sub, err := fs.Sub(staticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "public, max-age=3600, immutable")
			static.ServeHTTP(w, r)
		}))
	} else {
		logger.Warn("Failed to mount static FS", applog.FieldError, err)
	}

	s.route(mux, "GET /{$}", s.handleIndex)
	s.route(mux, "GET /ui/ledger", s.handleLedgerPartial)
	s.route(mux, "GET /api/ledger", s.handleAPILedger)

	s.route(mux, "POST /categories", s.handleAddCategory)
	s.route(mux, "POST /categories/save", s.handleSaveCategory)
	s.route(mux, "POST /categories/{id}/select", s.handleSelectCategory)
	s.route(mux, "POST /categories/{id}/edit", s.handleEditCategory)
	s.route(mux, "POST /categories/{id}/delete", s.handleDeleteCategory)

	s.route(mux, "POST /expenses", s.handleAddExpense)
	s.route(mux, "POST /expenses/save", s.handleSaveExpense)
	s.route(mux, "POST /expenses/{id}/edit", s.handleEditExpense)
	s.route(mux, "POST /expenses/{id}/delete", s.handleDeleteExpense)

	s.route(mux, "POST /edit/cancel", s.handleCancelEdit)

	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	var handler http.Handler = s.withDetection(mux)
	handler = applog.RequestIDMiddleware(func(r *http.Request) string {
		return r.Header.Get(requestIDHeader)
	})(handler)
	handler = applog.Middleware(logger)(handler)
	handler = withRequestID(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Shutdown stops the rate limiter cleanup and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.withSecurityHeaders(pattern, h))
}

// withRequestID makes sure every request carries a request id, reusing the
// caller's when it is a valid UUID.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// withDetection logs and counts probing requests before routing.
func (s *Server) withDetection(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSuspicious(r) {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Suspicious request",
				applog.FieldClientIP, extractClientIP(r),
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path,
				applog.FieldUserAgent, r.Header.Get("User-Agent"))
			if s.metrics != nil {
				s.metrics.Suspicious.Inc()
			}
		}
		next.ServeHTTP(w, r)
	})
}

// withSecurityHeaders adds security headers, rate limiting, request logging
// and metrics to a route.
func (s *Server) withSecurityHeaders(route string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		clientIP := extractClientIP(r)
		sl := applog.NewStructuredLogger(applog.FromContext(ctx))

		sl.LogHTTPStart(ctx, r, clientIP)
		setSecurityHeaders(w)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		if r.Method == http.MethodPost && !s.rateLimiter.allow(clientIP) {
			applog.FromContext(ctx).WithComponent(applog.ComponentRateLimit).WarnContext(ctx, "Rate limit exceeded",
				applog.FieldClientIP, clientIP,
				applog.FieldMethod, r.Method,
				applog.FieldPath, r.URL.Path)
			if s.metrics != nil {
				s.metrics.RateLimitHits.Inc()
			}
			TooManyRequests(rateLimitWindow).Write(rw)
		} else {
			next(rw, r)
		}

		elapsed := time.Since(start)
		sl.LogHTTPEnd(ctx, r, rw.statusCode, elapsed.Milliseconds(), clientIP)
		if s.metrics != nil {
			s.metrics.ObserveRequest(r.Method, route, rw.statusCode, elapsed)
		}
	})
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

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReady fails while the page templates are unavailable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.templates == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("templates not loaded"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
