// Package web provides the HTTP API and report pages for import runs.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/JonMunkholm/caseimport/internal/config"
	"github.com/JonMunkholm/caseimport/internal/core"
	mw "github.com/JonMunkholm/caseimport/internal/web/middleware"
)

// Server is the HTTP server for import runs.
type Server struct {
	service *core.Service
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
	stop    chan struct{}
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
		stop:    make(chan struct{}),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.RequestMetadata)
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	if s.cfg.Rate.Enabled {
		limiter := newRateLimiter(s.cfg.Rate.RequestsPerMinute, s.stop)
		s.router.Use(limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	// Pages
	s.router.With(middleware.Timeout(s.requestTimeout())).Get("/imports/{runID}", s.handleRunPage)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.cfg.Security))

		// Progress streams outlive the request timeout.
		r.Get("/imports/{runID}/progress", s.handleRunProgress)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.requestTimeout()))

			r.Get("/entities", s.handleListEntities)
			r.Get("/entities/{entityType}/template", s.handleDownloadTemplate)
			r.Get("/limiter", s.handleLimiterStatus)

			startLimit := func(next http.Handler) http.Handler { return next }
			if s.cfg.Rate.Enabled {
				startLimit = newRateLimiter(s.cfg.Rate.UploadLimit, s.stop).middleware
			}
			r.With(startLimit).Post("/imports", s.handleStartRun)
			r.Get("/imports", s.handleListRuns)
			r.Get("/imports/{runID}", s.handleRunReport)
			r.Post("/imports/{runID}/cancel", s.handleCancelRun)
		})
	})
}

// requestTimeout bounds non-streaming requests, including ?wait=1.
func (s *Server) requestTimeout() time.Duration {
	if s.cfg.Server.RequestTimeout > 0 {
		return s.cfg.Server.RequestTimeout
	}
	return 60 * time.Second
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout, // 0 keeps SSE streams open
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Serve serves on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	s.server = &http.Server{Handler: s.router, ReadTimeout: s.cfg.Server.ReadTimeout, IdleTimeout: s.cfg.Server.IdleTimeout}
	return s.server.Serve(l)
}

// Shutdown gracefully stops the server. Import runs are drained separately
// through the service.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"entities": s.service.Registry().Len(),
		"limiter":  s.service.LimiterStatus(),
	})
}

// securityHeaders adds security headers to all responses.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if enableCSP {
				// Report pages use one inline style block and no scripts.
				w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter keeps one token bucket per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	perMin   int
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter allows perMinute requests per IP, bursting to the full
// minute's allowance. Idle visitors are dropped until stop closes.
func newRateLimiter(perMinute int, stop <-chan struct{}) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		perMin:   perMinute,
	}
	go rl.cleanup(stop)
	return rl
}

func (rl *rateLimiter) cleanup(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if time.Since(v.lastSeen) > 3*time.Minute {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// allow consumes a token for ip and reports how long to wait when empty.
func (rl *rateLimiter) allow(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(float64(rl.perMin)/60), rl.perMin)}
		rl.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	rl.mu.Unlock()

	res := v.limiter.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}

// middleware returns an HTTP middleware that rate limits by client IP.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := rl.allow(mw.ClientIP(r))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
				Error:   "rate limit exceeded",
				Message: "Too many requests",
				Action:  "Wait a moment and try again",
				Code:    "RATE001",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Encoding errors are logged since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
