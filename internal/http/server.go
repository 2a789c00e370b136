package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	applog "feeledger/internal/log"
	"feeledger/internal/middleware/ratelimit"
	"feeledger/internal/middleware/security"
	"feeledger/internal/middleware/trace"
	"feeledger/internal/services"
)

// Options configures NewServer. The zero value serves the API without
// /metrics and with the default rate limit.
type Options struct {
	// Gatherer backs /metrics; nil leaves the route unregistered.
	Gatherer  prometheus.Gatherer
	RateLimit ratelimit.Config
	Logger    *applog.Logger
	// ReadyTimeout bounds the storage ping behind /readyz.
	ReadyTimeout time.Duration
}

// Server is the fee ledger JSON API.
type Server struct {
	http.Server
	service   *services.FeeService
	limiter   *ratelimit.Limiter
	detector  *security.Detector
	tracer    *trace.Middleware
	logger    *applog.Logger
	readyWait time.Duration
	startTime time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server. Call Shutdown to stop it and its background cleanup.
func NewServer(addr string, svc *services.FeeService, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.Config{Handler: slog.Default().Handler(), Component: applog.ComponentHTTP})
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 2 * time.Second
	}

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		service:   svc,
		limiter:   ratelimit.NewLimiter(opts.RateLimit),
		detector:  security.NewDetector(),
		logger:    logger.WithComponent(applog.ComponentHTTP),
		readyWait: opts.ReadyTimeout,
		startTime: time.Now(),
	}
	s.tracer = trace.NewMiddleware(s.detector.ExtractClientIP, logger)

	mux := http.NewServeMux()

	// Health checks and metrics skip the rate limit so orchestrators never get 429s.
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	if opts.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	api := http.NewServeMux()
	api.HandleFunc("GET /api/sessions", s.handleListSessions)
	api.HandleFunc("GET /api/sessions/current", s.handleCurrentSession)
	api.HandleFunc("GET /api/sessions/{id}/reconcile", s.handleReconcile)
	api.HandleFunc("POST /api/rollover", s.handleRollover)
	api.HandleFunc("POST /api/promotions", s.handlePromote)

	api.HandleFunc("POST /api/adjustments", s.handlePostAdjustment)
	api.HandleFunc("POST /api/dues", s.handlePostDue)
	api.HandleFunc("GET /api/dues", s.handleAmountDue)
	api.HandleFunc("POST /api/admission-fees", s.handlePostAdmissionFee)
	api.HandleFunc("GET /api/balance", s.handleBalance)
	api.HandleFunc("GET /api/entries", s.handleListEntries)
	api.HandleFunc("GET /api/entries/{id}", s.handleGetEntry)
	api.HandleFunc("POST /api/entries/{id}/reverse", s.handleReverseEntry)
	api.HandleFunc("POST /api/entries/{id}/restore", s.handleRestoreEntry)

	api.HandleFunc("POST /api/receipts", s.handleIssueReceipt)
	api.HandleFunc("GET /api/receipts", s.handleListReceipts)
	api.HandleFunc("GET /api/receipts/{id}", s.handleGetReceipt)
	api.HandleFunc("POST /api/receipts/{id}/void", s.handleVoidReceipt)

	api.HandleFunc("GET /api/audit", s.handleAudit)

	onLimit := func(w http.ResponseWriter, r *http.Request) {
		s.logger.WarnContext(r.Context(), "Rate limit exceeded",
			applog.FieldClientIP, s.detector.ExtractClientIP(r),
			applog.FieldPath, r.URL.Path)
		ErrorResponse(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, retry later").Write(w)
	}
	mux.Handle("/api/", s.limiter.Middleware(s.detector.ExtractClientIP, onLimit)(api))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	var handler http.Handler = mux
	handler = s.detector.Middleware(handler)
	handler = headers.Middleware(handler)
	handler = applog.RequestIDMiddleware(trace.RequestID)(handler)
	handler = s.tracer.Middleware(handler)
	handler = applog.Middleware(logger)(handler)
	s.Handler = handler

	return s
}

// Shutdown gracefully shuts down the server and the limiter's cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
