package http

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"ecu/internal/activity"
	"ecu/internal/api"
	"ecu/internal/core"
	"ecu/internal/log"
	"ecu/internal/middleware/ratelimit"
	"ecu/internal/middleware/security"
	"ecu/internal/middleware/trace"
	"ecu/internal/routes"
	"ecu/internal/session"
	"ecu/internal/transfer"
	appweb "ecu/web"
)

// Backend is the remote API as used by the web front.
type Backend interface {
	session.Authenticator
	routes.Data
	CreateTransaction(ctx context.Context, cred api.Credential, t core.NewTransaction) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, cred api.Credential, id int64, t core.NewTransaction) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, cred api.Credential, id int64) error
	CreateCategory(ctx context.Context, cred api.Credential, n core.NewCategory) (core.Category, error)
	UpdateCategory(ctx context.Context, cred api.Credential, id int64, n core.NewCategory) (core.Category, error)
	DeleteCategory(ctx context.Context, cred api.Credential, id int64) error
	Import(ctx context.Context, cred api.Credential, body []byte) error
	Health(ctx context.Context) error
}

type Server struct {
	http.Server
	templates *template.Template
	backend   Backend
	loader    *routes.Loader
	transfer  *transfer.Service
	sheets    transfer.Sink
	journal   activity.Lister
	recorder  activity.Recorder
	loc       *time.Location
	logger    *log.Logger

	cookieSecure      bool
	requestsPerMinute int

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware

	started      time.Time
	shutdownOnce sync.Once
}

type Option func(*Server)

// WithLocation sets the zone timestamps are shown and entered in.
func WithLocation(loc *time.Location) Option {
	return func(s *Server) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithCookieSecure(secure bool) Option {
	return func(s *Server) { s.cookieSecure = secure }
}

func WithRateLimit(perMinute int) Option {
	return func(s *Server) { s.requestsPerMinute = perMinute }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRecorder journals auth, export and import outcomes.
func WithRecorder(r activity.Recorder) Option {
	return func(s *Server) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithJournal enables the /activity page.
func WithJournal(l activity.Lister) Option {
	return func(s *Server) { s.journal = l }
}

// WithSheets enables POST /export/sheets.
func WithSheets(sink transfer.Sink) Option {
	return func(s *Server) { s.sheets = sink }
}

// NewServer configures routes, middleware and templates, returning a
// ready-to-run http.Server.
func NewServer(addr string, backend Backend, opts ...Option) (*Server, error) {
	s := &Server{
		backend:           backend,
		loader:            routes.NewLoader(backend),
		recorder:          activity.Nop{},
		loc:               time.Local,
		logger:            log.New(log.DefaultConfig()),
		requestsPerMinute: ratelimit.DefaultConfig().RequestsPerMinute,
		started:           time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent(log.ComponentHTTP)
	s.transfer = transfer.New(backend,
		transfer.WithRecorder(s.recorder),
		transfer.WithLogger(s.logger))

	t, err := template.New("").Funcs(s.templateFuncs()).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	s.templates = t

	static, err := fs.Sub(appweb.StaticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("mount static assets: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(
		http.StripPrefix("/static/", http.FileServer(http.FS(static)))))

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("GET /signup", s.handleSignupPage)
	mux.HandleFunc("POST /signup", s.handleSignup)
	mux.HandleFunc("POST /logout", s.handleLogout)

	mux.HandleFunc("GET /transactions", s.handleTransactions)
	mux.HandleFunc("POST /transactions", s.handleCreateTransaction)
	mux.HandleFunc("GET /transactions/{id}", s.handleTransaction)
	mux.HandleFunc("POST /transactions/{id}", s.handleUpdateTransaction)
	mux.HandleFunc("POST /transactions/{id}/delete", s.handleDeleteTransaction)

	mux.HandleFunc("GET /categories", s.handleCategories)
	mux.HandleFunc("POST /categories", s.handleCreateCategory)
	mux.HandleFunc("GET /categories/{id}", s.handleCategory)
	mux.HandleFunc("POST /categories/{id}", s.handleUpdateCategory)
	mux.HandleFunc("POST /categories/{id}/delete", s.handleDeleteCategory)

	mux.HandleFunc("GET /export", s.handleExport)
	mux.HandleFunc("POST /import", s.handleImport)
	mux.HandleFunc("POST /export/sheets", s.handleExportSheets)
	mux.HandleFunc("GET /activity", s.handleActivity)

	s.securityDetector = security.NewDetector()
	s.traceMiddleware = trace.NewMiddleware(s.logger, s.securityDetector.ExtractClientIP)
	s.rateLimiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: s.requestsPerMinute})
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	var handler http.Handler = mux
	handler = s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, func(w http.ResponseWriter, r *http.Request) {
		TooManyRequestsError().Write(w)
	})(handler)
	handler = headers.Middleware(handler)
	handler = s.securityDetector.Middleware(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// Shutdown stops the rate limiter and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
