package httpserver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/zstd"

	"ypb/internal/render"
	"ypb/internal/storage"
)

const (
	defaultMaxBytes int64 = 10 * 1024 * 1024
	defaultTimeout        = 10 * time.Second

	readHeaderTimeout = 5 * time.Second
	idleTimeout       = 120 * time.Second
	// writeGrace leaves room for the timeout response after a handler is cut off.
	writeGrace = 5 * time.Second
)

// Config captures server configuration.
type Config struct {
	Store       storage.Store
	MaxBytes    int64
	Theme       string
	Highlight   string
	RateLimiter *RateLimiter
	TrustProxy  bool
	BaseURL     string
	Timeout     time.Duration
	Logger      *slog.Logger
}

// Server wraps HTTP handling logic.
type Server struct {
	store      storage.Store
	resolver   *render.Resolver
	router     chi.Router
	maxBytes   int64
	limiter    *RateLimiter
	trustProxy bool
	baseURL    *url.URL
	timeout    time.Duration
	logger     *slog.Logger
}

// New constructs a new Server instance.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	resolver, err := render.New(render.Config{
		Store:     cfg.Store,
		Theme:     cfg.Theme,
		Highlight: cfg.Highlight,
		TextLimit: cfg.MaxBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("build resolver: %w", err)
	}

	var parsedBase *url.URL
	if cfg.BaseURL != "" {
		parsedBase, err = url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
		if parsedBase.Scheme == "" || parsedBase.Host == "" {
			return nil, errors.New("base url must include scheme and host")
		}
		parsedBase.Path = strings.TrimSuffix(parsedBase.Path, "/")
	}

	srv := &Server{
		store:      cfg.Store,
		resolver:   resolver,
		router:     chi.NewRouter(),
		maxBytes:   cfg.MaxBytes,
		limiter:    cfg.RateLimiter,
		trustProxy: cfg.TrustProxy,
		baseURL:    parsedBase,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
	}
	srv.routes()
	return srv, nil
}

// Handler returns the underlying router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer returns an http.Server for the handler. Request bodies must
// arrive within the request timeout, so a stalled upload is abandoned.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       s.timeout,
		WriteTimeout:      s.timeout + writeGrace,
		IdleTimeout:       idleTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(s.limiter.Middleware(func(r *http.Request) string {
		return ClientIP(r, s.trustProxy)
	}))
	r.Use(newCompressor().Handler)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/", s.handleWelcome)
	r.Put("/", s.handlePut)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	r.Get("/qr/{id}", s.handleQR)
	r.Get("/*", s.handleGet)
	r.Delete("/*", s.handleDelete)
}

// newCompressor compresses text and HTML bodies, preferring zstd when the
// client accepts it.
func newCompressor() *middleware.Compressor {
	c := middleware.NewCompressor(5, "text/html", "text/plain")
	c.SetEncoder("zstd", func(w io.Writer, level int) io.Writer {
		enc, err := zstd.NewWriter(w,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			return nil
		}
		return enc
	})
	return c
}

// blobURL is the public address of a blob. The scheme follows the
// X-Forwarded-Proto header when a proxy sets it.
func (s *Server) blobURL(r *http.Request, blobID string) string {
	if s.baseURL != nil {
		u := *s.baseURL
		u.Path = u.Path + "/" + blobID
		return u.String()
	}

	scheme := "http"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, host, blobID)
}
