// Package server exposes the host over HTTP: MCP endpoints, transform
// endpoints, and operational routes.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/jojopeligroso/MyCastle/internal/audit"
	"github.com/jojopeligroso/MyCastle/internal/auth"
	"github.com/jojopeligroso/MyCastle/internal/config"
	"github.com/jojopeligroso/MyCastle/internal/httputil"
	"github.com/jojopeligroso/MyCastle/internal/mcp"
	"github.com/jojopeligroso/MyCastle/internal/policy"
	"github.com/jojopeligroso/MyCastle/internal/store"
	"github.com/jojopeligroso/MyCastle/internal/telemetry"
	"github.com/jojopeligroso/MyCastle/internal/transform"
)

// Server wires the HTTP surface: routing, auth, policy, and audit around the
// host.
type Server struct {
	cfg        config.Config
	host       *mcp.Host
	guard      *policy.Guard
	tokens     *auth.TokenService
	transforms *transform.Service
	audit      *audit.Logger
	db         store.Store

	version   string
	commit    string
	buildDate string
	logger    zerolog.Logger
}

// New assembles a server from its collaborators.
func New(
	cfg config.Config,
	host *mcp.Host,
	guard *policy.Guard,
	tokens *auth.TokenService,
	transforms *transform.Service,
	auditLog *audit.Logger,
	db store.Store,
	version, commit, buildDate string,
	logger zerolog.Logger,
) *Server {
	return &Server{
		cfg:        cfg,
		host:       host,
		guard:      guard,
		tokens:     tokens,
		transforms: transforms,
		audit:      auditLog,
		db:         db,
		version:    version,
		commit:     commit,
		buildDate:  buildDate,
		logger:     logger.With().Str("component", "server").Logger(),
	}
}

// Router builds the full route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	if s.cfg.TracesEnabled {
		r.Use(telemetry.HTTPTracing())
	}
	if s.cfg.MetricsEnabled {
		r.Use(telemetry.HTTPMetrics("mycastle-host"))
	}
	r.Use(httputil.RequestID)
	r.Use(httputil.RequestLogger(s.logger))
	r.Use(httputil.Recoverer)
	r.Use(httputil.SecureHeaders)
	r.Use(httputil.BodyLimit(16 << 20))
	r.Use(httputil.ContentType)
	r.Use(httputil.APIVersion("mcp/v1"))
	r.Use(httputil.CacheControl)
	r.Use(httputil.CORS(s.cfg.CORSOrigins))

	r.Method(http.MethodGet, "/health", httputil.HealthHandler(func() map[string]any {
		return map[string]any{
			"servers": s.host.ServerCount(),
			"tools":   s.host.TotalToolCount(),
			"mode":    s.guard.Mode(),
		}
	}))
	r.Method(http.MethodGet, "/readiness", httputil.ReadinessHandler(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.db.Ping(ctx)
	}))
	r.Method(http.MethodGet, "/version", httputil.VersionHandler(s.version, s.commit, s.buildDate))
	if s.cfg.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", telemetry.PrometheusHandler())
	}

	authMW := auth.Middleware(auth.MiddlewareConfig{
		Tokens:  s.tokens,
		DevMode: s.cfg.DevMode,
	})

	r.Route("/api/mcp/v1", func(r chi.Router) {
		r.Use(authMW)
		r.Get("/capabilities", s.handleCapabilities)
		r.Get("/servers", s.handleServers)
		r.Get("/tools.yaml", s.handleToolContract)
		r.Get("/resources", s.handleResource)
		r.Post("/tools/{tool}", s.handleToolCall)
		r.Post("/prompts/{prompt}", s.handlePrompt)
	})

	r.Route("/api/transform", func(r chi.Router) {
		r.Use(authMW)
		r.Use(auth.RequireAnyScope(auth.ScopeOps))
		r.Post("/upload", s.handleTransformUpload)
		r.Post("/preview", s.handleTransformPreview)
		r.Post("/analyze-schema", s.handleTransformAnalyze)
		r.Post("/execute", s.handleTransformExecute)
		r.Delete("/uploads/{id}", s.handleTransformCleanup)
	})

	return r
}
