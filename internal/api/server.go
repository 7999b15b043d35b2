package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/relaynode/internal/api/models"
	"github.com/smazurov/relaynode/internal/catalog"
	"github.com/smazurov/relaynode/internal/events"
	"github.com/smazurov/relaynode/internal/logging"
	"github.com/smazurov/relaynode/internal/relay"
	"github.com/smazurov/relaynode/internal/types"
	"github.com/smazurov/relaynode/internal/version"
)

// SessionService is the part of the relay registry the API drives.
type SessionService interface {
	Start(ctx context.Context, p relay.StartParams) error
	Stop(ctx context.Context, name, role, userID string) error
	Snapshot() map[string]types.SessionView
	Get(name string) (types.SessionView, bool)
}

// CatalogService resolves named input sources.
type CatalogService interface {
	List() []catalog.Source
	Lookup(name string) (catalog.Source, bool)
	NameFor(input string) (string, bool)
}

// Options configures the API server.
type Options struct {
	// Users enables basic auth when non-empty.
	Users    []User
	Sessions SessionService
	Catalog  CatalogService // optional
	EventBus *events.Bus
	// PrometheusHandler is served at /metrics without auth when set.
	PrometheusHandler http.Handler
}

// Server is the relaynode HTTP API.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	sessions   SessionService
	catalog    CatalogService
	eventBus   *events.Bus
	options    *Options
	logger     *slog.Logger
}

// NewServer creates a new API server with Huma v2 using Go 1.22+ native routing
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("relaynode API", version.String())
	config.Info.Description = "Supervises ffmpeg relay sessions that forward live inputs to streaming platforms"
	// Empty servers list will make OpenAPI use relative paths, working with any host
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	server := &Server{
		api:      api,
		mux:      mux,
		sessions: opts.Sessions,
		catalog:  opts.Catalog,
		eventBus: opts.EventBus,
		options:  opts,
		logger:   logging.GetLogger("api"),
	}

	// CORS first, then logging, then auth
	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if len(opts.Users) > 0 {
		api.UseMiddleware(server.basicAuthMiddleware(opts.Users))
	} else {
		server.logger.Warn("No API users configured, authentication disabled")
	}

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()
	return server
}

// GetMux returns the underlying HTTP ServeMux for additional setup
func (s *Server) GetMux() *http.ServeMux {
	return s.mux
}

// GetAPI returns the Huma API instance
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves the API on addr until Stop is called.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves the API on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting relaynode API server", "addr", ln.Addr().String())
	s.logger.Info("OpenAPI documentation available", "url", "http://"+ln.Addr().String()+"/docs")

	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop closes the listener and all connections. SSE streams never finish
// on their own, so there is no graceful drain.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// registerRoutes sets up all API endpoints
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{}, // Empty security = no auth required
	}, func(_ context.Context, _ *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:   "ok",
				Message:  "API is healthy",
				Sessions: len(s.sessions.Snapshot()),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(_ context.Context, _ *struct{}) (*models.VersionResponse, error) {
		info := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   info.Version,
				GitCommit: info.GitCommit,
				BuildDate: info.BuildDate,
				BuildID:   info.BuildID,
				GoVersion: info.GoVersion,
				Compiler:  info.Compiler,
				Platform:  info.Platform,
			},
		}, nil
	})

	s.registerSessionRoutes()
	s.registerCatalogRoutes()
	s.registerSSERoutes()
	s.registerLogRoutes()
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
