package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/dialcore/dialcore/internal/api/middleware"
	"github.com/dialcore/dialcore/internal/bus"
	"github.com/dialcore/dialcore/internal/call"
	"github.com/dialcore/dialcore/internal/config"
	"github.com/dialcore/dialcore/internal/database"
	"github.com/dialcore/dialcore/internal/flow"
	"github.com/dialcore/dialcore/internal/routing"
)

// Deps holds everything the HTTP layer needs.
type Deps struct {
	Config   *config.Config
	Manager  *call.Manager
	Engine   *flow.Engine
	Resolver *routing.Resolver
	Bus      *bus.Bus
	Numbers  database.VirtualNumberRepository
	Agents   database.AgentRepository
	Flows    database.IVRFlowRepository
	Records  database.CallRecordRepository
	// Metrics, if non-nil, is mounted at /metrics.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router    *chi.Mux
	cfg       *config.Config
	manager   *call.Manager
	engine    *flow.Engine
	resolver  *routing.Resolver
	bus       *bus.Bus
	numbers   database.VirtualNumberRepository
	agents    database.AgentRepository
	flows     database.IVRFlowRepository
	records   database.CallRecordRepository
	metrics   http.Handler
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	startTime time.Time
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(deps Deps) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		cfg:       deps.Config,
		manager:   deps.Manager,
		engine:    deps.Engine,
		resolver:  deps.Resolver,
		bus:       deps.Bus,
		numbers:   deps.Numbers,
		agents:    deps.Agents,
		flows:     deps.Flows,
		records:   deps.Records,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With("subsystem", "api"),
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser origins are enforced by the CORS middleware for the
			// REST surface; the event stream accepts any origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))
	r.Use(middleware.RateLimit(middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig())))

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	callLimiter := middleware.NewIPRateLimiter(middleware.CallRateLimitConfig())
	auth := middleware.RequireAgentAuth([]byte(s.cfg.JWTSecret))

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated routes.
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		// Live event stream. Auth headers cannot be set on browser
		// websocket handshakes, so this stays open.
		r.Get("/events", s.handleEvents)

		// Call lifecycle.
		r.Route("/calls", func(r chi.Router) {
			r.Use(auth)
			r.With(middleware.RateLimit(callLimiter)).Post("/", s.handleStartCall)
			r.Get("/active", s.handleActiveCalls)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCall)
				r.Post("/hangup", s.handleHangup)
				r.Post("/transition", s.handleTransition)
				r.Post("/input", s.handleInput)
			})
		})

		// Call detail records.
		r.Route("/cdrs", func(r chi.Router) {
			r.Use(auth)
			r.Get("/", s.handleListCDRs)
			r.Get("/summary", s.handleCDRSummary)
		})

		// Routing directory.
		r.Route("/virtual-numbers", func(r chi.Router) {
			r.Use(auth)
			r.Get("/", s.handleListNumbers)
			r.Post("/", s.handleCreateNumber)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetNumber)
				r.Put("/", s.handleUpdateNumber)
				r.Delete("/", s.handleDeleteNumber)
			})
		})

		r.Route("/agents", func(r chi.Router) {
			r.Use(auth)
			r.Get("/", s.handleListAgents)
			r.Post("/", s.handleCreateAgent)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetAgent)
				r.Put("/", s.handleUpdateAgent)
				r.Delete("/", s.handleDeleteAgent)
				r.Put("/status", s.handleSetAgentStatus)
			})
		})

		r.Route("/flows", func(r chi.Router) {
			r.Use(auth)
			r.Get("/", s.handleListFlows)
			r.Post("/", s.handleCreateFlow)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetFlow)
				r.Put("/", s.handleUpdateFlow)
				r.Delete("/", s.handleDeleteFlow)
				r.Post("/validate", s.handleValidateFlow)
			})
		})

		r.With(auth).Get("/dashboard/stats", s.handleDashboardStats)
	})

	s.logger.Info("api routes mounted")
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
