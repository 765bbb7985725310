// Package dashboard implements MANTIS's live operator backend: the HTTP
// API, the auth middleware guarding it, and the WebSocket broadcaster
// that fans out captured events and alerts in real time. Modeled on the
// teacher's pkg/api.Server (built on labstack/echo/v5, one Set*-style
// constructor, routes registered once at construction) generalized from
// the teacher's LLM-session domain to spec §4.7's honeypot routes, and
// on pkg/events.ConnectionManager (coder/websocket, per-connection send
// loop) generalized from Postgres LISTEN/NOTIFY channels to the two
// broadcast classes (events, alerts) Storage's in-process subscriber
// queues already provide.
package dashboard

import (
	"context"
	"embed"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/syn2much/mantis/internal/apperrors"
	"github.com/syn2much/mantis/internal/config"
	"github.com/syn2much/mantis/internal/model"
	"github.com/syn2much/mantis/internal/storage"
)

//go:embed static
var staticFS embed.FS

// Store is the subset of *storage.Store the dashboard depends on.
type Store interface {
	GetStats(ctx context.Context) (*storage.Stats, error)
	GetEvents(ctx context.Context, f storage.GetEventsFilter) (*storage.GetEventsResult, error)
	GetEventsForSession(ctx context.Context, sessionID string) ([]*model.Event, error)
	GetUniqueIPs(ctx context.Context) ([]string, error)
	GetSessions(ctx context.Context, f storage.GetSessionsFilter) ([]*model.Session, error)
	GetAlerts(ctx context.Context, f storage.GetAlertsFilter) ([]*model.Alert, error)
	AcknowledgeAlert(ctx context.Context, id int64) error
	GetMapData(ctx context.Context) ([]*storage.MapPoint, error)
	GetAttackers(ctx context.Context, limit, offset int) ([]*storage.Attacker, error)
	ExportTable(ctx context.Context, table string) ([]map[string]any, error)
	ResetDatabase(ctx context.Context) error
	SubscribeEvents() chan *model.Event
	UnsubscribeEvents(chan *model.Event)
	SubscribeAlerts() chan *model.Alert
	UnsubscribeAlerts(chan *model.Alert)
}

// GeoResolver is the subset of *geo.Locator the dashboard depends on.
type GeoResolver interface {
	Resolve(ctx context.Context, ip string) (*model.GeoInfo, error)
}

// Orchestrator is the subset of *orchestrator.Orchestrator the dashboard
// depends on for config inspection and hot-reconfigure.
type Orchestrator interface {
	Config() config.Config
	UpdateServiceConfig(ctx context.Context, name string, patch config.ServiceConfig) error
	ResetStatefulRules()
}

// Server is MANTIS's dashboard HTTP + WebSocket backend.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	store       Store
	geoLocator  GeoResolver
	orch        Orchestrator
	broadcaster *broadcaster
	authToken   string
	logger      *slog.Logger

	fwMu    sync.Mutex
	blocked map[string]struct{}
}

// SetOrchestrator wires the orchestrator in after construction, breaking
// the construction cycle between Server and Orchestrator (each needs a
// reference to the other's interface before both can exist).
func (s *Server) SetOrchestrator(orch Orchestrator) {
	s.orch = orch
}

// NewServer constructs the dashboard backend. authToken may be empty,
// disabling the auth middleware entirely (every route open). orch may be
// nil at construction time and wired later via SetOrchestrator.
func NewServer(store Store, geoLocator GeoResolver, orch Orchestrator, authToken string) *Server {
	e := echo.New()
	s := &Server{
		echo:        e,
		store:       store,
		geoLocator:  geoLocator,
		orch:        orch,
		broadcaster: newBroadcaster(store),
		authToken:   authToken,
		logger:      slog.Default().With("component", "dashboard"),
		blocked:     make(map[string]struct{}),
	}
	e.HTTPErrorHandler = s.errorHandler
	s.setupRoutes()
	return s
}

// setupRoutes registers every route from spec §4.7.
func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(s.authMiddleware())

	s.echo.GET("/", s.indexHandler)
	s.echo.GET("/login", s.loginHandler)
	s.echo.POST("/api/auth", s.authHandler)
	s.echo.GET("/ws", s.wsHandler)

	s.echo.GET("/api/stats", s.statsHandler)
	s.echo.GET("/api/events", s.eventsHandler)
	s.echo.GET("/api/sessions", s.sessionsHandler)
	s.echo.GET("/api/sessions/:id/events", s.sessionEventsHandler)
	s.echo.GET("/api/alerts", s.alertsHandler)
	s.echo.POST("/api/alerts/:id/ack", s.ackAlertHandler)
	s.echo.GET("/api/geo/:ip", s.geoHandler)
	s.echo.GET("/api/map", s.mapHandler)
	s.echo.GET("/api/ips", s.ipsHandler)
	s.echo.GET("/api/attackers", s.attackersHandler)
	s.echo.GET("/api/export", s.exportHandler)

	s.echo.GET("/api/config", s.getConfigHandler)
	s.echo.PUT("/api/config/service/:name", s.putConfigHandler)
	s.echo.POST("/api/database/reset", s.resetHandler)

	s.echo.GET("/api/firewall/blocked", s.firewallBlockedHandler)
	s.echo.POST("/api/firewall/block", s.firewallBlockHandler)
	s.echo.POST("/api/firewall/unblock", s.firewallUnblockHandler)
}

// Start starts the broadcaster and serves HTTP on addr. Blocks until the
// server stops (normally via Shutdown).
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.broadcaster.run(ctx)
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	s.logger.Info("listening", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Broadcast sends an out-of-band message (config_change, ip_blocked,
// ip_unblocked, database_reset) to every connected WebSocket client.
func (s *Server) Broadcast(kind string, data any) {
	s.broadcaster.Broadcast(kind, data)
}

// errorHandler renders every API error as spec §7's {"error": "<msg>"}
// shape instead of echo's default {"message": "<msg>"}.
func (s *Server) errorHandler(c *echo.Context, err error) {
	if resp, ok := c.Response().(*echo.Response); ok && resp.Committed {
		return
	}
	code := http.StatusInternalServerError
	msg := "internal server error"

	var ae *apperrors.AuthError
	var he *echo.HTTPError
	if errors.As(err, &ae) {
		code = http.StatusUnauthorized
		msg = ae.Reason
	} else if errors.As(err, &he) {
		code = he.Code
		msg = he.Message
	} else {
		s.logger.Error("unhandled request error", "error", err)
	}

	if jsonErr := c.JSON(code, map[string]string{"error": msg}); jsonErr != nil {
		s.logger.Error("failed to write error response", "error", jsonErr)
	}
}
