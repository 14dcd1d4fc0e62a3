// Package gateway exposes the marketplace over HTTP and websockets.
//
// Every request is authenticated with a bearer JWT that resolves to a
// core.Principal. Websocket sessions join the analysis and notification
// topics and may publish to them; the number of open sessions is bounded.
package gateway

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/rentauction/core"
	"github.com/cloudx-io/rentauction/eventbus"
	"github.com/cloudx-io/rentauction/ledger"
)

// Market is the bid ledger as used by the HTTP API.
type Market interface {
	Register(ctx context.Context, owner core.Principal, property core.Property) (core.Property, error)
	Activate(ctx context.Context, actor core.Principal, propertyID string) (core.Window, error)
	Relist(ctx context.Context, actor core.Principal, propertyID string) (core.Window, error)
	SubmitBid(ctx context.Context, propertyID string, bidder core.Principal, amount decimal.Decimal, currency core.Currency) (core.Bid, error)
	RentNow(ctx context.Context, propertyID string, tenant core.Principal, currency core.Currency) (core.Bid, error)
	Snapshot(propertyID string) (ledger.Snapshot, error)
	Properties() []core.Property
}

type Settlements interface {
	Settle(ctx context.Context, propertyID string) (core.SettlementRecord, error)
	Record(ctx context.Context, propertyID string) (core.SettlementRecord, error)
	Retry(ctx context.Context, actor core.Principal, propertyID string) (core.SettlementRecord, error)
}

// CriteriaStore keeps tenants' ratings and serves them to the ranking.
type CriteriaStore interface {
	core.WeightsSource
	SaveCriteria(ctx context.Context, tenantID, propertyID string, weights core.CriteriaWeights) error
}

// Publisher is where client websocket messages go.
type Publisher interface {
	Publish(topic, eventType string, payload any) eventbus.Event
}

// Broker is the event bus as seen by websocket sessions.
type Broker interface {
	Publisher
	Subscribe(topics ...string) *eventbus.Subscription
	Unsubscribe(sub *eventbus.Subscription)
}

type Config struct {
	JWTSecret    []byte
	MaxSockets   int
	PublicKeyPEM string
}

type Server struct {
	echo        *echo.Echo
	market      Market
	settlements Settlements
	criteria    CriteriaStore
	broker      Broker
	cfg         Config
	sockets     chan struct{}
}

func New(market Market, settlements Settlements, criteria CriteriaStore, broker Broker, cfg Config) *Server {
	if cfg.MaxSockets <= 0 {
		cfg.MaxSockets = 1
	}
	s := &Server{
		echo:        echo.New(),
		market:      market,
		settlements: settlements,
		criteria:    criteria,
		broker:      broker,
		cfg:         cfg,
		sockets:     make(chan struct{}, cfg.MaxSockets),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Validator = newRequestValidator()
	s.echo.Use(middleware.Recover())
	s.registerRoutes()

	log.Printf("INFO: Websocket pool initialized with %d max concurrent sessions", cfg.MaxSockets)
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo
	e.GET("/health", s.health)
	e.GET("/api/settlement/public-key", s.publicKey)

	auth := jwtMiddleware(s.cfg.JWTSecret)
	landlord := requireRole(core.RoleLandlord)
	tenant := requireRole(core.RoleTenant)
	operator := requireRole(core.RoleOperator)

	api := e.Group("/api", auth)
	api.POST("/properties", s.createProperty, landlord)
	api.GET("/properties/:id", s.getProperty)
	api.POST("/properties/:id/activate", s.activate, landlord)
	api.POST("/properties/:id/relist", s.relist, landlord)
	api.POST("/properties/:id/bids", s.submitBid, tenant)
	api.POST("/properties/:id/rent-now", s.rentNow, tenant)
	api.PUT("/properties/:id/criteria", s.saveCriteria, tenant)
	api.GET("/properties/:id/score", s.score, tenant)
	api.GET("/rankings", s.rankings, tenant)
	api.GET("/properties/:id/settlement", s.settlement)
	api.POST("/properties/:id/settlement/retry", s.retrySettlement, operator)

	e.GET("/ws/analysis/", s.socket, auth)
}

// Handler exposes the routes for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	log.Printf("INFO: Gateway listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
