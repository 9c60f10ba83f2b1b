package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/fleet"
	"github.com/example/taxi-dispatch/internal/notify"
	"github.com/example/taxi-dispatch/internal/ordering"
	"github.com/example/taxi-dispatch/internal/ratelimit"
	"github.com/example/taxi-dispatch/internal/trip"
)

type Deps struct {
	Orders   *ordering.Service
	Fleet    *fleet.Service
	Trips    *trip.Service
	Dispatch *dispatch.Coordinator
	Hub      *notify.Hub
	WS       *notify.WSRegistry // optional
	Limiter  ratelimit.Limiter  // optional
	// Ready reports whether backing services are reachable; nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
}

type Server struct {
	orders   *ordering.Service
	fleet    *fleet.Service
	trips    *trip.Service
	dispatch *dispatch.Coordinator
	hub      *notify.Hub
	ws       *notify.WSRegistry
	limiter  ratelimit.Limiter
	ready    func(ctx context.Context) error
	logger   *slog.Logger
	upgrader websocket.Upgrader
	mux      *mux.Router
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		orders:   d.Orders,
		fleet:    d.Fleet,
		trips:    d.Trips,
		dispatch: d.Dispatch,
		hub:      d.Hub,
		ws:       d.WS,
		limiter:  d.Limiter,
		ready:    d.Ready,
		logger:   logger.With("component", "http"),
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/quote", s.handleQuote).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/dispatch", s.handleDispatchOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/start", s.handleStartTrip).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/complete", s.handleCompleteTrip).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/rate", s.handleRateTrip).Methods(http.MethodPost)
	api.HandleFunc("/clients/{client_id}/orders", s.handleClientOrders).Methods(http.MethodGet)

	api.HandleFunc("/drivers", s.handleRegisterDriver).Methods(http.MethodPost)
	api.HandleFunc("/drivers/{id}", s.handleGetDriver).Methods(http.MethodGet)
	api.HandleFunc("/drivers/{id}/online", s.handleDriverOnline).Methods(http.MethodPost)
	api.HandleFunc("/drivers/{id}/offline", s.handleDriverOffline).Methods(http.MethodPost)
	api.HandleFunc("/drivers/{id}/location", s.handleDriverLocation).Methods(http.MethodPost)
	api.HandleFunc("/drivers/{id}/orders", s.handleDriverOrders).Methods(http.MethodGet)

	api.HandleFunc("/offers/{offer_id}/response", s.handleOfferResponse).Methods(http.MethodPost)

	api.HandleFunc("/admin/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/admin/ratelimit/{client_id}", s.handleRateLimitStats).Methods(http.MethodGet)
	api.HandleFunc("/admin/ratelimit/{client_id}", s.handleRateLimitReset).Methods(http.MethodDelete)

	s.mux.HandleFunc("/ws/drivers/{driver_id}", s.handleWS).Methods(http.MethodGet)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.WarnContext(r.Context(), "readiness check failed", "error", err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
