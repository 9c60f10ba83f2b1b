package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/taxi-dispatch/internal/errs"
	"github.com/example/taxi-dispatch/internal/fleet"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/ordering"
)

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req ordering.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.orders.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req ordering.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	q, err := s.orders.Quote(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := s.orders.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type cancelRequest struct {
	ClientID int64 `json:"client_id"`
}

// handleCancelOrder cancels on behalf of the client. When client_id is given it must own the order.
func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.ClientID != 0 {
		o, err := s.orders.Get(r.Context(), id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if o.ClientID != req.ClientID {
			s.writeError(w, r, errs.NewNotFoundError("order", id))
			return
		}
	}
	o, err := s.dispatch.Cancel(r.Context(), id, models.ReasonClientCancelled)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// handleDispatchOrder restarts dispatch for an order still in new, e.g. after a crash.
func (s *Server) handleDispatchOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	o, err := s.orders.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if o.Status != models.StatusNew {
		s.writeError(w, r, errs.NewInvalidStateError("order", id, o.Status.String(), "dispatch"))
		return
	}
	s.dispatch.DispatchAsync(id)
	writeJSON(w, http.StatusAccepted, o)
}

type driverActionRequest struct {
	DriverID string `json:"driver_id"`
}

func (s *Server) handleStartTrip(w http.ResponseWriter, r *http.Request) {
	s.driverAction(w, r, s.trips.Start)
}

func (s *Server) handleCompleteTrip(w http.ResponseWriter, r *http.Request) {
	s.driverAction(w, r, s.trips.Complete)
}

func (s *Server) driverAction(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, orderID, driverID string) (models.Order, error)) {
	var req driverActionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.DriverID == "" {
		s.writeError(w, r, errs.NewValueIsInvalidError("driver_id"))
		return
	}
	o, err := fn(r.Context(), mux.Vars(r)["id"], req.DriverID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type rateRequest struct {
	ClientID int64 `json:"client_id"`
	Rating   int   `json:"rating"`
}

func (s *Server) handleRateTrip(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	o, err := s.trips.Rate(r.Context(), mux.Vars(r)["id"], req.ClientID, req.Rating)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleClientOrders(w http.ResponseWriter, r *http.Request) {
	clientID, err := pathInt64(r, "client_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	orders, err := s.orders.ListByClient(r.Context(), clientID, queryLimit(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var req fleet.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.fleet.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleGetDriver(w http.ResponseWriter, r *http.Request) {
	d, err := s.fleet.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDriverOnline(w http.ResponseWriter, r *http.Request) {
	d, err := s.fleet.SetOnline(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDriverOffline(w http.ResponseWriter, r *http.Request) {
	d, err := s.fleet.SetOffline(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.Coord
	if err := decodeJSON(r, &loc); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.fleet.ReportLocation(r.Context(), mux.Vars(r)["id"], loc); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriverOrders(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.fleet.Get(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	orders, err := s.orders.ListByDriver(r.Context(), id, queryLimit(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

type offerResponseRequest struct {
	DriverID string `json:"driver_id"`
	Accept   bool   `json:"accept"`
}

func (s *Server) handleOfferResponse(w http.ResponseWriter, r *http.Request) {
	var req offerResponseRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.DriverID == "" {
		s.writeError(w, r, errs.NewValueIsInvalidError("driver_id"))
		return
	}
	resp := models.OfferResponse{OfferID: mux.Vars(r)["offer_id"], DriverID: req.DriverID, Accept: req.Accept}
	if err := s.hub.Resolve(resp); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// handleWS upgrades a registered driver to the offer channel and serves it until the socket closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.ws == nil {
		s.writeError(w, r, errs.NewUnavailableError("websocket", errors.New("offer channel disabled")))
		return
	}
	driverID := mux.Vars(r)["driver_id"]
	if _, err := s.fleet.Get(r.Context(), driverID); err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already replied
		s.logger.WarnContext(r.Context(), "websocket upgrade failed", "driver_id", driverID, "error", err)
		return
	}
	s.ws.Serve(r.Context(), driverID, conn)
}

type statsResponse struct {
	Orders           models.OrderStats `json:"orders"`
	DispatchInFlight int               `json:"dispatch_in_flight"`
	OpenOffers       int               `json:"open_offers"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.orders.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Orders:           stats,
		DispatchInFlight: s.dispatch.InFlight(),
		OpenOffers:       s.hub.Open(),
	})
}

func (s *Server) handleRateLimitStats(w http.ResponseWriter, r *http.Request) {
	if s.limiter == nil {
		s.writeError(w, r, errs.NewUnavailableError("ratelimit", errors.New("rate limiting disabled")))
		return
	}
	clientID, err := pathInt64(r, "client_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	st, err := s.limiter.Stats(r.Context(), clientID)
	if err != nil {
		s.writeError(w, r, errs.NewUnavailableError("ratelimit stats", err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	if s.limiter == nil {
		s.writeError(w, r, errs.NewUnavailableError("ratelimit", errors.New("rate limiting disabled")))
		return
	}
	clientID, err := pathInt64(r, "client_id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.limiter.Reset(r.Context(), clientID); err != nil {
		s.writeError(w, r, errs.NewUnavailableError("ratelimit reset", err))
		return
	}
	s.logger.InfoContext(r.Context(), "rate limit reset", "client_id", clientID)
	w.WriteHeader(http.StatusNoContent)
}
