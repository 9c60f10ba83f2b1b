package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type OrderKind string

const (
	KindRide     OrderKind = "ride"
	KindDelivery OrderKind = "delivery"
)

func (k OrderKind) Valid() bool {
	return k == KindRide || k == KindDelivery
}

// Status is the order lifecycle state. Transitions are defined in package lifecycle.
type Status string

const (
	StatusNew            Status = "new"
	StatusSearching      Status = "searching"
	StatusDriverAssigned Status = "driver_assigned"
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusSearching, StatusDriverAssigned, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// HasDriver reports whether an order in this status must carry a driver id.
func (s Status) HasDriver() bool {
	return s == StatusDriverAssigned || s == StatusInProgress || s == StatusCompleted
}

// CancelReason is the machine-readable code stored on cancelled orders.
type CancelReason string

const (
	ReasonNoDriversAvailable CancelReason = "no_drivers_available"
	ReasonNoDriverAccepted   CancelReason = "no_driver_accepted"
	ReasonSearchTimeout      CancelReason = "search_timeout"
	ReasonClientCancelled    CancelReason = "client_cancelled"
)

type Order struct {
	ID                 string       `json:"id"`
	ClientID           int64        `json:"client_id"`
	Kind               OrderKind    `json:"kind"`
	Pickup             Coord        `json:"pickup"`
	PickupAddress      string       `json:"pickup_address,omitempty"`
	Destination        *Coord       `json:"destination,omitempty"`
	DestinationAddress string       `json:"destination_address,omitempty"`
	Description        string       `json:"description,omitempty"`
	WeightKg           float64      `json:"weight_kg,omitempty"`
	Urgent             bool         `json:"urgent,omitempty"`
	DistanceKm         float64      `json:"distance_km"`
	Price              int64        `json:"price"`
	Status             Status       `json:"status"`
	DriverID           string       `json:"driver_id,omitempty"` // empty until assigned
	CancelReason       CancelReason `json:"cancel_reason,omitempty"`
	Rating             int          `json:"rating,omitempty"` // 1..5 once the client rated the trip
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
	StartedAt          *time.Time   `json:"started_at,omitempty"`
	CompletedAt        *time.Time   `json:"completed_at,omitempty"`
	CancelledAt        *time.Time   `json:"cancelled_at,omitempty"`
}

type Driver struct {
	ID            string    `json:"id"`
	AccountID     int64     `json:"account_id"`
	CarModel      string    `json:"car_model"`
	CarNumber     string    `json:"car_number"`
	LicenseNumber string    `json:"license_number"`
	Available     bool      `json:"available"`
	Loc           *Coord    `json:"loc,omitempty"` // nil until the first location report
	LocUpdated    time.Time `json:"loc_updated,omitempty"`
	Rating        float64   `json:"rating"` // 0..5
	RatingCount   int       `json:"rating_count"`
	TotalTrips    int       `json:"total_trips"`
	TotalEarnings int64     `json:"total_earnings"`
	CreatedAt     time.Time `json:"created_at"`
}

// Endpoint addresses a driver on every notification transport.
type Endpoint struct {
	DriverID  string `json:"driver_id"`
	AccountID int64  `json:"account_id"`
}

func (d Driver) Endpoint() Endpoint {
	return Endpoint{DriverID: d.ID, AccountID: d.AccountID}
}

// Offer is the order summary a candidate driver sees.
type Offer struct {
	OfferID            string    `json:"offer_id"`
	OrderID            string    `json:"order_id"`
	Kind               OrderKind `json:"kind"`
	Pickup             Coord     `json:"pickup"`
	PickupAddress      string    `json:"pickup_address,omitempty"`
	Destination        *Coord    `json:"destination,omitempty"`
	DestinationAddress string    `json:"destination_address,omitempty"`
	Description        string    `json:"description,omitempty"`
	DistanceKm         float64   `json:"distance_km"`
	DistanceToPickupKm *float64  `json:"distance_to_pickup_km,omitempty"`
	Price              int64     `json:"price"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// OfferResponse is a driver's answer to an offer.
type OfferResponse struct {
	OfferID  string `json:"offer_id"`
	DriverID string `json:"driver_id"`
	Accept   bool   `json:"accept"`
}

// Reply is what the notification gateway observed for one offer.
type Reply string

const (
	ReplyAccepted       Reply = "accepted"
	ReplyRejected       Reply = "rejected"
	ReplyTimedOut       Reply = "timed_out"
	ReplyDeliveryFailed Reply = "delivery_failed"
)

type AttemptOutcome string

const (
	AttemptPending  AttemptOutcome = "pending"
	AttemptAccepted AttemptOutcome = "accepted"
	AttemptRejected AttemptOutcome = "rejected"
	AttemptExpired  AttemptOutcome = "expired"
)

// Outcome maps a gateway reply onto the attempt outcome. Delivery failures count as rejections.
func (r Reply) Outcome() AttemptOutcome {
	switch r {
	case ReplyAccepted:
		return AttemptAccepted
	case ReplyTimedOut:
		return AttemptExpired
	case ReplyRejected, ReplyDeliveryFailed:
		return AttemptRejected
	}
	return AttemptPending
}

// DispatchAttempt is one outstanding offer. It lives only for the duration of a dispatch run.
type DispatchAttempt struct {
	OrderID  string         `json:"order_id"`
	DriverID string         `json:"driver_id"`
	OfferID  string         `json:"offer_id"`
	IssuedAt time.Time      `json:"issued_at"`
	Deadline time.Time      `json:"deadline"`
	Outcome  AttemptOutcome `json:"outcome"`
}

type EventType string

const (
	EventOrderCreated   EventType = "order.created"
	EventOrderSearching EventType = "order.searching"
	EventOrderAssigned  EventType = "order.assigned"
	EventOrderCancelled EventType = "order.cancelled"
	EventOrderStarted   EventType = "order.started"
	EventOrderCompleted EventType = "order.completed"
)

type OrderEvent struct {
	Type     EventType    `json:"type"`
	OrderID  string       `json:"order_id"`
	ClientID int64        `json:"client_id"`
	Status   Status       `json:"status"`
	DriverID string       `json:"driver_id,omitempty"`
	Reason   CancelReason `json:"reason,omitempty"`
	At       time.Time    `json:"at"`
}

func NewOrderEvent(t EventType, o Order, at time.Time) OrderEvent {
	return OrderEvent{Type: t, OrderID: o.ID, ClientID: o.ClientID, Status: o.Status, DriverID: o.DriverID, Reason: o.CancelReason, At: at}
}

// LocationReport is a periodic driver position update.
type LocationReport struct {
	DriverID string    `json:"driver_id"`
	Loc      Coord     `json:"loc"`
	At       time.Time `json:"at"`
}

// OrderStats backs the admin counters.
type OrderStats struct {
	Total     int `json:"total"`
	Active    int `json:"active"`
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
}
