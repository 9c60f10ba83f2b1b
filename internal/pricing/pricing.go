// Package pricing computes trip distance and fares. Everything here is pure.
package pricing

import (
	"math"

	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
)

// Tariff is the fare schedule for one service type, in whole currency units.
type Tariff struct {
	BaseFare    float64 `json:"base_fare"`
	PerKmRate   float64 `json:"per_km_rate"`
	MinimumFare float64 `json:"minimum_fare"`
}

type Tariffs struct {
	Ride     Tariff `json:"ride"`
	Delivery Tariff `json:"delivery"`
}

func DefaultTariffs() Tariffs {
	return Tariffs{
		Ride:     Tariff{BaseFare: 100, PerKmRate: 15, MinimumFare: 50},
		Delivery: Tariff{BaseFare: 80, PerKmRate: 15, MinimumFare: 50},
	}
}

const urgentMultiplier = 1.5

// RidePrice is round(base + d*perKm), never below the minimum fare. The floor is applied before
// rounding half-to-even; with a whole minimum fare (enforced by config) this equals rounding first.
func RidePrice(distanceKm float64, t Tariff) int64 {
	return finalize(t.BaseFare+distanceKm*t.PerKmRate, t.MinimumFare)
}

// DeliveryPrice applies the weight tier and the urgency surcharge on top of the ride formula.
func DeliveryPrice(distanceKm float64, t Tariff, weightKg float64, urgent bool) int64 {
	price := (t.BaseFare + distanceKm*t.PerKmRate) * WeightMultiplier(weightKg)
	if urgent {
		price *= urgentMultiplier
	}
	return finalize(price, t.MinimumFare)
}

func WeightMultiplier(weightKg float64) float64 {
	switch {
	case weightKg <= 5:
		return 1.0
	case weightKg <= 10:
		return 1.2
	case weightKg <= 20:
		return 1.5
	default:
		return 2.0
	}
}

func finalize(price, minimum float64) int64 {
	if price < minimum {
		price = minimum
	}
	return int64(math.RoundToEven(price))
}

type Quote struct {
	DistanceKm float64 `json:"distance_km"`
	Price      int64   `json:"price"`
}

// Engine prices orders against a configured tariff set.
type Engine struct {
	Tariffs Tariffs
}

func NewEngine(t Tariffs) *Engine { return &Engine{Tariffs: t} }

// Quote prices o. A delivery without a destination yet is priced at distance zero.
func (e *Engine) Quote(o models.Order) Quote {
	var d float64
	if o.Destination != nil {
		d = geo.DistanceKm(o.Pickup, *o.Destination)
	}
	if o.Kind == models.KindDelivery {
		return Quote{DistanceKm: d, Price: DeliveryPrice(d, e.Tariffs.Delivery, o.WeightKg, o.Urgent)}
	}
	return Quote{DistanceKm: d, Price: RidePrice(d, e.Tariffs.Ride)}
}
