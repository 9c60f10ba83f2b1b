package matcher

import (
	"math"
	"sort"

	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/models"
)

// Candidate is a driver eligible for an offer together with its distance to the pickup.
// DistanceKm is +Inf for drivers that have not reported a location yet.
type Candidate struct {
	Driver     models.Driver
	DistanceKm float64
}

func (c Candidate) HasLocation() bool { return !math.IsInf(c.DistanceKm, 1) }

// Ranker orders available drivers by proximity to an order's pickup.
type Ranker struct {
	// MaxCandidates caps the list; zero means no cap.
	MaxCandidates int
}

// Candidates drops unavailable drivers and sorts the rest by distance, then by id.
// Drivers without a location sort last. An empty result is a normal outcome.
func (r *Ranker) Candidates(order models.Order, drivers []models.Driver) []Candidate {
	out := make([]Candidate, 0, len(drivers))
	for _, d := range drivers {
		if !d.Available {
			continue
		}
		dist := math.Inf(1)
		if d.Loc != nil {
			dist = geo.DistanceKm(*d.Loc, order.Pickup)
		}
		out = append(out, Candidate{Driver: d, DistanceKm: dist})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].Driver.ID < out[j].Driver.ID
	})
	if r != nil && r.MaxCandidates > 0 && len(out) > r.MaxCandidates {
		out = out[:r.MaxCandidates]
	}
	return out
}

// Rank returns candidate driver ids in offer order.
func (r *Ranker) Rank(order models.Order, drivers []models.Driver) []string {
	cands := r.Candidates(order, drivers)
	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.Driver.ID
	}
	return ids
}
