package eta

import (
	"math"
	"strings"
)

// Traffic describes current road conditions.
type Traffic string

const (
	TrafficGood   Traffic = "good"
	TrafficNormal Traffic = "normal"
	TrafficBad    Traffic = "bad"
)

const (
	baseWaitMinutes = 5.0
	minutesPerKm    = 2.0 // city driving
)

func ParseTraffic(s string) Traffic {
	switch Traffic(strings.ToLower(strings.TrimSpace(s))) {
	case TrafficGood:
		return TrafficGood
	case TrafficBad:
		return TrafficBad
	default:
		return TrafficNormal
	}
}

func (t Traffic) Multiplier() float64 {
	switch t {
	case TrafficGood:
		return 0.8
	case TrafficBad:
		return 1.5
	default:
		return 1.0
	}
}

// WaitMinutes estimates how long a client waits for a driver distanceKm away.
func WaitMinutes(distanceKm float64, t Traffic) int {
	if distanceKm < 0 {
		distanceKm = 0
	}
	total := (baseWaitMinutes + distanceKm*minutesPerKm) * t.Multiplier()
	return int(math.RoundToEven(total))
}
