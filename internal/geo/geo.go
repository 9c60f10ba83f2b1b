package geo

import (
	"fmt"
	"math"

	"github.com/example/taxi-dispatch/internal/errs"
	"github.com/example/taxi-dispatch/internal/models"
)

const earthRadiusKm = 6371.0

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	return haversineKm(lat1, lon1, lat2, lon2) * 1000
}

// DistanceKm is the great-circle distance between a and b in kilometers, rounded to 2 decimals.
func DistanceKm(a, b models.Coord) float64 {
	d := haversineKm(a.Lat, a.Lon, b.Lat, b.Lon)
	return math.Round(d*100) / 100
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push a a hair past 1 for antipodal points
	a = math.Min(1, a)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// Validate checks that c is a real position on Earth.
func Validate(c models.Coord) error {
	if math.IsNaN(c.Lat) || c.Lat < -90 || c.Lat > 90 {
		return errs.NewValueIsInvalidErrorWithCause("lat", fmt.Errorf("%v is outside [-90, 90]", c.Lat))
	}
	if math.IsNaN(c.Lon) || c.Lon < -180 || c.Lon > 180 {
		return errs.NewValueIsInvalidErrorWithCause("lon", fmt.Errorf("%v is outside [-180, 180]", c.Lon))
	}
	return nil
}
