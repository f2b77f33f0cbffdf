// Package location: geo_utils contains pure geographic computation helpers.
package location

import (
	"math"

	"ridedispatch/internal/types"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func HaversineKm(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c
}

// PathLengthKm sums the great-circle legs between consecutive samples.
// Samples must already be ordered by time.
func PathLengthKm(samples []Sample) float64 {
	total := 0.0
	for i := 1; i < len(samples); i++ {
		total += HaversineKm(samples[i-1].Point, samples[i].Point)
	}
	return total
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
