package location

import (
	"math"
	"testing"
	"time"

	"ridedispatch/internal/types"
)

func TestHaversineKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		a, b      types.Point
		wantKm    float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         types.Point{Lat: 48.8566, Lng: 2.3522},
			b:         types.Point{Lat: 48.8566, Lng: 2.3522},
			wantKm:    0,
			tolerance: 0.001,
		},
		{
			name:      "Paris centre to a driver around the corner (~70m)",
			a:         types.Point{Lat: 48.8566, Lng: 2.3522},
			b:         types.Point{Lat: 48.8570, Lng: 2.3530},
			wantKm:    0.073,
			tolerance: 0.01,
		},
		{
			name:      "Paris to Lyon (~392km)",
			a:         types.Point{Lat: 48.8566, Lng: 2.3522},
			b:         types.Point{Lat: 45.7640, Lng: 4.8357},
			wantKm:    392,
			tolerance: 5,
		},
		{
			name:      "New York to Los Angeles (~3944km)",
			a:         types.Point{Lat: 40.7128, Lng: -74.0060},
			b:         types.Point{Lat: 34.0522, Lng: -118.2437},
			wantKm:    3944,
			tolerance: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.a, tt.b)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("HaversineKm() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestHaversineKm_Symmetry(t *testing.T) {
	a := types.Point{Lat: 25.0, Lng: 121.0}
	b := types.Point{Lat: 26.0, Lng: 122.0}
	if d1, d2 := HaversineKm(a, b), HaversineKm(b, a); math.Abs(d1-d2) > 0.0001 {
		t.Errorf("haversine is not symmetric: %f vs %f", d1, d2)
	}
}

func TestPathLengthKm(t *testing.T) {
	now := time.Now()
	a := types.Point{Lat: 48.8566, Lng: 2.3522}
	b := types.Point{Lat: 48.8600, Lng: 2.3522}
	c := types.Point{Lat: 48.8600, Lng: 2.3600}
	samples := []Sample{
		{Point: a, RecordedAt: now},
		{Point: b, RecordedAt: now.Add(time.Second)},
		{Point: c, RecordedAt: now.Add(2 * time.Second)},
	}
	want := HaversineKm(a, b) + HaversineKm(b, c)
	if got := PathLengthKm(samples); math.Abs(got-want) > 1e-9 {
		t.Errorf("PathLengthKm() = %f, want %f", got, want)
	}
	if got := PathLengthKm(samples[:1]); got != 0 {
		t.Errorf("single sample path = %f, want 0", got)
	}
	if got := PathLengthKm(nil); got != 0 {
		t.Errorf("empty path = %f, want 0", got)
	}
}
