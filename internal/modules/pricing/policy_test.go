package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"ridedispatch/internal/apperr"
	"ridedispatch/internal/modules/fleet"
	"ridedispatch/internal/modules/ride"
)

func TestPolicy_Calculate(t *testing.T) {
	// Base time: 2026-02-10 12:00:00 (off-peak)
	baseTime := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	peakTime := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	nightTime := time.Date(2026, 2, 10, 23, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		req      PricingRequest
		wantFare int64
	}{
		{
			name:     "standard off-peak (5 + 10km*1.5 + 0.5h*25)",
			req:      PricingRequest{DistanceKm: 10, Duration: 30 * time.Minute, RequestTime: baseTime, VehicleType: fleet.VehicleStandard},
			wantFare: 3250,
		},
		{
			name:     "standard peak x1.2",
			req:      PricingRequest{DistanceKm: 10, Duration: 30 * time.Minute, RequestTime: peakTime, VehicleType: fleet.VehicleStandard},
			wantFare: 3900,
		},
		{
			name:     "standard night x1.5",
			req:      PricingRequest{DistanceKm: 10, Duration: 30 * time.Minute, RequestTime: nightTime, VehicleType: fleet.VehicleStandard},
			wantFare: 4875,
		},
		{
			name:     "van base fare",
			req:      PricingRequest{DistanceKm: 1, RequestTime: baseTime, VehicleType: fleet.VehicleVan},
			wantFare: 1350,
		},
		{
			name:     "premium base fare",
			req:      PricingRequest{RequestTime: baseTime, VehicleType: fleet.VehiclePremium},
			wantFare: 800,
		},
		{
			name:     "luxury with rounding (2.333km)",
			req:      PricingRequest{DistanceKm: 2.333, RequestTime: baseTime, VehicleType: fleet.VehicleLuxury},
			wantFare: 1850, // 1500 + 349.95
		},
	}

	p := NewPolicy("EUR", time.UTC)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := p.Calculate(tc.req)
			if err != nil {
				t.Fatalf("calculate: %v", err)
			}
			if got.TotalAmount != tc.wantFare {
				t.Errorf("fare = %d, want %d (breakdown %v, x%.1f)", got.TotalAmount, tc.wantFare, got.Breakdown, got.Multiplier)
			}
			if got.Currency != "EUR" {
				t.Errorf("currency = %q", got.Currency)
			}
		})
	}
}

func TestMultiplier(t *testing.T) {
	cases := map[int]float64{
		0: 1.5, 5: 1.5, 6: 1, 7: 1.2, 8: 1.2, 9: 1,
		12: 1, 16: 1, 17: 1.2, 18: 1.2, 19: 1, 21: 1, 22: 1.5, 23: 1.5,
	}
	for hour, want := range cases {
		at := time.Date(2026, 3, 1, hour, 15, 0, 0, time.UTC)
		if got := Multiplier(at); got != want {
			t.Errorf("Multiplier(%02d:15) = %v, want %v", hour, got, want)
		}
	}
}

func TestPolicy_LocationShiftsSurcharge(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 06:30 UTC is 08:30 in Paris during summer time.
	at := time.Date(2026, 7, 1, 6, 30, 0, 0, time.UTC)
	got, err := NewPolicy("EUR", paris).Calculate(PricingRequest{RequestTime: at, VehicleType: fleet.VehicleStandard})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if got.Multiplier != peakMultiplier {
		t.Fatalf("multiplier = %v, want peak", got.Multiplier)
	}
}

func TestPolicy_Errors(t *testing.T) {
	p := NewPolicy("EUR", nil)
	if _, err := p.Calculate(PricingRequest{VehicleType: "bus"}); !errors.Is(err, apperr.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for unknown type, got %v", err)
	}
	if _, err := p.Calculate(PricingRequest{DistanceKm: -1, VehicleType: fleet.VehicleStandard}); !errors.Is(err, apperr.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for negative distance, got %v", err)
	}
}

func TestPolicy_EstimateAndFinalize(t *testing.T) {
	p := NewPolicy("EUR", time.UTC)
	p.now = func() time.Time { return time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	est, err := p.Estimate(ctx, 10, 30*time.Minute, fleet.VehicleStandard)
	if err != nil || est.Amount != 3250 || est.Currency != "EUR" {
		t.Fatalf("estimate = %v, %v", est, err)
	}

	started := time.Date(2026, 2, 10, 23, 0, 0, 0, time.UTC)
	final, err := p.Finalize(ctx, ride.Ride{
		VehicleType: fleet.VehicleStandard,
		RequestedAt: started.Add(-10 * time.Minute),
		StartedAt:   &started,
		DistanceKm:  10,
		Duration:    30 * time.Minute,
	})
	if err != nil || final.Amount != 4875 {
		t.Fatalf("final = %v, %v", final, err)
	}
}
