package ride

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ridedispatch/internal/logging"
	"ridedispatch/internal/modules/availability"
	"ridedispatch/internal/modules/fleet"
	"ridedispatch/internal/modules/location"
	"ridedispatch/internal/types"
)

var (
	paris    = types.Point{Lat: 48.8566, Lng: 2.3522}
	louvre   = types.Point{Lat: 48.8606, Lng: 2.3376}
	testNow  = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	eurCents = func(n int64) types.Money { return types.Money{Amount: n, Currency: "EUR"} }
)

type fakePricer struct {
	mu        sync.Mutex
	estimate  types.Money
	final     types.Money
	block     time.Duration
	err       error
	finalized []Ride
}

func (f *fakePricer) Estimate(ctx context.Context, _ float64, _ time.Duration, _ fleet.VehicleType) (types.Money, error) {
	if f.block > 0 {
		time.Sleep(f.block)
	}
	return f.estimate, f.err
}

func (f *fakePricer) Finalize(_ context.Context, r Ride) (types.Money, error) {
	if f.block > 0 {
		time.Sleep(f.block)
	}
	f.mu.Lock()
	f.finalized = append(f.finalized, r)
	f.mu.Unlock()
	return f.final, f.err
}

type recordingNotifier struct {
	mu       sync.Mutex
	events   []Event
	payments []types.ID
	err      error
	// slowOn delays delivery of events entering that status.
	slowOn Status
	delay  time.Duration
}

func (n *recordingNotifier) RideTransition(_ context.Context, e Event) error {
	if n.slowOn != StatusNone && e.To == n.slowOn {
		time.Sleep(n.delay)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return n.err
}

func (n *recordingNotifier) RideCompleted(_ context.Context, rideID types.ID, _ types.Money) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.payments = append(n.payments, rideID)
	return n.err
}

type harness struct {
	machine  *Machine
	store    Store
	index    *availability.Index
	registry *fleet.Registry
	trail    *location.MemoryTrail
	pricer   *fakePricer
	notes    *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, NewMemoryStore())
}

func newHarnessWithStore(t *testing.T, store Store) *harness {
	t.Helper()
	h := &harness{
		store:    store,
		index:    availability.NewIndex(),
		registry: fleet.NewRegistry(nil, logging.Discard()),
		trail:    location.NewMemoryTrail(),
		pricer:   &fakePricer{estimate: eurCents(1200), final: eurCents(1850)},
		notes:    &recordingNotifier{},
	}
	h.machine = NewMachine(Deps{
		Store:        store,
		Pricing:      h.pricer,
		Availability: h.index,
		Fleet:        h.registry,
		Trail:        h.trail,
		Notifier:     h.notes,
		Payments:     h.notes,
		Log:          logging.Discard(),
	}, Options{
		PricingTimeout: 200 * time.Millisecond,
		NotifyTimeout:  time.Second,
		FlatEstimate:   eurCents(1500),
		Clock:          func() time.Time { return testNow },
	})
	t.Cleanup(h.machine.Close)
	return h
}

// addDriver registers an online driver with a valid standard vehicle.
func (h *harness) addDriver(id types.ID) types.ID {
	vehicleID := "v_" + id
	h.registry.PutDriver(fleet.Driver{
		ID:                id,
		LicenseValidFrom:  testNow.AddDate(-1, 0, 0),
		LicenseValidUntil: testNow.AddDate(1, 0, 0),
		ActiveVehicleID:   vehicleID,
	})
	h.registry.PutVehicle(fleet.Vehicle{
		ID:               vehicleID,
		DriverID:         id,
		Capacity:         4,
		Type:             fleet.VehicleStandard,
		InsuranceExpiry:  testNow.AddDate(0, 6, 0),
		InspectionExpiry: testNow.AddDate(0, 6, 0),
	})
	h.index.SetAvailable(id, true)
	return vehicleID
}

func (h *harness) mustRequest(t *testing.T, riderID types.ID) *Ride {
	t.Helper()
	r, err := h.machine.RequestRide(context.Background(), RequestCommand{
		RiderID:     riderID,
		Pickup:      paris,
		Destination: louvre,
	})
	if err != nil {
		t.Fatalf("request ride: %v", err)
	}
	return r
}

func (h *harness) mustTransition(t *testing.T, cmd TransitionCommand) *Ride {
	t.Helper()
	r, err := h.machine.Transition(context.Background(), cmd)
	if err != nil {
		t.Fatalf("transition to %s: %v", cmd.Target, err)
	}
	return r
}

func (h *harness) accept(t *testing.T, rideID, driverID types.ID) *Ride {
	t.Helper()
	return h.mustTransition(t, TransitionCommand{
		RideID:    rideID,
		Target:    StatusAccepted,
		Actor:     Actor{Role: RoleDriver, ID: driverID},
		DriverID:  driverID,
		VehicleID: "v_" + driverID,
	})
}

func assertStatus(t *testing.T, m *Machine, rideID types.ID, want Status) {
	t.Helper()
	r, err := m.Get(context.Background(), rideID)
	if err != nil {
		t.Fatalf("get ride: %v", err)
	}
	if r.Status != want {
		t.Fatalf("expected status %s, got %s", want, r.Status)
	}
}

func assertIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
