// README: Concurrency tests for ride transitions (run with -race).
package ride

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridedispatch/internal/apperr"
	"ridedispatch/internal/types"
)

func TestConcurrentAcceptVsCancel(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			h := newHarnessWithStore(t, store)
			h.addDriver("d1")
			r := h.mustRequest(t, types.ID("rider_accept_cancel_"+name))

			var wg sync.WaitGroup
			errs := make(chan error, 2)
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := h.machine.Transition(context.Background(), TransitionCommand{
					RideID: r.ID, Target: StatusAccepted, DriverID: "d1", VehicleID: "v_d1",
				})
				errs <- err
			}()
			go func() {
				defer wg.Done()
				_, err := h.machine.Transition(context.Background(), TransitionCommand{
					RideID: r.ID, Target: StatusCancelled, Actor: Actor{Role: RoleRider}, Reason: "user_cancel",
				})
				errs <- err
			}()
			wg.Wait()
			close(errs)

			success := 0
			for err := range errs {
				if err == nil {
					success++
					continue
				}
				if !errors.Is(err, apperr.ErrInvalidTransition) && !errors.Is(err, apperr.ErrConflictingUpdate) {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if success < 1 {
				t.Fatal("at least one transition must win")
			}

			got, err := h.machine.Get(context.Background(), r.ID)
			if err != nil {
				t.Fatalf("get ride: %v", err)
			}
			st, _ := h.index.Status("d1")
			switch got.Status {
			case StatusCancelled:
				if !st.Available {
					t.Fatal("driver must be free once the ride is cancelled")
				}
			case StatusAccepted:
				if st.Available {
					t.Fatal("driver must be held by the accepted ride")
				}
			default:
				t.Fatalf("unexpected final status: %s", got.Status)
			}
		})
	}
}

func TestConcurrentAcceptSameDriver(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			h := newHarnessWithStore(t, store)
			h.addDriver("d1")

			const rides = 20
			ids := make([]types.ID, rides)
			for i := range ids {
				ids[i] = h.mustRequest(t, types.ID(fmt.Sprintf("rider_same_driver_%s_%d", name, i))).ID
			}

			var wg sync.WaitGroup
			errs := make(chan error, rides)
			for _, id := range ids {
				wg.Add(1)
				go func(id types.ID) {
					defer wg.Done()
					_, err := h.machine.Transition(context.Background(), TransitionCommand{
						RideID: id, Target: StatusAccepted, DriverID: "d1", VehicleID: "v_d1",
					})
					errs <- err
				}(id)
			}
			wg.Wait()
			close(errs)

			success := 0
			for err := range errs {
				if err == nil {
					success++
					continue
				}
				if !errors.Is(err, apperr.ErrConflictingUpdate) {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if success != 1 {
				t.Fatalf("driver assigned to %d rides, want exactly 1", success)
			}
		})
	}
}

func TestConcurrentRequestsSameRider(t *testing.T) {
	h := newHarness(t)
	const workers = 10

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.machine.RequestRide(context.Background(), RequestCommand{RiderID: "rider1", Pickup: paris, Destination: louvre})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, apperr.ErrDuplicateActiveRide) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one active ride, got %d", success)
	}
}

func TestMemoryStoreVersionConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	r := &Ride{ID: "r1", RiderID: "rider1", Status: StatusRequested}
	if err := s.Create(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}

	a, _ := s.Get(ctx, "r1")
	b, _ := s.Get(ctx, "r1")
	a.Status = StatusCancelled
	if err := s.Update(ctx, a, 0); err != nil {
		t.Fatalf("first update: %v", err)
	}
	b.Status = StatusAccepted
	if err := s.Update(ctx, b, 0); !errors.Is(err, apperr.ErrConflictingUpdate) {
		t.Fatalf("expected ErrConflictingUpdate, got %v", err)
	}
	got, _ := s.Get(ctx, "r1")
	if got.Status != StatusCancelled || got.Version != 1 {
		t.Fatalf("unexpected stored ride: %+v", got)
	}
}

func TestStoreOneActiveRidePerDriver(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			driver := types.ID("driver_unique_" + name)
			newRide := func(id string, at time.Time) *Ride {
				r := &Ride{
					ID:             types.ID(id + "_" + name),
					RiderID:        types.ID("rider_" + id + "_" + name),
					VehicleType:    "standard",
					Passengers:     1,
					Pickup:         paris,
					Destination:    louvre,
					Status:         StatusRequested,
					RequestedAt:    at,
					EstimatedPrice: eurCents(1200),
				}
				if err := store.Create(ctx, r); err != nil {
					t.Fatalf("create %s: %v", r.ID, err)
				}
				return r
			}
			first := newRide("first", testNow)
			second := newRide("second", testNow.Add(time.Second))
			third := newRide("third", testNow.Add(2*time.Second))

			accept := func(r *Ride) error {
				next := r.Clone()
				next.Status = StatusAccepted
				next.DriverID = &driver
				at := r.RequestedAt.Add(time.Millisecond)
				next.AcceptedAt = &at
				return store.Update(ctx, next, r.Version)
			}
			if err := accept(first); err != nil {
				t.Fatalf("accept first: %v", err)
			}
			if err := accept(second); !errors.Is(err, apperr.ErrConflictingUpdate) {
				t.Fatalf("expected ErrConflictingUpdate for a busy driver, got %v", err)
			}

			cancelled := third.Clone()
			cancelled.Status = StatusCancelled
			at := third.RequestedAt.Add(time.Millisecond)
			cancelled.CancelledAt = &at
			if err := store.Update(ctx, cancelled, third.Version); err != nil {
				t.Fatalf("cancel third: %v", err)
			}

			active, err := store.ListActive(ctx)
			if err != nil {
				t.Fatalf("list active: %v", err)
			}
			var got []types.ID
			for _, r := range active {
				if strings.HasSuffix(string(r.ID), "_"+name) {
					got = append(got, r.ID)
				}
			}
			if len(got) != 2 || got[0] != first.ID || got[1] != second.ID {
				t.Fatalf("active rides = %v, want [%s %s]", got, first.ID, second.ID)
			}
		})
	}
}

// testStores returns the in-memory store and, when DISPATCH_TEST_DSN is
// set, a PostgreSQL store on a freshly migrated schema.
func testStores(t *testing.T) map[string]Store {
	t.Helper()
	stores := map[string]Store{"memory": NewMemoryStore()}

	dsn := os.Getenv("DISPATCH_TEST_DSN")
	if dsn == "" {
		return stores
	}
	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE ride_events, ride_samples, rides"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	stores["postgres"] = NewPostgresStore(db)
	return stores
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.sql"))
	if err != nil {
		return err
	}
	for _, stmt := range splitSQL(stripSQLComments(string(content))) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		stmt := strings.TrimSpace(p)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}
