package availability

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ridedispatch/internal/apperr"
	"ridedispatch/internal/types"
)

func fixedClock(start time.Time) func() time.Time {
	var n int64
	return func() time.Time {
		return start.Add(time.Duration(atomic.AddInt64(&n, 1)) * time.Second)
	}
}

func TestSetAvailable_Idempotent(t *testing.T) {
	x := NewIndex()
	x.now = fixedClock(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC))

	first := x.SetAvailable("d1", true)
	second := x.SetAvailable("d1", true)
	if first != second {
		t.Fatalf("repeat SetAvailable changed state: %+v vs %+v", first, second)
	}
	if !second.Available {
		t.Fatal("driver should be available")
	}

	off := x.SetAvailable("d1", false)
	offAgain := x.SetAvailable("d1", false)
	if off != offAgain || off.Available {
		t.Fatalf("offline toggle not idempotent: %+v vs %+v", off, offAgain)
	}
}

func TestReserveAndRelease(t *testing.T) {
	x := NewIndex()
	x.SetAvailable("d1", true)

	if err := x.Reserve("d1", "r1", nil); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	st, _ := x.Status("d1")
	if st.Available || st.RideID != "r1" {
		t.Fatalf("driver must hold r1 and be unavailable: %+v", st)
	}
	if err := x.Reserve("d1", "r2", nil); !errors.Is(err, apperr.ErrConflictingUpdate) {
		t.Fatalf("expected ErrConflictingUpdate, got %v", err)
	}

	if x.Release("d1", "other") {
		t.Fatal("release of a ride not held must be a no-op")
	}
	if !x.Release("d1", "r1") {
		t.Fatal("release should succeed")
	}
	st, _ = x.Status("d1")
	if !st.Available {
		t.Fatalf("online driver should be available after release: %+v", st)
	}
}

func TestRelease_OfflineDriverStaysUnavailable(t *testing.T) {
	x := NewIndex()
	x.SetAvailable("d1", true)
	if err := x.Reserve("d1", "r1", nil); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	x.SetAvailable("d1", false)
	x.Release("d1", "r1")

	st, _ := x.Status("d1")
	if st.Available {
		t.Fatal("offline driver must not become available on release")
	}
}

func TestReserve_CheckFailureLeavesDriverFree(t *testing.T) {
	x := NewIndex()
	x.SetAvailable("d1", true)
	boom := errors.New("vehicle expired")
	if err := x.Reserve("d1", "r1", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected check error, got %v", err)
	}
	st, _ := x.Status("d1")
	if !st.Available {
		t.Fatal("failed check must not reserve the driver")
	}
}

func TestReserve_UnknownDriver(t *testing.T) {
	x := NewIndex()
	if err := x.Reserve("ghost", "r1", nil); !errors.Is(err, apperr.ErrConflictingUpdate) {
		t.Fatalf("expected ErrConflictingUpdate, got %v", err)
	}
}

func TestReserve_ConcurrentSingleWinner(t *testing.T) {
	x := NewIndex()
	x.SetAvailable("d1", true)

	const workers = 50
	var wins int64
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := x.Reserve("d1", types.ID(fmt.Sprintf("r%d", i)), nil)
			switch {
			case err == nil:
				atomic.AddInt64(&wins, 1)
			case !errors.Is(err, apperr.ErrConflictingUpdate):
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}
	if wins != 1 {
		t.Fatalf("expected exactly one reservation, got %d", wins)
	}
}

func TestSnapshotAndAvailable(t *testing.T) {
	x := NewIndex()
	x.SetAvailable("d1", true)
	x.SetAvailable("d2", true)
	x.SetAvailable("d3", false)
	_ = x.Reserve("d2", "r1", nil)

	snap := x.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snap))
	}
	avail := x.Available()
	if len(avail) != 1 || avail[0] != "d1" {
		t.Fatalf("expected only d1 available, got %v", avail)
	}
}

func TestHold_KeepsDriverBusyAfterGoingOnline(t *testing.T) {
	x := NewIndex()
	if err := x.Hold("d1", "r1"); err != nil {
		t.Fatalf("hold: %v", err)
	}
	st := x.SetAvailable("d1", true)
	if !st.Online || st.Available || st.RideID != "r1" {
		t.Fatalf("held driver must be online but unavailable: %+v", st)
	}
	if err := x.Reserve("d1", "r2", nil); !errors.Is(err, apperr.ErrConflictingUpdate) {
		t.Fatalf("expected ErrConflictingUpdate, got %v", err)
	}
	if err := x.Hold("d1", "r1"); err != nil {
		t.Fatalf("repeat hold: %v", err)
	}
	if err := x.Hold("d1", "r2"); !errors.Is(err, apperr.ErrConflictingUpdate) {
		t.Fatalf("expected ErrConflictingUpdate for a second ride, got %v", err)
	}
	if !x.Release("d1", "r1") {
		t.Fatal("release of the held ride must succeed")
	}
	if st, _ := x.Status("d1"); !st.Available {
		t.Fatalf("driver should be available after release: %+v", st)
	}
}
