// README: Location values: latest driver position and per-ride trail samples.
package location

import (
	"time"

	"ridedispatch/internal/types"
)

// Position is the latest known position of a driver.
type Position struct {
	DriverID types.ID
	Point    types.Point
	At       time.Time
}

// Sample is one point of a ride's append-only trail.
type Sample struct {
	RideID     types.ID
	Point      types.Point
	RecordedAt time.Time
}

type Update struct {
	DriverID types.ID
	Point    types.Point
	At       time.Time
	// RideID is the driver's active ride, if any. Accepted updates are
	// appended to that ride's trail.
	RideID types.ID
}
