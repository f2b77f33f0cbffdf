// README: Ride store backed by PostgreSQL (rides, ride_events).
package ride

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ridedispatch/internal/apperr"
	"ridedispatch/internal/modules/fleet"
	"ridedispatch/internal/types"
)

// activeRiderIndex is the partial unique index on rides(rider_id) for
// non-terminal statuses.
const activeRiderIndex = "rides_one_active_per_rider"

// activeDriverIndex keeps a driver on at most one accepted or in-progress ride.
const activeDriverIndex = "rides_active_driver"

const rideColumns = `
	id, rider_id, driver_id, vehicle_id, vehicle_type, passengers,
	pickup_lat, pickup_lng, destination_lat, destination_lng,
	status, status_version,
	requested_at, accepted_at, started_at, completed_at, cancelled_at,
	estimated_price, final_price, currency, distance_km, duration_ms,
	rider_rating, driver_rating, rider_comment, driver_comment, cancel_reason`

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, r *Ride) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO rides (`+rideColumns+`)
		VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12,
			$13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22,
			$23, $24, $25, $26, $27
		)`, rideArgs(r)...)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == activeRiderIndex {
		return fmt.Errorf("rider %s: %w", r.RiderID, apperr.ErrDuplicateActiveRide)
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, string(id))
	r, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("ride %s: %w", id, apperr.ErrNotFound)
	}
	return r, err
}

func (s *PostgresStore) Update(ctx context.Context, r *Ride, expectedVersion int) error {
	args := rideArgs(r)
	args[11] = expectedVersion + 1
	args = append(args, expectedVersion)
	tag, err := s.db.Exec(ctx, `
		UPDATE rides SET
			driver_id = $3, vehicle_id = $4, status = $11, status_version = $12,
			accepted_at = $14, started_at = $15, completed_at = $16, cancelled_at = $17,
			final_price = $19, distance_km = $21, duration_ms = $22,
			rider_rating = $23, driver_rating = $24, rider_comment = $25, driver_comment = $26,
			cancel_reason = $27
		WHERE id = $1 AND status_version = $28`, args...)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == activeDriverIndex {
		return fmt.Errorf("driver of ride %s already holds an active ride: %w", r.ID, apperr.ErrConflictingUpdate)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("ride %s version %d: %w", r.ID, expectedVersion, apperr.ErrConflictingUpdate)
	}
	r.Version = expectedVersion + 1
	return nil
}

func (s *PostgresStore) HasActiveByRider(ctx context.Context, riderID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM rides
			WHERE rider_id = $1
			  AND status IN ('requested','accepted','in_progress')
		)`, string(riderID),
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PostgresStore) ActiveByDriver(ctx context.Context, driverID types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE driver_id = $1 AND status IN ('accepted','in_progress')
		ORDER BY requested_at DESC
		LIMIT 1`, string(driverID))
	r, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("active ride of driver %s: %w", driverID, apperr.ErrNotFound)
	}
	return r, err
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]*Ride, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+rideColumns+` FROM rides
		WHERE status IN ('requested','accepted','in_progress')
		ORDER BY requested_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e *Event) error {
	return s.db.QueryRow(ctx, `
		INSERT INTO ride_events (
			ride_id, from_status, to_status, actor_role, actor_id, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		string(e.RideID),
		string(e.From),
		string(e.To),
		string(e.Actor.Role),
		nullString(string(e.Actor.ID)),
		e.Reason,
		e.At,
	).Scan(&e.ID)
}

func (s *PostgresStore) Events(ctx context.Context, rideID types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, ride_id, from_status, to_status, actor_role, actor_id, reason, created_at
		FROM ride_events
		WHERE ride_id = $1
		ORDER BY id`, string(rideID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID sql.NullString
		if err := rows.Scan(&e.ID, &e.RideID, &e.From, &e.To, &e.Actor.Role, &actorID, &e.Reason, &e.At); err != nil {
			return nil, err
		}
		e.Actor.ID = types.ID(actorID.String)
		out = append(out, e)
	}
	return out, rows.Err()
}

func rideArgs(r *Ride) []any {
	var finalPrice *int64
	if r.FinalPrice != nil {
		v := r.FinalPrice.Amount
		finalPrice = &v
	}
	return []any{
		string(r.ID), string(r.RiderID), toStringPtr(r.DriverID), toStringPtr(r.VehicleID),
		string(r.VehicleType), r.Passengers,
		r.Pickup.Lat, r.Pickup.Lng, r.Destination.Lat, r.Destination.Lng,
		string(r.Status), r.Version,
		r.RequestedAt, r.AcceptedAt, r.StartedAt, r.CompletedAt, r.CancelledAt,
		r.EstimatedPrice.Amount, finalPrice, r.EstimatedPrice.Currency, r.DistanceKm, r.Duration.Milliseconds(),
		r.RiderRating, r.DriverRating, r.RiderComment, r.DriverComment, r.CancelReason,
	}
}

func scanRide(row pgx.Row) (*Ride, error) {
	var r Ride
	var driverID, vehicleID sql.NullString
	var vehicleType string
	var acceptedAt, startedAt, completedAt, cancelledAt sql.NullTime
	var finalPrice sql.NullInt64
	var durationMs int64
	var riderRating, driverRating sql.NullInt32

	err := row.Scan(
		&r.ID, &r.RiderID, &driverID, &vehicleID, &vehicleType, &r.Passengers,
		&r.Pickup.Lat, &r.Pickup.Lng, &r.Destination.Lat, &r.Destination.Lng,
		&r.Status, &r.Version,
		&r.RequestedAt, &acceptedAt, &startedAt, &completedAt, &cancelledAt,
		&r.EstimatedPrice.Amount, &finalPrice, &r.EstimatedPrice.Currency, &r.DistanceKm, &durationMs,
		&riderRating, &driverRating, &r.RiderComment, &r.DriverComment, &r.CancelReason,
	)
	if err != nil {
		return nil, err
	}

	r.VehicleType = fleet.VehicleType(vehicleType)
	r.DriverID = toIDPtr(driverID)
	r.VehicleID = toIDPtr(vehicleID)
	r.AcceptedAt = toTimePtr(acceptedAt)
	r.StartedAt = toTimePtr(startedAt)
	r.CompletedAt = toTimePtr(completedAt)
	r.CancelledAt = toTimePtr(cancelledAt)
	r.Duration = time.Duration(durationMs) * time.Millisecond
	if finalPrice.Valid {
		r.FinalPrice = &types.Money{Amount: finalPrice.Int64, Currency: r.EstimatedPrice.Currency}
	}
	r.RiderRating = toIntPtr(riderRating)
	r.DriverRating = toIntPtr(driverRating)
	return &r, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIDPtr(v sql.NullString) *types.ID {
	if !v.Valid {
		return nil
	}
	id := types.ID(v.String)
	return &id
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func toIntPtr(v sql.NullInt32) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int32)
	return &n
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
