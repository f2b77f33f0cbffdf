// README: Fleet store backed by PostgreSQL (drivers and vehicles tables).
package fleet

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridedispatch/internal/types"
)

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) LoadDrivers(ctx context.Context) ([]Driver, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, license_valid_from, license_valid_until,
		       rating, rating_count, completed_rides, active_vehicle_id
		FROM drivers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Driver
	for rows.Next() {
		var d Driver
		var from, until sql.NullTime
		var vehicleID sql.NullString
		if err := rows.Scan(&d.ID, &d.UserID, &from, &until,
			&d.Rating, &d.RatingCount, &d.CompletedRides, &vehicleID); err != nil {
			return nil, err
		}
		d.LicenseValidFrom = from.Time
		d.LicenseValidUntil = until.Time
		if vehicleID.Valid {
			d.ActiveVehicleID = types.ID(vehicleID.String)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LoadVehicles(ctx context.Context) ([]Vehicle, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, driver_id, capacity, vehicle_type, insurance_expiry, inspection_expiry
		FROM vehicles`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Vehicle
	for rows.Next() {
		var v Vehicle
		if err := rows.Scan(&v.ID, &v.DriverID, &v.Capacity, &v.Type,
			&v.InsuranceExpiry, &v.InspectionExpiry); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveDriverStats(ctx context.Context, d Driver) error {
	_, err := s.db.Exec(ctx, `
		UPDATE drivers
		SET rating = $1, rating_count = $2, completed_rides = $3
		WHERE id = $4`,
		d.Rating, d.RatingCount, d.CompletedRides, string(d.ID),
	)
	return err
}

func (s *PostgresStore) SaveDriver(ctx context.Context, d Driver) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO drivers (
			id, user_id, license_valid_from, license_valid_until,
			rating, rating_count, completed_rides, active_vehicle_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			license_valid_from = EXCLUDED.license_valid_from,
			license_valid_until = EXCLUDED.license_valid_until,
			active_vehicle_id = EXCLUDED.active_vehicle_id`,
		string(d.ID), string(d.UserID), nullTime(d.LicenseValidFrom), nullTime(d.LicenseValidUntil),
		d.Rating, d.RatingCount, d.CompletedRides, nullID(d.ActiveVehicleID),
	)
	return err
}

func (s *PostgresStore) SaveVehicle(ctx context.Context, v Vehicle) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO vehicles (
			id, driver_id, capacity, vehicle_type, insurance_expiry, inspection_expiry
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			capacity = EXCLUDED.capacity,
			vehicle_type = EXCLUDED.vehicle_type,
			insurance_expiry = EXCLUDED.insurance_expiry,
			inspection_expiry = EXCLUDED.inspection_expiry`,
		string(v.ID), string(v.DriverID), v.Capacity, string(v.Type), v.InsuranceExpiry, v.InspectionExpiry,
	)
	return err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullID(id types.ID) *string {
	if id == "" {
		return nil
	}
	s := string(id)
	return &s
}
