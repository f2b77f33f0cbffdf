// README: Trail store backed by PostgreSQL.
package location

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridedispatch/internal/types"
)

type PostgresTrail struct {
	db *pgxpool.Pool
}

func NewPostgresTrail(db *pgxpool.Pool) *PostgresTrail {
	return &PostgresTrail{db: db}
}

func (t *PostgresTrail) Append(ctx context.Context, s Sample) error {
	_, err := t.db.Exec(ctx, `
		INSERT INTO ride_samples (ride_id, lat, lng, recorded_at)
		VALUES ($1, $2, $3, $4)`,
		string(s.RideID), s.Point.Lat, s.Point.Lng, s.RecordedAt,
	)
	return err
}

func (t *PostgresTrail) Samples(ctx context.Context, rideID types.ID) ([]Sample, error) {
	rows, err := t.db.Query(ctx, `
		SELECT lat, lng, recorded_at
		FROM ride_samples
		WHERE ride_id = $1
		ORDER BY recorded_at, id`, string(rideID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		s := Sample{RideID: rideID}
		if err := rows.Scan(&s.Point.Lat, &s.Point.Lng, &s.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
