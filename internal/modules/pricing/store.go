// README: Pricing store backed by PostgreSQL.
package pricing

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) ListRates(ctx context.Context) ([]Rate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT vehicle_type, base_fare, per_km, per_hour
		FROM pricing_rates`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rate
	for rows.Next() {
		var r Rate
		if err := rows.Scan(&r.VehicleType, &r.BaseFare, &r.PerKm, &r.PerHour); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
