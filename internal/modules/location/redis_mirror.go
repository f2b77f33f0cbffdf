// README: Redis GEO mirror of the latest driver positions for operator tooling.
package location

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"

	"ridedispatch/internal/types"
)

const (
	driverGeoKey = "dispatch:drivers:geo"
	driverTsKey  = "dispatch:drivers:ts"
)

// setIfNewer applies the same newer-timestamp-wins rule as Store so that
// mirrors written concurrently from several API instances never regress.
var setIfNewer = redis.NewScript(`
local prev = redis.call('HGET', KEYS[2], ARGV[1])
if prev and tonumber(prev) >= tonumber(ARGV[4]) then
  return 0
end
redis.call('GEOADD', KEYS[1], ARGV[2], ARGV[3], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[4])
return 1
`)

// Mirror receives accepted position updates. Mirrors are best effort; the
// in-process Store stays authoritative for matching.
type Mirror interface {
	Mirror(ctx context.Context, p Position) error
}

type RedisMirror struct {
	redis *redis.Client
}

func NewRedisMirror(redis *redis.Client) *RedisMirror {
	return &RedisMirror{redis: redis}
}

func (m *RedisMirror) Mirror(ctx context.Context, p Position) error {
	return setIfNewer.Run(ctx, m.redis,
		[]string{driverGeoKey, driverTsKey},
		string(p.DriverID),
		strconv.FormatFloat(p.Point.Lng, 'f', -1, 64),
		strconv.FormatFloat(p.Point.Lat, 'f', -1, 64),
		p.At.UnixMilli(),
	).Err()
}

func (m *RedisMirror) Remove(ctx context.Context, driverID types.ID) error {
	pipe := m.redis.TxPipeline()
	pipe.ZRem(ctx, driverGeoKey, string(driverID))
	pipe.HDel(ctx, driverTsKey, string(driverID))
	_, err := pipe.Exec(ctx)
	return err
}

// NearbyDrivers lists mirrored drivers within radiusKm of p, closest first.
func (m *RedisMirror) NearbyDrivers(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	results, err := m.redis.GeoSearch(ctx, driverGeoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, r := range results {
		ids[i] = types.ID(r)
	}
	return ids, nil
}
