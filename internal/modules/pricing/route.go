// README: Route estimators: Google Maps directions, a geohash-keyed cache and a straight-line fallback.
package pricing

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmcloughlin/geohash"
	"googlemaps.github.io/maps"

	"ridedispatch/internal/modules/location"
	"ridedispatch/internal/types"
)

type RouteEstimator interface {
	Route(ctx context.Context, from, to types.Point) (float64, time.Duration, error)
}

// StraightLineEstimator assumes the great-circle distance at a fixed speed.
type StraightLineEstimator struct {
	SpeedKmh float64
}

func (e StraightLineEstimator) Route(_ context.Context, from, to types.Point) (float64, time.Duration, error) {
	speed := e.SpeedKmh
	if speed <= 0 {
		speed = 30
	}
	km := location.HaversineKm(from, to)
	return km, time.Duration(km / speed * float64(time.Hour)), nil
}

type directionsClient interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// MapsRouteEstimator asks Google Maps for the driving route.
type MapsRouteEstimator struct {
	client directionsClient
}

func NewMapsRouteEstimator(apiKey string) (*MapsRouteEstimator, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &MapsRouteEstimator{client: client}, nil
}

func (e *MapsRouteEstimator) Route(ctx context.Context, from, to types.Point) (float64, time.Duration, error) {
	routes, _, err := e.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:      from.String(),
		Destination: to.String(),
		Mode:        maps.TravelModeDriving,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, 0, errors.New("no route found")
	}

	var meters int
	var dur time.Duration
	for _, leg := range routes[0].Legs {
		meters += leg.Distance.Meters
		dur += leg.Duration
	}
	return float64(meters) / 1000, dur, nil
}

// geohashPrecision 7 buckets points into cells of roughly 150 m.
const geohashPrecision = 7

// defaultCacheEntries caps the number of cached routes.
const defaultCacheEntries = 10000

type cachedRoute struct {
	key     string
	km      float64
	dur     time.Duration
	expires time.Time
}

// CachedRouteEstimator memoizes routes between geohash cells and falls back
// when the upstream estimator fails. Entries share one TTL, so insertion
// order is expiry order and the oldest entry is evicted first.
type CachedRouteEstimator struct {
	next       RouteEstimator
	fallback   RouteEstimator
	ttl        time.Duration
	maxEntries int
	log        *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

func NewCachedRouteEstimator(next, fallback RouteEstimator, ttl time.Duration, log *slog.Logger) *CachedRouteEstimator {
	return &CachedRouteEstimator{
		next:       next,
		fallback:   fallback,
		ttl:        ttl,
		maxEntries: defaultCacheEntries,
		log:        log.With("component", "routes"),
		now:        time.Now,
		entries:    make(map[string]*list.Element),
		order:      list.New(),
	}
}

func routeKey(from, to types.Point) string {
	return geohash.EncodeWithPrecision(from.Lat, from.Lng, geohashPrecision) + ":" +
		geohash.EncodeWithPrecision(to.Lat, to.Lng, geohashPrecision)
}

func (c *CachedRouteEstimator) Route(ctx context.Context, from, to types.Point) (float64, time.Duration, error) {
	key := routeKey(from, to)
	now := c.now()

	if e, ok := c.lookup(key, now); ok {
		return e.km, e.dur, nil
	}

	km, dur, err := c.next.Route(ctx, from, to)
	if err != nil {
		if c.fallback == nil {
			return 0, 0, err
		}
		c.log.Warn("route lookup failed, using fallback", "route", key, "error", err)
		return c.fallback.Route(ctx, from, to)
	}

	c.store(cachedRoute{key: key, km: km, dur: dur, expires: now.Add(c.ttl)}, now)
	return km, dur, nil
}

// Len reports how many routes are cached.
func (c *CachedRouteEstimator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *CachedRouteEstimator) lookup(key string, now time.Time) (cachedRoute, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return cachedRoute{}, false
	}
	e := el.Value.(cachedRoute)
	if !now.Before(e.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		return cachedRoute{}, false
	}
	return e, true
}

func (c *CachedRouteEstimator) store(e cachedRoute, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[e.key]; ok {
		c.order.Remove(el)
	}
	c.entries[e.key] = c.order.PushBack(e)

	for front := c.order.Front(); front != nil; front = c.order.Front() {
		old := front.Value.(cachedRoute)
		if c.order.Len() <= c.maxEntries && now.Before(old.expires) {
			break
		}
		c.order.Remove(front)
		delete(c.entries, old.key)
	}
}
