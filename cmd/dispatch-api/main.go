// README: Entry point; loads config, wires the dispatch services and serves the HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"ridedispatch/internal/config"
	httptransport "ridedispatch/internal/http"
	"ridedispatch/internal/infra"
	"ridedispatch/internal/logging"
	"ridedispatch/internal/modules/availability"
	"ridedispatch/internal/modules/dispatch"
	"ridedispatch/internal/modules/fleet"
	"ridedispatch/internal/modules/location"
	"ridedispatch/internal/modules/matching"
	"ridedispatch/internal/modules/notification"
	"ridedispatch/internal/modules/pricing"
	"ridedispatch/internal/modules/ride"
	"ridedispatch/internal/types"
)

const statsInterval = time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(os.Stdout, cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("dispatch-api stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var pool *pgxpool.Pool
	if cfg.DB.DSN != "" {
		p, err := infra.NewDB(ctx, cfg.DB.DSN)
		if err != nil {
			return err
		}
		defer p.Close()
		pool = p
	} else {
		log.Warn("no database configured, state is kept in memory")
	}

	var fbApp *firebase.App
	if cfg.Firebase.ProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
		if err != nil {
			return err
		}
		fbApp = app
	}

	verifier, err := newVerifier(ctx, cfg, fbApp)
	if err != nil {
		return err
	}

	// Storage.
	var (
		rideStore ride.Store     = ride.NewMemoryStore()
		trail     location.Trail = location.NewMemoryTrail()
		persister fleet.Persister
	)
	if pool != nil {
		rideStore = ride.NewPostgresStore(pool)
		trail = location.NewPostgresTrail(pool)
		persister = fleet.NewPostgresStore(pool)
	}

	registry := fleet.NewRegistry(persister, log)
	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("load fleet: %w", err)
	}

	// Location mirrors.
	var mirrors []location.Mirror
	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		mirrors = append(mirrors, location.NewRedisMirror(rdb))
	}
	if fbApp != nil && cfg.Firebase.DatabaseURL != "" {
		rtdb, err := fbApp.Database(ctx)
		if err != nil {
			return fmt.Errorf("firebase app.Database: %w", err)
		}
		mirrors = append(mirrors, location.NewRTDBMirror(rtdb))
	}

	// Notifications.
	hub := notification.NewHub(log)
	notifiers := notification.Fanout{hub}
	var payments ride.PaymentNotifier
	if cfg.AMQP.URL != "" {
		conn, err := infra.DialAMQP(ctx, cfg.AMQP.URL, log)
		if err != nil {
			return err
		}
		defer conn.Close()
		publisher, ch, err := notification.NewAMQPPublisher(conn, cfg.AMQP.Exchange, log)
		if err != nil {
			return err
		}
		defer ch.Close()
		notifiers = append(notifiers, publisher)
		payments = publisher
	}
	if fbApp != nil && cfg.Firebase.PushEnabled {
		client, err := fbApp.Messaging(ctx)
		if err != nil {
			return fmt.Errorf("firebase app.Messaging: %w", err)
		}
		notifiers = append(notifiers, notification.NewFCM(client))
	}

	// Pricing.
	loc, err := time.LoadLocation(cfg.Dispatch.PricingTimezone)
	if err != nil {
		return fmt.Errorf("pricing timezone: %w", err)
	}
	policy := pricing.NewPolicy(cfg.Dispatch.Currency, loc)
	if pool != nil {
		n, err := policy.LoadRates(ctx, pricing.NewStore(pool))
		if err != nil {
			return fmt.Errorf("load pricing rates: %w", err)
		}
		log.Info("pricing rates loaded", "count", n)
	}
	var routes pricing.RouteEstimator = pricing.StraightLineEstimator{}
	if cfg.Maps.APIKey != "" {
		mapsRoutes, err := pricing.NewMapsRouteEstimator(cfg.Maps.APIKey)
		if err != nil {
			return err
		}
		routes = pricing.NewCachedRouteEstimator(mapsRoutes, routes, cfg.Maps.CacheTTL, log)
	}

	d := cfg.Dispatch
	index := availability.NewIndex()
	positions := location.NewStore()
	machine := ride.NewMachine(ride.Deps{
		Store:        rideStore,
		Pricing:      policy,
		Routes:       routes,
		Availability: index,
		Fleet:        registry,
		Trail:        trail,
		Notifier:     notifiers,
		Payments:     payments,
		Log:          log,
	}, ride.Options{
		PricingTimeout: d.PricingTimeout,
		NotifyTimeout:  d.NotifyTimeout,
		FlatEstimate:   types.Money{Amount: d.FlatEstimateCents, Currency: d.Currency},
	})
	engine := matching.NewEngine(positions, index, registry, matching.Config{
		RadiusKm:  d.SearchRadiusKm,
		Freshness: d.LocationFreshness,
	}, log)
	locations := location.NewService(positions, trail, log, mirrors...)
	locations.SetMaxClockSkew(d.MaxClockSkew)
	coord := dispatch.NewCoordinator(machine, engine, locations, index, registry, d, log)
	defer coord.Close()
	if _, err := coord.Recover(ctx); err != nil {
		return fmt.Errorf("recover dispatch state: %w", err)
	}

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Dispatch:       coord,
		Events:         hub,
		Verifier:       verifier,
		Log:            log,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		RatePerSecond:  cfg.HTTP.RatePerSecond,
		RateBurst:      cfg.HTTP.RateBurst,
	})
	server := httptransport.NewServer(cfg.HTTP.Addr, router, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		reportStats(gctx, log, coord, index)
		return nil
	})
	g.Go(func() error {
		registry.Refresh(gctx, d.FleetRefresh)
		return nil
	})
	return g.Wait()
}

// newVerifier prefers Firebase Auth and falls back to HS256 tokens.
func newVerifier(ctx context.Context, cfg config.Config, app *firebase.App) (infra.TokenVerifier, error) {
	if app != nil {
		return infra.NewFirebaseVerifier(ctx, app)
	}
	if cfg.Auth.JWTSecret != "" {
		return infra.NewJWTVerifier(cfg.Auth.JWTSecret), nil
	}
	return nil, errors.New("no token verifier: set DISPATCH_FIREBASE_PROJECT_ID or DISPATCH_JWT_SECRET")
}

func reportStats(ctx context.Context, log *slog.Logger, coord *dispatch.Coordinator, index *availability.Index) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info("dispatch stats",
				"pending_retries", coord.PendingRetries(),
				"available_drivers", len(index.Available()),
			)
		}
	}
}
