// README: HTTP router registration.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"ridedispatch/internal/http/handlers"
	"ridedispatch/internal/http/middleware"
	"ridedispatch/internal/infra"
)

type RouterDeps struct {
	Dispatch       handlers.Dispatcher
	Events         handlers.EventStreamer
	Verifier       infra.TokenVerifier
	Log            *slog.Logger
	RequestTimeout time.Duration
	RatePerSecond  float64
	RateBurst      int
}

func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Logging(deps.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	limiter := middleware.NewRateLimiter(deps.RatePerSecond, deps.RateBurst)
	api := r.Group("/api", middleware.Auth(deps.Verifier), limiter.Middleware())

	rideHandler := handlers.NewRideHandler(deps.Dispatch, deps.Events)
	driverHandler := handlers.NewDriverHandler(deps.Dispatch)
	fleetHandler := handlers.NewFleetHandler(deps.Dispatch)

	// Streams live as long as the client, so they skip the request deadline.
	api.GET("/rides/:id/events", rideHandler.Events)

	timed := api.Group("", middleware.Timeout(deps.RequestTimeout))
	timed.POST("/rides", rideHandler.Request)
	timed.GET("/rides/:id", rideHandler.Get)
	timed.GET("/rides/:id/trail", rideHandler.Trail)
	timed.POST("/rides/:id/cancel", rideHandler.Cancel)
	timed.POST("/rides/:id/start", rideHandler.Start)
	timed.POST("/rides/:id/complete", rideHandler.Complete)
	timed.POST("/rides/:id/rating", rideHandler.Rate)

	timed.PUT("/drivers/:id/location", driverHandler.UpdateLocation)
	timed.PUT("/drivers/:id/availability", driverHandler.SetAvailability)
	timed.GET("/drivers/:id", driverHandler.Get)
	timed.GET("/drivers/:id/position", driverHandler.Position)

	timed.POST("/drivers", fleetHandler.RegisterDriver)
	timed.POST("/vehicles", fleetHandler.RegisterVehicle)

	return r
}
