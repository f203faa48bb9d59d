package matcher

import (
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-realtime/internal/geo"
	"github.com/example/ride-realtime/internal/models"
	"github.com/example/ride-realtime/internal/observability"
	"github.com/example/ride-realtime/internal/rides"
)

// ErrInvalidRequest reports a ride request with a missing rider id or
// malformed coordinates.
var ErrInvalidRequest = errors.New("invalid ride request")

// Notifier delivers events to a party's current connection. Resolution of
// the connection happens at send time, so a reconnect mid-ride is picked up
// automatically.
type Notifier interface {
	ToRider(riderID, event string, data any) error
	ToDriver(driverID, event string, data any) error
}

// DriverPool is the slice of the presence registry the engine needs.
type DriverPool interface {
	CandidateDrivers() []geo.DriverPoint
	ClaimDriver(driverID string) bool
	ReleaseDriver(driverID string)
}

// Engine selects the nearest eligible driver for a ride and runs the
// offer/response loop. The loop is bounded by the shrinking eligible pool
// and the overall request timer, not by a retry count.
type Engine struct {
	Store   *rides.Store
	Drivers DriverPool
	Notify  Notifier
	Logger  *slog.Logger

	RadiusKm        float64
	ResponseTimeout time.Duration
	RequestTimeout  time.Duration
}

// Request validates and stores a new ride request and arms the overall
// matching deadline. Dispatch is a separate call so the caller can
// acknowledge the request before match events start flowing.
func (e *Engine) Request(p models.RequestRidePayload) (string, error) {
	if p.RiderID == "" {
		return "", ErrInvalidRequest
	}
	if geo.Validate(p.Pickup) != nil || geo.Validate(p.Dropoff) != nil {
		return "", ErrInvalidRequest
	}
	r := &models.Ride{
		ID:         uuid.NewString(),
		RiderID:    p.RiderID,
		Pickup:     p.Pickup,
		Dropoff:    p.Dropoff,
		Price:      p.Price,
		DistanceKm: p.DistanceKm,
		RideType:   p.RideType,
	}
	e.Store.Create(r)
	e.Store.Schedule(r.ID, rides.TimerRequest, e.RequestTimeout, func() { e.onRequestTimeout(r.ID) })
	observability.RideRequestsTotal.Inc()
	e.Logger.Info("ride requested", "ride_id", r.ID, "rider_id", r.RiderID)
	return r.ID, nil
}

// Dispatch recomputes the eligible-driver set for a pending or unassigned
// ride and offers it to the closest claimable driver. With no candidates the
// rider is told and the ride stays put for the overall timer to reap.
func (e *Engine) Dispatch(rideID string) {
	r, ok := e.Store.Get(rideID)
	if !ok {
		return
	}
	if r.Status != models.StatusPending && r.Status != models.StatusUnassigned {
		return
	}
	cands := geo.Eligible(r.Pickup, e.Drivers.CandidateDrivers(), r.Rejected, e.RadiusKm)
	for _, c := range cands {
		if !e.Drivers.ClaimDriver(c.ID) {
			continue
		}
		assigned, err := e.Store.AssignDriver(rideID, c.ID)
		if err != nil {
			// ride advanced or vanished between the snapshot and the claim
			e.Drivers.ReleaseDriver(c.ID)
			return
		}
		e.offer(assigned, c)
		return
	}
	observability.NoDriversTotal.Inc()
	e.Logger.Info("no eligible drivers", "ride_id", rideID, "rejected", len(r.Rejected))
	_ = e.Notify.ToRider(r.RiderID, models.EventNoCaptainsAvailable, map[string]any{
		"ride_id": rideID,
	})
}

func (e *Engine) offer(r models.Ride, c geo.Candidate) {
	observability.OffersTotal.Inc()
	e.Logger.Info("driver offered", "ride_id", r.ID, "driver_id", c.ID, "distance_km", c.DistanceKm)
	_ = e.Notify.ToDriver(c.ID, models.EventNewRideRequest, map[string]any{
		"ride_id":            r.ID,
		"rider_id":           r.RiderID,
		"pickup_location":    r.Pickup,
		"dropoff_location":   r.Dropoff,
		"price":              r.Price,
		"distance":           r.DistanceKm,
		"ride_type":          r.RideType,
		"distance_to_pickup": c.DistanceKm,
		"respond_within_sec": int(e.ResponseTimeout / time.Second),
	})
	_ = e.Notify.ToRider(r.RiderID, models.EventCaptainFound, map[string]any{
		"ride_id":   r.ID,
		"driver_id": c.ID,
	})
	e.Store.Schedule(r.ID, rides.TimerResponse, e.ResponseTimeout, func() {
		e.onResponseTimeout(r.ID, c.ID)
	})
}

// Requeue puts a ride back into matching after the assigned driver rejected
// it or let the response window lapse. Guarded: if the ride already
// advanced to accepted (or further) this is a no-op.
func (e *Engine) Requeue(rideID, driverID string) {
	r, err := e.Store.RequeueFrom(rideID, driverID)
	if err != nil {
		return
	}
	e.Drivers.ReleaseDriver(driverID)
	e.Logger.Info("ride requeued", "ride_id", rideID, "driver_id", driverID)
	e.Dispatch(r.ID)
}

func (e *Engine) onResponseTimeout(rideID, driverID string) {
	observability.OfferTimeoutsTotal.Inc()
	e.Requeue(rideID, driverID)
}

// onRequestTimeout reaps a ride the matching loop never placed. An
// outstanding offer is revoked; an accepted ride is left alone.
func (e *Engine) onRequestTimeout(rideID string) {
	r, err := e.Store.TerminateIf(rideID, models.StatusCancelled, func(r *models.Ride) bool {
		switch r.Status {
		case models.StatusPending, models.StatusUnassigned, models.StatusPendingResponse:
			return true
		}
		return false
	})
	if err != nil {
		return
	}
	if r.DriverID != "" {
		e.Drivers.ReleaseDriver(r.DriverID)
		_ = e.Notify.ToDriver(r.DriverID, models.EventRideCancelled, map[string]any{
			"ride_id":      r.ID,
			"cancelled_by": "system",
			"reason":       "request timed out",
		})
	}
	observability.NoDriversTotal.Inc()
	e.Logger.Info("ride request timed out", "ride_id", rideID)
	_ = e.Notify.ToRider(r.RiderID, models.EventNoCaptainsAvailable, map[string]any{
		"ride_id": rideID,
		"reason":  "request timed out",
	})
}
