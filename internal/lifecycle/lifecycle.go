package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-realtime/internal/models"
	"github.com/example/ride-realtime/internal/observability"
	"github.com/example/ride-realtime/internal/rides"
)

// Notifier delivers events to a party's current connection.
type Notifier interface {
	ToRider(riderID, event string, data any) error
	ToDriver(driverID, event string, data any) error
}

// DriverPool frees a driver's in-ride flag when a ride ends.
type DriverPool interface {
	ReleaseDriver(driverID string)
}

// Requeuer puts a rejected ride back through matching.
type Requeuer interface {
	Requeue(rideID, driverID string)
}

// Archive persists accepted and terminal rides, best-effort.
type Archive interface {
	SaveRide(r *models.Ride) error
	UpdateRide(r *models.Ride) error
}

// Payments manages the fare hold tied to a ride. Implemented by the stripe
// client; nil disables payments entirely.
type Payments interface {
	HoldFare(ctx context.Context, r models.Ride) (string, error)
	CaptureFare(ctx context.Context, ref string) error
	ReleaseFare(ctx context.Context, ref string) error
}

// Profiles fetches driver public profiles from the REST user store.
type Profiles interface {
	DriverProfile(ctx context.Context, driverID string) (*models.DriverProfile, error)
}

// Coordinator drives the post-match ride lifecycle: accept, reject, cancel,
// the cancellation window, OTP-gated start handoff, completion and the
// location relay between the two parties.
type Coordinator struct {
	Store   *rides.Store
	Drivers DriverPool
	Notify  Notifier
	Matcher Requeuer
	Logger  *slog.Logger

	Archive  Archive  // optional
	Payments Payments // optional
	Profiles Profiles // optional

	CancelWindow time.Duration
}

// Accept handles a driver confirming an offered ride. Valid only while the
// ride is pending_response and assigned to this driver. A duplicate accept
// by the same driver is acknowledged as a no-op, not an error.
func (c *Coordinator) Accept(rideID, driverID string) error {
	r, err := c.Store.AcceptBy(rideID, driverID, c.CancelWindow)
	if err == rides.ErrAlreadyAccepted {
		_ = c.Notify.ToDriver(driverID, models.EventRideAcceptanceConfirmed, map[string]any{
			"ride_id":   rideID,
			"duplicate": true,
		})
		return nil
	}
	if err != nil {
		return err
	}
	observability.AcceptsTotal.Inc()
	c.Logger.Info("ride accepted", "ride_id", rideID, "driver_id", driverID)

	c.Store.Schedule(rideID, rides.TimerWindow, c.CancelWindow, func() { c.onWindowExpired(rideID) })

	accepted := map[string]any{
		"ride_id":           r.ID,
		"driver_id":         driverID,
		"pickup_location":   r.Pickup,
		"dropoff_location":  r.Dropoff,
		"price":             r.Price,
		"cancel_window_sec": int(c.CancelWindow / time.Second),
	}
	if c.Profiles != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if p, err := c.Profiles.DriverProfile(ctx, driverID); err == nil {
			accepted["driver"] = p
		}
		cancel()
	}
	_ = c.Notify.ToRider(r.RiderID, models.EventRideAccepted, accepted)
	_ = c.Notify.ToDriver(driverID, models.EventRideAcceptanceConfirmed, map[string]any{
		"ride_id":  r.ID,
		"rider_id": r.RiderID,
	})

	if c.Payments != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			ref, err := c.Payments.HoldFare(ctx, r)
			if err != nil {
				c.Logger.Warn("fare hold failed", "ride_id", r.ID, "error", err)
				return
			}
			c.Store.Update(r.ID, func(r *models.Ride) { r.PaymentRef = ref })
		}()
	}
	if c.Archive != nil {
		saved := r
		go func() {
			if err := c.Archive.SaveRide(&saved); err != nil {
				c.Logger.Warn("ride archive save failed", "ride_id", saved.ID, "error", err)
			}
		}()
	}
	return nil
}

// Reject is the assigned driver declining early; it behaves exactly like
// the response timer firing. A reject for a ride that already advanced is a
// guarded no-op inside Requeue.
func (c *Coordinator) Reject(rideID, driverID, reason string) error {
	r, ok := c.Store.Get(rideID)
	if !ok {
		return rides.ErrNotFound
	}
	if r.Status != models.StatusPendingResponse || r.DriverID != driverID {
		return &rides.ConflictError{RideID: rideID, Status: r.Status, Op: "reject"}
	}
	observability.OfferRejectsTotal.Inc()
	c.Logger.Info("ride rejected", "ride_id", rideID, "driver_id", driverID, "reason", reason)
	_ = c.Notify.ToRider(r.RiderID, models.EventRideRejected, map[string]any{
		"ride_id": rideID,
		"reason":  reason,
	})
	c.Matcher.Requeue(rideID, driverID)
	return nil
}

// Cancel ends a non-terminal ride on behalf of either party. The counterpart
// (and only the counterpart) is notified. Cancels after the window has
// expired are still honored; the expiry notification is the client's cue to
// apply friction, not a server-side hard stop.
func (c *Coordinator) Cancel(rideID string, by models.Role, reason string) error {
	if !by.Valid() {
		return rides.ErrNotFound
	}
	r, err := c.Store.Terminate(rideID, models.StatusCancelled)
	if err != nil {
		return err
	}
	observability.CancellationsTotal.WithLabelValues(string(by)).Inc()
	c.Logger.Info("ride cancelled", "ride_id", rideID, "cancelled_by", by, "reason", reason)

	if r.DriverID != "" {
		c.Drivers.ReleaseDriver(r.DriverID)
	}
	payload := map[string]any{
		"ride_id":      rideID,
		"cancelled_by": by,
		"reason":       reason,
	}
	if by == models.RoleRider {
		if r.DriverID != "" {
			_ = c.Notify.ToDriver(r.DriverID, models.EventRideCancelled, payload)
		}
	} else {
		_ = c.Notify.ToRider(r.RiderID, models.EventRideCancelled, payload)
	}
	c.releaseHold(r)
	c.archiveTerminal(r)
	return nil
}

// Complete ends an accepted or in-progress ride, captures the fare hold and
// notifies both parties.
func (c *Coordinator) Complete(rideID, driverID string) error {
	r, err := c.Store.TerminateIf(rideID, models.StatusCompleted, func(r *models.Ride) bool {
		if r.DriverID != driverID {
			return false
		}
		return r.Status == models.StatusAccepted || r.Status == models.StatusInProgress
	})
	if err != nil {
		return err
	}
	observability.CompletionsTotal.Inc()
	c.Logger.Info("ride completed", "ride_id", rideID, "driver_id", driverID)
	c.Drivers.ReleaseDriver(driverID)

	done := map[string]any{"ride_id": rideID}
	_ = c.Notify.ToRider(r.RiderID, models.EventRideCompleted, done)
	_ = c.Notify.ToDriver(driverID, models.EventRideCompleted, done)

	if c.Payments != nil && r.PaymentRef != "" {
		ref := r.PaymentRef
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.Payments.CaptureFare(ctx, ref); err != nil {
				c.Logger.Warn("fare capture failed", "ride_id", rideID, "error", err)
			}
		}()
	}
	c.archiveTerminal(r)
	return nil
}

// IsCancelAllowed reports whether the ride is still inside its cancellation
// window. Rides not yet accepted are always cancellable.
func (c *Coordinator) IsCancelAllowed(rideID string) bool {
	r, ok := c.Store.Get(rideID)
	if !ok {
		return false
	}
	if r.WindowExpiresAt.IsZero() {
		return !r.Status.Terminal()
	}
	return time.Now().Before(r.WindowExpiresAt)
}

// onWindowExpired tells both parties the free-cancellation window closed.
// The ride stays accepted; nothing else happens automatically.
func (c *Coordinator) onWindowExpired(rideID string) {
	r, ok := c.Store.Get(rideID)
	if !ok || r.Status != models.StatusAccepted {
		return
	}
	c.Logger.Info("cancellation window expired", "ride_id", rideID)
	payload := map[string]any{"ride_id": rideID}
	_ = c.Notify.ToRider(r.RiderID, models.EventCancellationWindowExpired, payload)
	_ = c.Notify.ToDriver(r.DriverID, models.EventCancellationWindowExpired, payload)
}

// Relay forwards a party's live position to the ride counterpart only.
// Best-effort and high-frequency: unknown rides and missing counterpart
// connections are dropped silently.
func (c *Coordinator) Relay(rideID string, from models.Role, loc models.Coord) {
	r, ok := c.Store.Get(rideID)
	if !ok || !from.Valid() {
		observability.LocationDropsTotal.Inc()
		return
	}
	payload := map[string]any{
		"ride_id":  rideID,
		"role":     from,
		"location": loc,
	}
	var err error
	if from == models.RoleRider {
		if r.DriverID == "" {
			observability.LocationDropsTotal.Inc()
			return
		}
		err = c.Notify.ToDriver(r.DriverID, models.EventCounterpartyLocation, payload)
	} else {
		err = c.Notify.ToRider(r.RiderID, models.EventCounterpartyLocation, payload)
	}
	if err != nil {
		observability.LocationDropsTotal.Inc()
		return
	}
	observability.LocationRelaysTotal.Inc()
}

// RelayDriverLocation pushes a driver's presence update to the rider of the
// driver's active ride, if there is one.
func (c *Coordinator) RelayDriverLocation(driverID string, loc models.Coord) {
	r, ok := c.Store.ActiveByDriver(driverID)
	if !ok {
		return
	}
	if c.Notify.ToRider(r.RiderID, models.EventCaptainLocationUpdate, map[string]any{
		"ride_id":  r.ID,
		"location": loc,
	}) == nil {
		observability.LocationRelaysTotal.Inc()
	} else {
		observability.LocationDropsTotal.Inc()
	}
}

func (c *Coordinator) releaseHold(r models.Ride) {
	if c.Payments == nil || r.PaymentRef == "" {
		return
	}
	ref := r.PaymentRef
	id := r.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Payments.ReleaseFare(ctx, ref); err != nil {
			c.Logger.Warn("fare release failed", "ride_id", id, "error", err)
		}
	}()
}

func (c *Coordinator) archiveTerminal(r models.Ride) {
	if c.Archive == nil {
		return
	}
	saved := r
	go func() {
		if err := c.Archive.UpdateRide(&saved); err != nil {
			c.Logger.Warn("ride archive update failed", "ride_id", saved.ID, "error", err)
		}
	}()
}
