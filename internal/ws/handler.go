package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-realtime/internal/geo"
	"github.com/example/ride-realtime/internal/lifecycle"
	"github.com/example/ride-realtime/internal/matcher"
	"github.com/example/ride-realtime/internal/models"
	"github.com/example/ride-realtime/internal/observability"
	"github.com/example/ride-realtime/internal/otp"
	"github.com/example/ride-realtime/internal/presence"
	"github.com/example/ride-realtime/internal/rides"
)

// LocationPublisher ships driver locations to the persistence pipeline.
type LocationPublisher interface {
	PublishLocation(loc models.DriverLocation) error
}

// Handler owns one websocket endpoint. Every connected client speaks
// enveloped events; the handler decodes, validates and routes them into the
// coordinator components, and maps component errors back onto the typed
// error event for the initiating connection.
type Handler struct {
	Registry  *presence.Registry
	Engine    *matcher.Engine
	Lifecycle *lifecycle.Coordinator
	OTP       *otp.Service
	Publisher LocationPublisher // optional
	Logger    *slog.Logger

	upgrader websocket.Upgrader
}

// connState tracks which party registered on this connection, filled in by
// the register events and used for defaults and disconnect cleanup.
type connState struct {
	partyID string
	role    models.Role
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	h.serve(conn)
}

func (h *Handler) serve(conn *websocket.Conn) {
	observability.WSConnections.Inc()
	sess := presence.NewSession(conn)
	st := &connState{}
	defer func() {
		observability.WSConnections.Dec()
		h.disconnect(conn, st)
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.sendError(sess, "", models.CodeValidation, "malformed envelope")
			continue
		}
		h.handle(sess, st, env)
	}
}

func (h *Handler) handle(sess *presence.Session, st *connState, env models.Envelope) {
	switch env.Event {
	case models.EventRegisterDriver:
		var p models.RegisterDriverPayload
		if !h.decode(sess, env.Data, &p) {
			return
		}
		if p.DriverID == "" {
			h.sendError(sess, "", models.CodeValidation, "driver_id is required")
			return
		}
		h.Registry.RegisterDriver(p.DriverID, sess, p.Location, p.IsActive)
		st.partyID, st.role = p.DriverID, models.RoleDriver
		_ = sess.Send(models.EventRegistrationAcknowledged, map[string]any{
			"driver_id": p.DriverID,
			"is_active": p.IsActive,
		})

	case models.EventRegisterRider:
		var p models.RegisterRiderPayload
		if !h.decode(sess, env.Data, &p) {
			return
		}
		if p.RiderID == "" {
			h.sendError(sess, "", models.CodeValidation, "rider_id is required")
			return
		}
		h.Registry.RegisterRider(p.RiderID, sess)
		st.partyID, st.role = p.RiderID, models.RoleRider

	case models.EventRequestRide:
		var p models.RequestRidePayload
		if !h.decode(sess, env.Data, &p) {
			return
		}
		if p.RiderID == "" && st.role == models.RoleRider {
			p.RiderID = st.partyID
		}
		rideID, err := h.Engine.Request(p)
		if err != nil {
			h.sendError(sess, "", models.CodeValidation, err.Error())
			return
		}
		if st.partyID == "" {
			// requesting implies presence; bind the connection as this rider
			h.Registry.RegisterRider(p.RiderID, sess)
			st.partyID, st.role = p.RiderID, models.RoleRider
		}
		_ = sess.Send(models.EventRideRequestAck, map[string]any{
			"status":  "searching",
			"ride_id": rideID,
		})
		h.Engine.Dispatch(rideID)

	case models.EventAcceptRide:
		var p models.AcceptRidePayload
		if !h.decode(sess, env.Data, &p) {
			return
		}
		if p.DriverID == "" {
			p.DriverID = st.partyID
		}
		if err := h.Lifecycle.Accept(p.RideID, p.DriverID); err != nil {
			h.fail(sess, p.RideID, err)
		}

	case models.EventRejectRide:
		var p models.RejectRidePayload
		if !h.decode(sess, env.Data, &p) {
			return
		}
		if p.DriverID == "" {
			p.DriverID = st.partyID
		}
		if err := h.Lifecycle.Reject(p.RideID, p.DriverID, p.Reason); err != nil {
			h.fail(sess, p.RideID, err)
		}

	case models.EventCancelRide:
		var p models.CancelRidePayload
		if !h.decode(sess, env.Data, &p) {
			return
		}
		if !p.CancelledBy.Valid() {
			p.CancelledBy = st.role
		}
		if !p.CancelledBy.Valid() {
			h.sendError(sess, p.RideID, models.CodeValidation, "cancelled_by must be rider or driver")
			return
		}
		if err := h.Lifecycle.Cancel(p.RideID, p.CancelledBy, p.Reason); err != nil {
			h.fail(sess, p.RideID, err)
		}

	case models.EventCompleteRide:
		var p models.CompleteRidePayload
		if !h.decode(sess, env.Data, &p) {
			return
		}
		if p.DriverID == "" {
			p.DriverID = st.partyID
		}
		if err := h.Lifecycle.Complete(p.RideID, p.DriverID); err != nil {
			h.fail(sess, p.RideID, err)
		}

	case models.EventUpdateDriverLocation:
		if st.role != models.RoleDriver {
			h.sendError(sess, "", models.CodeValidation, "not registered as a driver")
			return
		}
		var p models.LatLng
		if !h.decode(sess, env.Data, &p) {
			return
		}
		loc := p.Coord()
		if err := h.Registry.UpdateDriverLocation(st.partyID, loc); err != nil {
			if errors.Is(err, geo.ErrInvalidLocation) {
				h.sendError(sess, "", models.CodeValidation, "coordinates out of range")
			}
			return
		}
		if h.Publisher != nil {
			driverID := st.partyID
			go func() {
				if err := h.Publisher.PublishLocation(models.DriverLocation{
					DriverID: driverID, Lat: loc.Lat, Lon: loc.Lon, Online: true, Timestamp: time.Now(),
				}); err != nil {
					h.Logger.Debug("location publish failed", "driver_id", driverID, "error", err)
				}
			}()
		}
		h.Lifecycle.RelayDriverLocation(st.partyID, loc)

	case models.EventLocationUpdate:
		var p models.LocationUpdatePayload
		if !h.decode(sess, env.Data, &p) {
			return
		}
		role := p.Role
		if !role.Valid() {
			role = st.role
		}
		h.Lifecycle.Relay(p.RideID, role, p.Coord())

	case models.EventRequestOtp:
		var p models.RequestOtpPayload
		if !h.decode(sess, env.Data, &p) {
			return
		}
		if err := h.OTP.Request(p.RideID, p.RiderID, p.DriverID); err != nil {
			h.fail(sess, p.RideID, err)
		}

	case models.EventVerifyOtp:
		var p models.VerifyOtpPayload
		if !h.decode(sess, env.Data, &p) {
			return
		}
		result := map[string]any{"ride_id": p.RideID, "ok": true}
		switch err := h.OTP.Verify(p.RideID, p.Otp); {
		case err == nil:
		case errors.Is(err, otp.ErrExpired):
			result["ok"], result["reason"] = false, "expired"
		case errors.Is(err, otp.ErrInvalid):
			result["ok"], result["reason"] = false, "invalid"
		default:
			h.fail(sess, p.RideID, err)
			return
		}
		_ = sess.Send(models.EventOtpVerificationResult, result)

	default:
		h.sendError(sess, "", models.CodeValidation, "unknown event: "+env.Event)
	}
}

func (h *Handler) disconnect(conn *websocket.Conn, st *connState) {
	if st.partyID == "" {
		return
	}
	switch st.role {
	case models.RoleDriver:
		h.Registry.MarkOffline(st.partyID, conn)
	case models.RoleRider:
		h.Registry.RemoveRider(st.partyID, conn)
	}
}

func (h *Handler) decode(sess *presence.Session, data json.RawMessage, v any) bool {
	if len(data) == 0 {
		h.sendError(sess, "", models.CodeValidation, "missing payload")
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		h.sendError(sess, "", models.CodeValidation, "malformed payload")
		return false
	}
	return true
}

// fail maps component errors onto the typed error event.
func (h *Handler) fail(sess *presence.Session, rideID string, err error) {
	var conflict *rides.ConflictError
	code := models.CodeValidation
	switch {
	case errors.Is(err, rides.ErrNotFound), errors.Is(err, presence.ErrNoSession):
		code = models.CodeNotFound
	case errors.As(err, &conflict):
		code = models.CodeStateConflict
	case errors.Is(err, otp.ErrExpired):
		code = models.CodeExpired
	case errors.Is(err, otp.ErrInvalid):
		code = models.CodeInvalidOtp
	case errors.Is(err, geo.ErrInvalidLocation), errors.Is(err, matcher.ErrInvalidRequest):
		code = models.CodeValidation
	}
	h.sendError(sess, rideID, code, err.Error())
}

func (h *Handler) sendError(sess *presence.Session, rideID, code, msg string) {
	_ = sess.Send(models.EventError, models.ErrorPayload{Code: code, Message: msg, RideID: rideID})
}
