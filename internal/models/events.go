package models

import "encoding/json"

// Envelope frames every message on the realtime connection.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client -> server events.
const (
	EventRegisterDriver       = "registerDriver"
	EventRegisterRider        = "registerRider"
	EventRequestRide          = "requestRide"
	EventAcceptRide           = "acceptRide"
	EventRejectRide           = "rejectRide"
	EventCancelRide           = "cancelRide"
	EventCompleteRide         = "completeRide"
	EventUpdateDriverLocation = "updateDriverLocation"
	EventLocationUpdate       = "locationUpdate"
	EventRequestOtp           = "requestOtp"
	EventVerifyOtp            = "verifyOtp"
)

// Server -> client events.
const (
	EventRegistrationAcknowledged   = "registrationAcknowledged"
	EventRideRequestAck             = "rideRequestAck"
	EventCaptainFound               = "captainFound"
	EventNoCaptainsAvailable        = "noCaptainsAvailable"
	EventNewRideRequest             = "newRideRequest"
	EventRideAccepted               = "rideAccepted"
	EventRideAcceptanceConfirmed    = "rideAcceptanceConfirmed"
	EventRideRejected               = "rideRejected"
	EventRideCancelled              = "rideCancelled"
	EventRideCompleted              = "rideCompleted"
	EventCancellationWindowExpired  = "cancellationWindowExpired"
	EventCaptainLocationUpdate      = "captainLocationUpdate"
	EventCounterpartyLocation       = "counterpartyLocation"
	EventRideOtpGenerated           = "rideOtpGenerated"
	EventOtpVerificationResult      = "otpVerificationResult"
	EventOtpVerified                = "otpVerified"
	EventError                      = "error"
)

// LatLng is the flat wire form of a coordinate pair used by location events.
// Lng is the legacy longitude alias and wins only when lon is absent.
type LatLng struct {
	Lat float64  `json:"lat"`
	Lon *float64 `json:"lon,omitempty"`
	Lng *float64 `json:"lng,omitempty"`
}

func (l LatLng) Coord() Coord {
	c := Coord{Lat: l.Lat}
	switch {
	case l.Lon != nil:
		c.Lon = *l.Lon
	case l.Lng != nil:
		c.Lon = *l.Lng
	}
	return c
}

type RegisterDriverPayload struct {
	DriverID string `json:"driver_id"`
	Location *Coord `json:"location,omitempty"`
	IsActive bool   `json:"is_active"`
}

type RegisterRiderPayload struct {
	RiderID string `json:"rider_id"`
}

type RequestRidePayload struct {
	RiderID    string  `json:"rider_id"`
	Pickup     Coord   `json:"pickup_location"`
	Dropoff    Coord   `json:"dropoff_location"`
	Price      float64 `json:"price"`
	DistanceKm float64 `json:"distance"`
	RideType   string  `json:"ride_type"`
}

type AcceptRidePayload struct {
	RideID   string `json:"ride_id"`
	DriverID string `json:"driver_id"`
}

type RejectRidePayload struct {
	RideID   string `json:"ride_id"`
	DriverID string `json:"driver_id"`
	Reason   string `json:"reason,omitempty"`
}

type CancelRidePayload struct {
	RideID      string `json:"ride_id"`
	CancelledBy Role   `json:"cancelled_by"`
	Reason      string `json:"reason,omitempty"`
}

type CompleteRidePayload struct {
	RideID   string `json:"ride_id"`
	DriverID string `json:"driver_id"`
}

type LocationUpdatePayload struct {
	RideID string `json:"ride_id"`
	Role   Role   `json:"role"`
	LatLng
}

type RequestOtpPayload struct {
	RideID   string `json:"ride_id"`
	RiderID  string `json:"rider_id"`
	DriverID string `json:"driver_id"`
}

type VerifyOtpPayload struct {
	RideID string `json:"ride_id"`
	Otp    string `json:"otp"`
}

// ErrorPayload is the typed error event surfaced to the initiating
// connection for every handler-level failure.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	RideID  string `json:"ride_id,omitempty"`
}

// Error codes for ErrorPayload.
const (
	CodeValidation    = "validation_error"
	CodeNotFound      = "not_found"
	CodeStateConflict = "state_conflict"
	CodeExpired       = "expired"
	CodeInvalidOtp    = "invalid_otp"
)
