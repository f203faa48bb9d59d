package models

import (
	"encoding/json"
	"time"
)

// Role identifies which side of a ride a party is on.
type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

func (r Role) Valid() bool { return r == RoleRider || r == RoleDriver }

// Counterpart returns the opposite role.
func (r Role) Counterpart() Role {
	if r == RoleRider {
		return RoleDriver
	}
	return RoleRider
}

// Coord is a WGS84 point. "lon" is the canonical longitude field; the wire
// historically also carried "lng", which is still accepted on input.
type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func (c *Coord) UnmarshalJSON(b []byte) error {
	var raw struct {
		Lat float64  `json:"lat"`
		Lon *float64 `json:"lon"`
		Lng *float64 `json:"lng"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	c.Lat = raw.Lat
	c.Lon = 0
	switch {
	case raw.Lon != nil:
		c.Lon = *raw.Lon
	case raw.Lng != nil:
		c.Lon = *raw.Lng
	}
	return nil
}

// RideStatus is the single authoritative lifecycle state of a ride.
type RideStatus string

const (
	StatusPending         RideStatus = "pending"
	StatusPendingResponse RideStatus = "pending_response"
	StatusAccepted        RideStatus = "accepted"
	StatusUnassigned      RideStatus = "unassigned"
	StatusInProgress      RideStatus = "in_progress"
	StatusCompleted       RideStatus = "completed"
	StatusCancelled       RideStatus = "cancelled"
)

func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Ride is a live ride request record. Rejected holds every driver that has
// rejected or timed out on this ride; the set only grows.
type Ride struct {
	ID              string
	RiderID         string
	DriverID        string // empty until a driver is assigned
	Pickup          Coord
	Dropoff         Coord
	Price           float64
	DistanceKm      float64
	RideType        string
	Status          RideStatus
	Rejected        map[string]bool
	PaymentRef      string
	WindowExpiresAt time.Time // zero until accepted
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DriverLocation is the message published to the location persistence
// pipeline and drained into Redis by the consumer.
type DriverLocation struct {
	DriverID  string    `json:"driver_id"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

// DriverProfile is the public driver record served by the REST user store.
type DriverProfile struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Vehicle string  `json:"vehicle"`
	Plate   string  `json:"plate"`
	Rating  float64 `json:"rating"`
}
