package otp

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-realtime/internal/models"
	"github.com/example/ride-realtime/internal/observability"
	"github.com/example/ride-realtime/internal/rides"
)

var (
	// ErrExpired reports a verification attempt with no live code for the
	// ride, either never requested or already swept.
	ErrExpired = errors.New("otp expired")
	// ErrInvalid reports a code mismatch.
	ErrInvalid = errors.New("otp invalid")
)

// Notifier delivers events to a party's current connection.
type Notifier interface {
	ToRider(riderID, event string, data any) error
	ToDriver(driverID, event string, data any) error
}

type record struct {
	code        string
	riderID     string
	driverID    string
	generatedAt time.Time
	verified    bool
}

// Service issues and checks the one-time codes gating the accepted ->
// in_progress transition. One record per ride; a re-request supersedes the
// prior code. A background sweep bounds memory, deleting records older than
// TTL regardless of verification state.
type Service struct {
	Store  *rides.Store
	Notify Notifier
	Logger *slog.Logger

	TTL        time.Duration
	SweepEvery time.Duration

	mu    sync.Mutex
	codes map[string]*record
	now   func() time.Time
}

func NewService(store *rides.Store, notify Notifier, logger *slog.Logger, ttl, sweepEvery time.Duration) *Service {
	return &Service{
		Store:      store,
		Notify:     notify,
		Logger:     logger,
		TTL:        ttl,
		SweepEvery: sweepEvery,
		codes:      make(map[string]*record),
		now:        time.Now,
	}
}

// Request generates a 6-digit code for the ride and delivers it to the
// rider's connection only. Any prior code for the ride is superseded.
func (s *Service) Request(rideID, riderID, driverID string) error {
	r, ok := s.Store.Get(rideID)
	if !ok {
		return rides.ErrNotFound
	}
	if riderID == "" {
		riderID = r.RiderID
	}
	if driverID == "" {
		driverID = r.DriverID
	}
	code := sixDigits()

	s.mu.Lock()
	s.codes[rideID] = &record{
		code:        code,
		riderID:     riderID,
		driverID:    driverID,
		generatedAt: s.now(),
	}
	s.mu.Unlock()

	s.Logger.Info("otp generated", "ride_id", rideID)
	_ = s.Notify.ToRider(riderID, models.EventRideOtpGenerated, map[string]any{
		"ride_id": rideID,
		"otp":     code,
	})
	return nil
}

// Verify checks a driver-submitted code. On success the ride moves to
// in_progress and both parties hear about it exactly once.
func (s *Service) Verify(rideID, submitted string) error {
	s.mu.Lock()
	rec, ok := s.codes[rideID]
	if !ok {
		s.mu.Unlock()
		observability.OtpVerificationsTotal.WithLabelValues("expired").Inc()
		return ErrExpired
	}
	if rec.code != submitted {
		s.mu.Unlock()
		observability.OtpVerificationsTotal.WithLabelValues("invalid").Inc()
		return ErrInvalid
	}
	already := rec.verified
	riderID, driverID := rec.riderID, rec.driverID
	s.mu.Unlock()

	if already {
		// re-submission of an already verified code; the ride has moved on
		return nil
	}
	if _, err := s.Store.Start(rideID); err != nil {
		return err
	}
	s.mu.Lock()
	rec.verified = true
	s.mu.Unlock()
	observability.OtpVerificationsTotal.WithLabelValues("ok").Inc()
	s.Logger.Info("otp verified", "ride_id", rideID)
	payload := map[string]any{"ride_id": rideID}
	_ = s.Notify.ToRider(riderID, models.EventOtpVerified, payload)
	_ = s.Notify.ToDriver(driverID, models.EventOtpVerified, payload)
	return nil
}

// Drop discards the code for a ride, used when the ride ends.
func (s *Service) Drop(rideID string) {
	s.mu.Lock()
	delete(s.codes, rideID)
	s.mu.Unlock()
}

// RunSweeper deletes stale records every SweepEvery until ctx is done.
func (s *Service) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sweep(s.now()); n > 0 {
				s.Logger.Info("otp sweep", "removed", n)
			}
		}
	}
}

func (s *Service) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, rec := range s.codes {
		if now.Sub(rec.generatedAt) > s.TTL {
			delete(s.codes, id)
			removed++
		}
	}
	return removed
}

func sixDigits() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	n := binary.BigEndian.Uint64(b[:]) % 1000000
	return fmt.Sprintf("%06d", n)
}
