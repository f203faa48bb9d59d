package rides

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-realtime/internal/models"
)

var (
	// ErrNotFound reports an unknown ride id.
	ErrNotFound = errors.New("ride not found")
	// ErrAlreadyAccepted reports a duplicate accept by the assigned driver.
	ErrAlreadyAccepted = errors.New("ride already accepted")
)

// ConflictError reports an operation that is illegal in the ride's current
// status. It never corrupts state; the caller surfaces it and moves on.
type ConflictError struct {
	RideID string
	Status models.RideStatus
	Op     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ride %s: cannot %s in status %s", e.RideID, e.Op, e.Status)
}

// TimerKind names the cancellable timers a ride can own. At most one timer
// per kind exists per ride; scheduling replaces any prior timer of the same
// kind.
type TimerKind string

const (
	TimerResponse TimerKind = "response"      // 30s driver accept/reject window
	TimerRequest  TimerKind = "request"       // 60s overall matching deadline
	TimerWindow   TimerKind = "cancel_window" // 10s post-accept cancellation window
)

// Store is the in-memory ride table plus the cancellable-timer map keyed by
// ride id. Every state transition goes through a status-guarded method under
// the store lock, so competing handlers (an accept racing the response
// timeout, say) resolve deterministically: the first to observe the guard
// wins and the loser becomes a no-op.
type Store struct {
	mu     sync.Mutex
	rides  map[string]*models.Ride
	timers map[string]map[TimerKind]*time.Timer
}

func NewStore() *Store {
	return &Store{
		rides:  make(map[string]*models.Ride),
		timers: make(map[string]map[TimerKind]*time.Timer),
	}
}

// Create inserts a new ride in pending status.
func (s *Store) Create(r *models.Ride) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	r.Status = models.StatusPending
	if r.Rejected == nil {
		r.Rejected = make(map[string]bool)
	}
	r.CreatedAt = now
	r.UpdatedAt = now
	s.rides[r.ID] = r
}

// Get returns a copy of the ride. The Rejected map is shared and must be
// treated as read-only by callers.
func (s *Store) Get(id string) (models.Ride, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return models.Ride{}, false
	}
	return *r, true
}

// Len reports the number of live rides.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rides)
}

// Update applies fn to the ride under the store lock.
func (s *Store) Update(id string, fn func(*models.Ride)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return false
	}
	fn(r)
	r.UpdatedAt = time.Now()
	return true
}

// AssignDriver transitions pending|unassigned -> pending_response and
// records the assigned driver.
func (s *Store) AssignDriver(id, driverID string) (models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return models.Ride{}, ErrNotFound
	}
	if r.Status != models.StatusPending && r.Status != models.StatusUnassigned {
		return models.Ride{}, &ConflictError{RideID: id, Status: r.Status, Op: "assign driver"}
	}
	r.Status = models.StatusPendingResponse
	r.DriverID = driverID
	r.UpdatedAt = time.Now()
	return *r, nil
}

// RequeueFrom transitions pending_response -> unassigned, provided driverID
// is still the assigned driver. The driver joins the rejected set and is
// never offered this ride again. A ride that already advanced (accepted,
// cancelled) is left untouched.
func (s *Store) RequeueFrom(id, driverID string) (models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return models.Ride{}, ErrNotFound
	}
	if r.Status != models.StatusPendingResponse || r.DriverID != driverID {
		return models.Ride{}, &ConflictError{RideID: id, Status: r.Status, Op: "requeue"}
	}
	r.Rejected[driverID] = true
	r.DriverID = ""
	r.Status = models.StatusUnassigned
	r.UpdatedAt = time.Now()
	s.stopTimerLocked(id, TimerResponse)
	return *r, nil
}

// AcceptBy transitions pending_response -> accepted for the assigned driver
// and stamps the cancellation window deadline. A duplicate accept by the
// same driver returns ErrAlreadyAccepted so the caller can acknowledge it
// as a no-op rather than an error.
func (s *Store) AcceptBy(id, driverID string, window time.Duration) (models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return models.Ride{}, ErrNotFound
	}
	if r.Status == models.StatusAccepted && r.DriverID == driverID {
		return *r, ErrAlreadyAccepted
	}
	if r.Status != models.StatusPendingResponse || r.DriverID != driverID {
		return models.Ride{}, &ConflictError{RideID: id, Status: r.Status, Op: "accept"}
	}
	r.Status = models.StatusAccepted
	r.WindowExpiresAt = time.Now().Add(window)
	r.UpdatedAt = time.Now()
	s.stopTimerLocked(id, TimerResponse)
	s.stopTimerLocked(id, TimerRequest)
	return *r, nil
}

// Start transitions accepted -> in_progress after a successful OTP
// verification.
func (s *Store) Start(id string) (models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return models.Ride{}, ErrNotFound
	}
	if r.Status != models.StatusAccepted {
		return models.Ride{}, &ConflictError{RideID: id, Status: r.Status, Op: "start"}
	}
	r.Status = models.StatusInProgress
	r.UpdatedAt = time.Now()
	s.stopTimerLocked(id, TimerWindow)
	return *r, nil
}

// Terminate moves any non-terminal ride to the given terminal status,
// removes it from the live table and cancels all of its timers. The removed
// ride is returned for archival and notification.
func (s *Store) Terminate(id string, to models.RideStatus) (models.Ride, error) {
	if !to.Terminal() {
		return models.Ride{}, fmt.Errorf("terminate to non-terminal status %s", to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return models.Ride{}, ErrNotFound
	}
	if r.Status.Terminal() {
		return models.Ride{}, &ConflictError{RideID: id, Status: r.Status, Op: "terminate"}
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	out := *r
	delete(s.rides, id)
	s.stopAllTimersLocked(id)
	return out, nil
}

// TerminateIf is Terminate with an extra predicate evaluated under the
// store lock, for guards beyond the status check.
func (s *Store) TerminateIf(id string, to models.RideStatus, pred func(*models.Ride) bool) (models.Ride, error) {
	if !to.Terminal() {
		return models.Ride{}, fmt.Errorf("terminate to non-terminal status %s", to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rides[id]
	if !ok {
		return models.Ride{}, ErrNotFound
	}
	if r.Status.Terminal() || !pred(r) {
		return models.Ride{}, &ConflictError{RideID: id, Status: r.Status, Op: "terminate"}
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	out := *r
	delete(s.rides, id)
	s.stopAllTimersLocked(id)
	return out, nil
}

// ActiveByDriver finds the ride a driver is currently engaged in, if any.
// Naive scan; the live table is small.
func (s *Store) ActiveByDriver(driverID string) (models.Ride, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rides {
		if r.DriverID == driverID &&
			(r.Status == models.StatusAccepted || r.Status == models.StatusInProgress) {
			return *r, true
		}
	}
	return models.Ride{}, false
}

// Schedule arms a timer of the given kind for a ride, replacing any prior
// timer of that kind. The callback runs on its own goroutine and must
// re-check ride status before acting; a stale timer firing after the ride
// advanced has to be a no-op.
func (s *Store) Schedule(id string, kind TimerKind, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rides[id]; !ok {
		return
	}
	s.stopTimerLocked(id, kind)
	m := s.timers[id]
	if m == nil {
		m = make(map[TimerKind]*time.Timer)
		s.timers[id] = m
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		// remove our own entry, but only if we are still the registered
		// timer; a replacement scheduled while we were firing stays armed
		s.mu.Lock()
		if m, ok := s.timers[id]; ok && m[kind] == t {
			delete(m, kind)
			if len(m) == 0 {
				delete(s.timers, id)
			}
		}
		s.mu.Unlock()
		fn()
	})
	m[kind] = t
}

// StopTimer cancels one timer kind for a ride if present.
func (s *Store) StopTimer(id string, kind TimerKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked(id, kind)
}

func (s *Store) stopTimerLocked(id string, kind TimerKind) {
	if m, ok := s.timers[id]; ok {
		if t, ok := m[kind]; ok {
			t.Stop()
			delete(m, kind)
		}
		if len(m) == 0 {
			delete(s.timers, id)
		}
	}
}

func (s *Store) stopAllTimersLocked(id string) {
	if m, ok := s.timers[id]; ok {
		for _, t := range m {
			t.Stop()
		}
		delete(s.timers, id)
	}
}
