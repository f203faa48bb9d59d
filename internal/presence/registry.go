package presence

import (
	"errors"
	"sync"
	"time"

	"github.com/example/ride-realtime/internal/geo"
	"github.com/example/ride-realtime/internal/models"
)

// ErrNoSession is returned when a party has no live connection.
var ErrNoSession = errors.New("no live session")

// Conn is the subset of a websocket connection the registry needs. Satisfied
// by *websocket.Conn; tests substitute fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Session wraps one live connection with a write lock, since websocket
// connections do not tolerate concurrent writers.
type Session struct {
	mu   sync.Mutex
	conn Conn
}

func NewSession(conn Conn) *Session { return &Session{conn: conn} }

// Send delivers one enveloped event on this session.
func (s *Session) Send(event string, data any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{Event: event, Data: data})
}

func (s *Session) is(conn Conn) bool { return s.conn == conn }

type driverState struct {
	sess     *Session
	loc      models.Coord
	hasLoc   bool
	locAt    time.Time
	online   bool
	inRide   bool
	lastSeen time.Time
}

// Registry maps rider and driver identities to their live session and, for
// drivers, their last-known state. Re-registration replaces the stored
// session, which is how reconnects with a new socket are handled. Delivery
// always resolves the current session at send time, never a cached handle.
type Registry struct {
	mu      sync.RWMutex
	riders  map[string]*Session
	drivers map[string]*driverState
}

func NewRegistry() *Registry {
	return &Registry{
		riders:  make(map[string]*Session),
		drivers: make(map[string]*driverState),
	}
}

// RegisterDriver records a driver session. Idempotent: a second registration
// for the same id replaces the session. An invalid initial location is
// dropped rather than failing registration.
func (r *Registry) RegisterDriver(id string, sess *Session, loc *models.Coord, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.drivers[id]
	if !ok {
		st = &driverState{}
		r.drivers[id] = st
	}
	st.sess = sess
	st.online = active
	st.lastSeen = time.Now()
	if loc != nil && geo.Validate(*loc) == nil {
		st.loc = *loc
		st.hasLoc = true
		st.locAt = time.Now()
	}
}

// RegisterRider records a rider session, replacing any previous one.
func (r *Registry) RegisterRider(id string, sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.riders[id] = sess
}

// UpdateDriverLocation stores a driver's position. Out-of-range coordinates
// are a no-op error; unknown drivers are an error.
func (r *Registry) UpdateDriverLocation(id string, c models.Coord) error {
	if err := geo.Validate(c); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.drivers[id]
	if !ok {
		return ErrNoSession
	}
	st.loc = c
	st.hasLoc = true
	st.locAt = time.Now()
	st.lastSeen = time.Now()
	return nil
}

// MarkOffline flips a driver offline if the given conn still owns the
// record. The record itself is kept so location history survives reconnects.
// A nil conn forces the transition regardless of ownership.
func (r *Registry) MarkOffline(id string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.drivers[id]
	if !ok {
		return
	}
	if conn != nil && (st.sess == nil || !st.sess.is(conn)) {
		return // a newer session took over; do not clobber it
	}
	st.online = false
	st.sess = nil
	st.lastSeen = time.Now()
}

// RemoveRider deletes a rider's session if the given conn still owns it.
// A nil conn removes unconditionally.
func (r *Registry) RemoveRider(id string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.riders[id]
	if !ok {
		return
	}
	if conn != nil && !sess.is(conn) {
		return
	}
	delete(r.riders, id)
}

// ClaimDriver atomically marks an online, free driver as in a ride. It is
// the mutual-exclusion point preventing double-dispatch.
func (r *Registry) ClaimDriver(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.drivers[id]
	if !ok || !st.online || st.inRide {
		return false
	}
	st.inRide = true
	return true
}

// ReleaseDriver clears a driver's in-ride flag.
func (r *Registry) ReleaseDriver(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.drivers[id]; ok {
		st.inRide = false
	}
}

// DriverBusy reports the in-ride flag; mostly useful in tests.
func (r *Registry) DriverBusy(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.drivers[id]
	return ok && st.inRide
}

// CandidateDrivers snapshots every driver that is online, not in a ride and
// has a known location.
func (r *Registry) CandidateDrivers() []geo.DriverPoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]geo.DriverPoint, 0, len(r.drivers))
	for id, st := range r.drivers {
		if !st.online || st.inRide || !st.hasLoc {
			continue
		}
		out = append(out, geo.DriverPoint{ID: id, Loc: st.loc})
	}
	return out
}

// DriverLocation returns the last-known location of a driver.
func (r *Registry) DriverLocation(id string) (models.Coord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.drivers[id]
	if !ok || !st.hasLoc {
		return models.Coord{}, false
	}
	return st.loc, true
}

// ToRider sends an event to a rider's current session.
func (r *Registry) ToRider(id, event string, data any) error {
	r.mu.RLock()
	sess, ok := r.riders[id]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return sess.Send(event, data)
}

// ToDriver sends an event to a driver's current session.
func (r *Registry) ToDriver(id, event string, data any) error {
	r.mu.RLock()
	st, ok := r.drivers[id]
	r.mu.RUnlock()
	if !ok || st.sess == nil {
		return ErrNoSession
	}
	return st.sess.Send(event, data)
}

// To dispatches by role.
func (r *Registry) To(role models.Role, id, event string, data any) error {
	if role == models.RoleDriver {
		return r.ToDriver(id, event, data)
	}
	return r.ToRider(id, event, data)
}
