package storage

import (
	"sync"

	"github.com/example/ride-realtime/internal/models"
)

// RideArchive persists rides past their in-memory lifetime: an insert at
// accept time and an update at the terminal transition. The coordinator
// treats it as best-effort.
type RideArchive interface {
	SaveRide(r *models.Ride) error
	UpdateRide(r *models.Ride) error
}

type MemoryArchive struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{rides: make(map[string]*models.Ride)}
}

func (m *MemoryArchive) SaveRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = r
	return nil
}

func (m *MemoryArchive) UpdateRide(r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = r
	return nil
}

func (m *MemoryArchive) Get(id string) (*models.Ride, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	return r, ok
}
