package presence

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/example/ride-realtime/internal/models"
)

type fakeConn struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeConn) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, string(b))
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestReRegisterReplacesSession(t *testing.T) {
	r := NewRegistry()
	old := &fakeConn{}
	fresh := &fakeConn{}
	r.RegisterRider("r1", NewSession(old))
	r.RegisterRider("r1", NewSession(fresh))
	if err := r.ToRider("r1", "ping", nil); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if old.count() != 0 || fresh.count() != 1 {
		t.Fatalf("expected delivery to the new session only, got old=%d new=%d", old.count(), fresh.count())
	}
}

func TestUpdateDriverLocationValidation(t *testing.T) {
	r := NewRegistry()
	r.RegisterDriver("d1", NewSession(&fakeConn{}), &models.Coord{Lat: 1, Lon: 1}, true)
	if err := r.UpdateDriverLocation("d1", models.Coord{Lat: 95, Lon: 0}); err == nil {
		t.Fatal("expected range error")
	}
	loc, ok := r.DriverLocation("d1")
	if !ok || loc.Lat != 1 {
		t.Fatalf("invalid update must not mutate, got %+v", loc)
	}
	if err := r.UpdateDriverLocation("ghost", models.Coord{Lat: 1, Lon: 1}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestClaimRelease(t *testing.T) {
	r := NewRegistry()
	r.RegisterDriver("d1", NewSession(&fakeConn{}), &models.Coord{Lat: 1, Lon: 1}, true)
	if !r.ClaimDriver("d1") {
		t.Fatal("expected claim to succeed")
	}
	if r.ClaimDriver("d1") {
		t.Fatal("expected second claim to fail")
	}
	if len(r.CandidateDrivers()) != 0 {
		t.Fatal("busy driver must not be a candidate")
	}
	r.ReleaseDriver("d1")
	if !r.ClaimDriver("d1") {
		t.Fatal("expected claim after release")
	}
}

func TestCandidateFiltering(t *testing.T) {
	r := NewRegistry()
	loc := models.Coord{Lat: 1, Lon: 1}
	r.RegisterDriver("online", NewSession(&fakeConn{}), &loc, true)
	r.RegisterDriver("offline", NewSession(&fakeConn{}), &loc, false)
	r.RegisterDriver("noloc", NewSession(&fakeConn{}), nil, true)
	got := r.CandidateDrivers()
	if len(got) != 1 || got[0].ID != "online" {
		t.Fatalf("expected only the online located driver, got %+v", got)
	}
}

func TestMarkOfflineRespectsNewerSession(t *testing.T) {
	r := NewRegistry()
	old := &fakeConn{}
	fresh := &fakeConn{}
	loc := models.Coord{Lat: 1, Lon: 1}
	r.RegisterDriver("d1", NewSession(old), &loc, true)
	r.RegisterDriver("d1", NewSession(fresh), &loc, true) // reconnect
	r.MarkOffline("d1", old)                              // stale disconnect arrives late
	if len(r.CandidateDrivers()) != 1 {
		t.Fatal("stale disconnect must not take a reconnected driver offline")
	}
	r.MarkOffline("d1", fresh)
	if len(r.CandidateDrivers()) != 0 {
		t.Fatal("expected driver offline")
	}
	if err := r.ToDriver("d1", "ping", nil); err == nil {
		t.Fatal("expected no session after offline")
	}
}

func TestRemoveRiderRespectsNewerSession(t *testing.T) {
	r := NewRegistry()
	old := &fakeConn{}
	fresh := &fakeConn{}
	r.RegisterRider("r1", NewSession(old))
	r.RegisterRider("r1", NewSession(fresh))
	r.RemoveRider("r1", old)
	if err := r.ToRider("r1", "ping", nil); err != nil {
		t.Fatal("stale disconnect must not remove the reconnected rider")
	}
	r.RemoveRider("r1", fresh)
	if err := r.ToRider("r1", "ping", nil); err == nil {
		t.Fatal("expected rider removed")
	}
}
