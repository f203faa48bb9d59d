package rides

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/ride-realtime/internal/models"
)

func newRide(id string) *models.Ride {
	return &models.Ride{ID: id, RiderID: "r1"}
}

func TestAssignAndRequeueGuards(t *testing.T) {
	s := NewStore()
	s.Create(newRide("ride1"))

	if _, err := s.AssignDriver("ride1", "d1"); err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	// second assign while an offer is outstanding must conflict
	var conflict *ConflictError
	if _, err := s.AssignDriver("ride1", "d2"); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	// requeue by the wrong driver is a no-op
	if _, err := s.RequeueFrom("ride1", "d2"); err == nil {
		t.Fatal("expected conflict for wrong driver")
	}
	r, err := s.RequeueFrom("ride1", "d1")
	if err != nil {
		t.Fatalf("requeue failed: %v", err)
	}
	if r.Status != models.StatusUnassigned || !r.Rejected["d1"] || r.DriverID != "" {
		t.Fatalf("bad requeue result: %+v", r)
	}
	// rejected driver stays rejected; a later assign of another driver works
	if _, err := s.AssignDriver("ride1", "d2"); err != nil {
		t.Fatalf("re-assign failed: %v", err)
	}
}

func TestAcceptGuardsAndDuplicate(t *testing.T) {
	s := NewStore()
	s.Create(newRide("ride1"))
	if _, err := s.AcceptBy("ride1", "d1", time.Second); err == nil {
		t.Fatal("accept before assignment must fail")
	}
	if _, err := s.AssignDriver("ride1", "d1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AcceptBy("ride1", "d2", time.Second); err == nil {
		t.Fatal("accept by an unassigned driver must fail")
	}
	r, err := s.AcceptBy("ride1", "d1", time.Second)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if r.Status != models.StatusAccepted || r.WindowExpiresAt.IsZero() {
		t.Fatalf("bad accept result: %+v", r)
	}
	if _, err := s.AcceptBy("ride1", "d1", time.Second); err != ErrAlreadyAccepted {
		t.Fatalf("expected ErrAlreadyAccepted, got %v", err)
	}
	// requeue after accept must not mutate the ride
	if _, err := s.RequeueFrom("ride1", "d1"); err == nil {
		t.Fatal("expected requeue after accept to conflict")
	}
	got, _ := s.Get("ride1")
	if got.Status != models.StatusAccepted {
		t.Fatalf("accept was clobbered: %s", got.Status)
	}
}

func TestTerminateRemovesRideAndTimers(t *testing.T) {
	s := NewStore()
	s.Create(newRide("ride1"))
	var fired int32
	s.Schedule("ride1", TimerRequest, 30*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	if _, err := s.Terminate("ride1", models.StatusCancelled); err != nil {
		t.Fatalf("terminate failed: %v", err)
	}
	if _, ok := s.Get("ride1"); ok {
		t.Fatal("terminated ride must leave the live table")
	}
	if _, err := s.Terminate("ride1", models.StatusCancelled); err != ErrNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("timer fired after terminate")
	}
}

func TestScheduleReplacesPriorTimer(t *testing.T) {
	s := NewStore()
	s.Create(newRide("ride1"))
	var first, second int32
	s.Schedule("ride1", TimerResponse, 20*time.Millisecond, func() { atomic.AddInt32(&first, 1) })
	s.Schedule("ride1", TimerResponse, 20*time.Millisecond, func() { atomic.AddInt32(&second, 1) })
	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&first) != 0 {
		t.Fatal("replaced timer fired")
	}
	if atomic.LoadInt32(&second) != 1 {
		t.Fatal("replacement timer did not fire")
	}
}

func TestScheduleForUnknownRideIsNoop(t *testing.T) {
	s := NewStore()
	var fired int32
	s.Schedule("ghost", TimerResponse, 10*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	time.Sleep(30 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatal("timer for unknown ride fired")
	}
}

func TestTerminateIfPredicate(t *testing.T) {
	s := NewStore()
	s.Create(newRide("ride1"))
	if _, err := s.TerminateIf("ride1", models.StatusCompleted, func(r *models.Ride) bool {
		return r.DriverID == "d1"
	}); err == nil {
		t.Fatal("predicate should have rejected terminate")
	}
	if _, ok := s.Get("ride1"); !ok {
		t.Fatal("ride must survive a failed terminate")
	}
}
