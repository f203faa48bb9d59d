package lifecycle

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-realtime/internal/models"
	"github.com/example/ride-realtime/internal/presence"
	"github.com/example/ride-realtime/internal/rides"
	"github.com/example/ride-realtime/internal/storage"
)

type wireMsg struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type fakeConn struct {
	mu   sync.Mutex
	msgs []wireMsg
}

func (f *fakeConn) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m wireMsg
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	f.mu.Lock()
	f.msgs = append(f.msgs, m)
	f.mu.Unlock()
	return nil
}

func (f *fakeConn) Close() error { return nil }

func (f *fakeConn) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.msgs {
		if m.Event == event {
			n++
		}
	}
	return n
}

type fakeRequeuer struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRequeuer) Requeue(rideID, driverID string) {
	f.mu.Lock()
	f.calls = append(f.calls, rideID+"/"+driverID)
	f.mu.Unlock()
}

type fixture struct {
	store    *rides.Store
	reg      *presence.Registry
	requeuer *fakeRequeuer
	archive  *storage.MemoryArchive
	coord    *Coordinator
	rider    *fakeConn
	driver   *fakeConn
}

func setup(t *testing.T, window time.Duration) *fixture {
	t.Helper()
	f := &fixture{
		store:    rides.NewStore(),
		reg:      presence.NewRegistry(),
		requeuer: &fakeRequeuer{},
		archive:  storage.NewMemoryArchive(),
		rider:    &fakeConn{},
		driver:   &fakeConn{},
	}
	f.reg.RegisterRider("r1", presence.NewSession(f.rider))
	f.reg.RegisterDriver("d1", presence.NewSession(f.driver), &models.Coord{Lat: 28.61, Lon: 77.21}, true)
	f.coord = &Coordinator{
		Store:        f.store,
		Drivers:      f.reg,
		Notify:       f.reg,
		Matcher:      f.requeuer,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Archive:      f.archive,
		CancelWindow: window,
	}
	return f
}

// offered creates a ride assigned to d1 awaiting a response.
func (f *fixture) offered(t *testing.T, id string) {
	t.Helper()
	f.store.Create(&models.Ride{ID: id, RiderID: "r1", Pickup: models.Coord{Lat: 28.60, Lon: 77.20}})
	if _, err := f.store.AssignDriver(id, "d1"); err != nil {
		t.Fatal(err)
	}
	f.reg.ClaimDriver("d1")
}

func TestAcceptIsIdempotent(t *testing.T) {
	f := setup(t, time.Hour)
	f.offered(t, "ride1")

	if err := f.coord.Accept("ride1", "d1"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if err := f.coord.Accept("ride1", "d1"); err != nil {
		t.Fatalf("duplicate accept must be a no-op, got %v", err)
	}
	if f.rider.count(models.EventRideAccepted) != 1 {
		t.Fatal("rider must see exactly one acceptance")
	}
	if f.driver.count(models.EventRideAcceptanceConfirmed) != 2 {
		t.Fatal("duplicate accept should still be acknowledged to the driver")
	}
	r, _ := f.store.Get("ride1")
	if r.Status != models.StatusAccepted {
		t.Fatalf("expected accepted, got %s", r.Status)
	}
}

func TestAcceptByWrongDriverConflicts(t *testing.T) {
	f := setup(t, time.Hour)
	f.offered(t, "ride1")
	var conflict *rides.ConflictError
	if err := f.coord.Accept("ride1", "d2"); !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if f.rider.count(models.EventRideAccepted) != 0 {
		t.Fatal("wrong-driver accept must not notify the rider")
	}
}

func TestCancelNotifiesCounterpartOnly(t *testing.T) {
	f := setup(t, time.Hour)
	f.offered(t, "ride1")
	if err := f.coord.Accept("ride1", "d1"); err != nil {
		t.Fatal(err)
	}
	if err := f.coord.Cancel("ride1", models.RoleRider, "changed my mind"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if f.driver.count(models.EventRideCancelled) != 1 {
		t.Fatal("driver must be told about the rider's cancellation")
	}
	if f.rider.count(models.EventRideCancelled) != 0 {
		t.Fatal("the cancelling party must not be notified")
	}
	if f.reg.DriverBusy("d1") {
		t.Fatal("driver must be freed on cancellation")
	}
	if _, ok := f.store.Get("ride1"); ok {
		t.Fatal("cancelled ride must leave the live table")
	}
	if err := f.coord.Cancel("ride1", models.RoleRider, ""); err != rides.ErrNotFound {
		t.Fatalf("expected not found on second cancel, got %v", err)
	}
}

func TestDriverCancelNotifiesRider(t *testing.T) {
	f := setup(t, time.Hour)
	f.offered(t, "ride1")
	if err := f.coord.Accept("ride1", "d1"); err != nil {
		t.Fatal(err)
	}
	if err := f.coord.Cancel("ride1", models.RoleDriver, "breakdown"); err != nil {
		t.Fatal(err)
	}
	if f.rider.count(models.EventRideCancelled) != 1 || f.driver.count(models.EventRideCancelled) != 0 {
		t.Fatal("only the rider should hear about a driver cancellation")
	}
}

func TestCancellationWindowExpiryNotifiesBoth(t *testing.T) {
	f := setup(t, 25*time.Millisecond)
	f.offered(t, "ride1")
	if err := f.coord.Accept("ride1", "d1"); err != nil {
		t.Fatal(err)
	}
	if !f.coord.IsCancelAllowed("ride1") {
		t.Fatal("cancel must be allowed inside the window")
	}
	time.Sleep(100 * time.Millisecond)
	if f.rider.count(models.EventCancellationWindowExpired) != 1 {
		t.Fatal("rider missed the window expiry")
	}
	if f.driver.count(models.EventCancellationWindowExpired) != 1 {
		t.Fatal("driver missed the window expiry")
	}
	r, ok := f.store.Get("ride1")
	if !ok || r.Status != models.StatusAccepted {
		t.Fatal("expiry must not change ride status")
	}
	if f.coord.IsCancelAllowed("ride1") {
		t.Fatal("window must be reported closed after expiry")
	}
	// post-window cancels are still honored
	if err := f.coord.Cancel("ride1", models.RoleRider, "late"); err != nil {
		t.Fatalf("post-window cancel should be honored, got %v", err)
	}
}

func TestRejectRequeues(t *testing.T) {
	f := setup(t, time.Hour)
	f.offered(t, "ride1")
	if err := f.coord.Reject("ride1", "d1", "too far"); err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if f.rider.count(models.EventRideRejected) != 1 {
		t.Fatal("rider was not told about the rejection")
	}
	f.requeuer.mu.Lock()
	defer f.requeuer.mu.Unlock()
	if len(f.requeuer.calls) != 1 || f.requeuer.calls[0] != "ride1/d1" {
		t.Fatalf("expected one requeue for ride1/d1, got %v", f.requeuer.calls)
	}
}

func TestRejectAfterAcceptConflicts(t *testing.T) {
	f := setup(t, time.Hour)
	f.offered(t, "ride1")
	if err := f.coord.Accept("ride1", "d1"); err != nil {
		t.Fatal(err)
	}
	if err := f.coord.Reject("ride1", "d1", ""); err == nil {
		t.Fatal("reject after accept must conflict")
	}
	r, _ := f.store.Get("ride1")
	if r.Status != models.StatusAccepted {
		t.Fatal("reject must not mutate an accepted ride")
	}
}

func TestCompleteNotifiesBothAndArchives(t *testing.T) {
	f := setup(t, time.Hour)
	f.offered(t, "ride1")
	if err := f.coord.Accept("ride1", "d1"); err != nil {
		t.Fatal(err)
	}
	if err := f.coord.Complete("ride1", "d1"); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if f.rider.count(models.EventRideCompleted) != 1 || f.driver.count(models.EventRideCompleted) != 1 {
		t.Fatal("both parties must hear about completion")
	}
	if f.reg.DriverBusy("d1") {
		t.Fatal("driver must be freed on completion")
	}
	deadline := time.Now().Add(time.Second)
	for {
		if r, ok := f.archive.Get("ride1"); ok && r.Status == models.StatusCompleted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("completed ride was not archived")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelayCounterpartOnly(t *testing.T) {
	f := setup(t, time.Hour)
	f.offered(t, "ride1")
	if err := f.coord.Accept("ride1", "d1"); err != nil {
		t.Fatal(err)
	}
	loc := models.Coord{Lat: 28.62, Lon: 77.22}

	f.coord.Relay("ride1", models.RoleDriver, loc)
	if f.rider.count(models.EventCounterpartyLocation) != 1 {
		t.Fatal("rider missed the driver's location")
	}
	if f.driver.count(models.EventCounterpartyLocation) != 0 {
		t.Fatal("sender must not receive its own location")
	}

	f.coord.Relay("ride1", models.RoleRider, loc)
	if f.driver.count(models.EventCounterpartyLocation) != 1 {
		t.Fatal("driver missed the rider's location")
	}

	// unknown ride: silent drop, no panic, nothing delivered
	f.coord.Relay("ghost", models.RoleRider, loc)
	if f.driver.count(models.EventCounterpartyLocation) != 1 {
		t.Fatal("unknown ride must be dropped silently")
	}
}

func TestRelayDriverLocationReachesRider(t *testing.T) {
	f := setup(t, time.Hour)
	f.offered(t, "ride1")
	if err := f.coord.Accept("ride1", "d1"); err != nil {
		t.Fatal(err)
	}
	f.coord.RelayDriverLocation("d1", models.Coord{Lat: 28.63, Lon: 77.23})
	if f.rider.count(models.EventCaptainLocationUpdate) != 1 {
		t.Fatal("rider missed the captain location update")
	}
	// a driver with no active ride is a silent no-op
	f.coord.RelayDriverLocation("d2", models.Coord{Lat: 1, Lon: 1})
}
