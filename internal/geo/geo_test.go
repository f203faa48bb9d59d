package geo

import (
	"math"
	"testing"

	"github.com/example/ride-realtime/internal/models"
)

func TestDistanceZeroAndSymmetric(t *testing.T) {
	a := models.Coord{Lat: 28.60, Lon: 77.20}
	b := models.Coord{Lat: 28.61, Lon: 77.21}
	d, err := DistanceKm(a, a)
	if err != nil || d != 0 {
		t.Fatalf("expected 0, got %f err=%v", d, err)
	}
	ab, _ := DistanceKm(a, b)
	ba, _ := DistanceKm(b, a)
	if math.Abs(ab-ba) > 1e-9 {
		t.Fatalf("expected symmetry, got %f vs %f", ab, ba)
	}
	if ab < 1.0 || ab > 2.0 {
		t.Fatalf("expected roughly 1.5km, got %f", ab)
	}
}

func TestDistanceInvalidLocation(t *testing.T) {
	bad := []models.Coord{
		{Lat: math.NaN(), Lon: 0},
		{Lat: 91, Lon: 0},
		{Lat: 0, Lon: 181},
		{Lat: 0, Lon: math.Inf(1)},
	}
	for _, c := range bad {
		if _, err := DistanceKm(c, models.Coord{}); err == nil {
			t.Fatalf("expected error for %+v", c)
		}
	}
}

func TestEligibleOrderingAndRadius(t *testing.T) {
	pickup := models.Coord{Lat: 28.60, Lon: 77.20}
	points := []DriverPoint{
		{ID: "far", Loc: models.Coord{Lat: 29.60, Lon: 78.20}},   // way beyond 8km
		{ID: "near", Loc: models.Coord{Lat: 28.61, Lon: 77.21}},  // ~1.5km
		{ID: "nearer", Loc: models.Coord{Lat: 28.601, Lon: 77.201}},
	}
	got := Eligible(pickup, points, nil, 8)
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(got))
	}
	if got[0].ID != "nearer" || got[1].ID != "near" {
		t.Fatalf("wrong order: %s, %s", got[0].ID, got[1].ID)
	}
}

func TestEligibleTieBreakAndRejected(t *testing.T) {
	pickup := models.Coord{Lat: 0, Lon: 0}
	same := models.Coord{Lat: 0.01, Lon: 0.01}
	points := []DriverPoint{
		{ID: "b", Loc: same},
		{ID: "a", Loc: same},
		{ID: "c", Loc: same},
	}
	got := Eligible(pickup, points, map[string]bool{"a": true}, 8)
	if len(got) != 2 {
		t.Fatalf("expected rejected driver filtered, got %d", len(got))
	}
	if got[0].ID != "b" || got[1].ID != "c" {
		t.Fatalf("expected id tie-break, got %s, %s", got[0].ID, got[1].ID)
	}
}
