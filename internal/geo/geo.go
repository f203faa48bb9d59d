package geo

import (
	"errors"
	"math"
	"sort"

	"github.com/example/ride-realtime/internal/models"
)

// ErrInvalidLocation reports a coordinate outside valid WGS84 ranges or a
// non-finite component.
var ErrInvalidLocation = errors.New("invalid location")

// Validate rejects non-finite and out-of-range coordinates.
func Validate(c models.Coord) error {
	if math.IsNaN(c.Lat) || math.IsInf(c.Lat, 0) || math.IsNaN(c.Lon) || math.IsInf(c.Lon, 0) {
		return ErrInvalidLocation
	}
	if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
		return ErrInvalidLocation
	}
	return nil
}

// Haversine distance in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// DistanceKm returns the great-circle distance between two points in
// kilometers. Both points must be valid coordinates.
func DistanceKm(a, b models.Coord) (float64, error) {
	if err := Validate(a); err != nil {
		return 0, err
	}
	if err := Validate(b); err != nil {
		return 0, err
	}
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon) / 1000.0, nil
}

// DriverPoint is a located, available driver as reported by the presence
// registry.
type DriverPoint struct {
	ID  string
	Loc models.Coord
}

// Candidate is an eligible driver ranked by distance from pickup.
type Candidate struct {
	ID         string
	Loc        models.Coord
	DistanceKm float64
}

// Eligible filters available drivers down to those within radiusKm of the
// pickup point and not in the rejected set, ordered ascending by distance
// with ties broken by driver id for determinism.
func Eligible(pickup models.Coord, points []DriverPoint, rejected map[string]bool, radiusKm float64) []Candidate {
	if Validate(pickup) != nil {
		return nil
	}
	out := make([]Candidate, 0, len(points))
	for _, p := range points {
		if rejected[p.ID] {
			continue
		}
		d, err := DistanceKm(pickup, p.Loc)
		if err != nil || d > radiusKm {
			continue
		}
		out = append(out, Candidate{ID: p.ID, Loc: p.Loc, DistanceKm: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return out[i].ID < out[j].ID
	})
	return out
}
