package domain

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
)

// Immutable geographic coordinates (latitude, longitude).
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p LatLng) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// Key returns a deterministic hash of an ordered point pair, used as the
// distance-cache key. Coordinates are rounded to 6 decimal places first so
// that float noise does not fragment the cache.
func Key(origin, destination LatLng) string {
	h := sha1.Sum([]byte(origin.String() + "|" + destination.String()))
	return hex.EncodeToString(h[:])
}

const earthRadiusMeters = 6371000.0

// StraightLineMeters returns the haversine distance between two points.
func (p LatLng) StraightLineMeters(other LatLng) float64 {
	dLat := (other.Lat - p.Lat) * math.Pi / 180
	dLng := (other.Lng - p.Lng) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(p.Lat*math.Pi/180)*math.Cos(other.Lat*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// PlanePoint is a point projected onto a flat plane for clustering math.
type PlanePoint struct {
	X float64
	Y float64
}

// ToPlane projects the coordinates with a Web-Mercator-style projection.
// Distances on the plane are only used for relative comparisons inside
// k-means, never as real-world meters.
func (p LatLng) ToPlane() PlanePoint {
	x := p.Lng * math.Pi / 180 * earthRadiusMeters
	latRad := p.Lat * math.Pi / 180
	y := math.Log(math.Tan(math.Pi/4+latRad/2)) * earthRadiusMeters
	return PlanePoint{X: x, Y: y}
}

func (a PlanePoint) SquaredDistanceTo(b PlanePoint) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return dx*dx + dy*dy
}
