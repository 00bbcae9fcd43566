package domain

import "math"

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// LatLng is a WGS-84 latitude/longitude pair in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the coordinate is finite and within WGS-84 bounds.
func (l LatLng) Valid() bool {
	if math.IsNaN(l.Lat) || math.IsNaN(l.Lng) || math.IsInf(l.Lat, 0) || math.IsInf(l.Lng, 0) {
		return false
	}
	return l.Lat >= -90 && l.Lat <= 90 && l.Lng >= -180 && l.Lng <= 180
}

// Haversine returns the great-circle distance between a and b in kilometres.
func Haversine(a, b LatLng) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	// Rounding can push h fractionally above 1 for antipodal points.
	h = math.Min(1, h)
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(h))
}

// Bounds is the axis-aligned bounding box of a set of coordinates.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// BoundsOf returns the bounding box of points, or false when points is empty.
func BoundsOf(points []ComplaintPoint) (Bounds, bool) {
	if len(points) == 0 {
		return Bounds{}, false
	}
	b := Bounds{South: points[0].Lat, North: points[0].Lat, West: points[0].Lng, East: points[0].Lng}
	for _, p := range points[1:] {
		b.South = math.Min(b.South, p.Lat)
		b.North = math.Max(b.North, p.Lat)
		b.West = math.Min(b.West, p.Lng)
		b.East = math.Max(b.East, p.Lng)
	}
	return b, true
}
