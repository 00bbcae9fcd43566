package domain

import (
	"encoding/json"
	"time"
)

// ComplaintRecord is the JSON row returned by the complaint location feed.
// Coordinates are kept raw because the feed emits both numbers and numeric
// strings; see ParseComplaintRecord.
type ComplaintRecord struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Status      string          `json:"status"`
	Priority    string          `json:"priority"`
	Lat         json.RawMessage `json:"lat"`
	Lng         json.RawMessage `json:"lng"`
	Location    string          `json:"location"`
	SubmittedAt string          `json:"submittedAt"`
	Department  string          `json:"department"`
	Departments []string        `json:"departments"`
	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory"`
}

// ComplaintPoint is a single geotagged complaint, the unit of clustering input.
// Only Lat and Lng take part in clustering; the rest is filter and display
// metadata.
type ComplaintPoint struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Category    string    `json:"category,omitempty"`
	Subcategory string    `json:"subcategory,omitempty"`
	Status      string    `json:"status,omitempty"`
	Priority    string    `json:"priority,omitempty"`
	Department  string    `json:"department,omitempty"`
	Departments []string  `json:"departments,omitempty"`
	Location    string    `json:"location,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Position returns the point's coordinate.
func (p ComplaintPoint) Position() LatLng {
	return LatLng{Lat: p.Lat, Lng: p.Lng}
}

// Positions projects points to their coordinates, preserving order.
func Positions(points []ComplaintPoint) []LatLng {
	out := make([]LatLng, len(points))
	for i := range points {
		out[i] = points[i].Position()
	}
	return out
}
