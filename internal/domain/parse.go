package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidCoordinates marks a point whose lat/lng is missing, non-numeric,
	// non-finite, or outside WGS-84 bounds.
	ErrInvalidCoordinates = errors.New("invalid coordinates")

	// ErrMissingID marks a point without an identifier.
	ErrMissingID = errors.New("missing complaint id")
)

// ParseComplaintRecord converts a feed row into a ComplaintPoint.
func ParseComplaintRecord(rec ComplaintRecord) (ComplaintPoint, error) {
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return ComplaintPoint{}, ErrMissingID
	}

	lat, errLat := parseCoordinate(rec.Lat)
	lng, errLng := parseCoordinate(rec.Lng)
	if errLat != nil || errLng != nil {
		return ComplaintPoint{}, fmt.Errorf("complaint %s: %w", id, ErrInvalidCoordinates)
	}
	pos := LatLng{Lat: lat, Lng: lng}
	if !pos.Valid() {
		return ComplaintPoint{}, fmt.Errorf("complaint %s: %w", id, ErrInvalidCoordinates)
	}

	department := rec.Department
	if department == "" && len(rec.Departments) > 0 {
		department = rec.Departments[0]
	}

	return ComplaintPoint{
		ID:          id,
		Title:       rec.Title,
		Lat:         lat,
		Lng:         lng,
		Category:    rec.Category,
		Subcategory: rec.Subcategory,
		Status:      rec.Status,
		Priority:    rec.Priority,
		Department:  department,
		Departments: rec.Departments,
		Location:    rec.Location,
		SubmittedAt: parseTimestamp(rec.SubmittedAt),
	}, nil
}

// ParseComplaintRecords parses every row, dropping malformed ones with a
// warning. It returns the accepted points in feed order and the number of
// rows skipped.
func ParseComplaintRecords(records []ComplaintRecord, logger *slog.Logger) ([]ComplaintPoint, int) {
	points := make([]ComplaintPoint, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	skipped := 0

	for i := range records {
		p, err := ParseComplaintRecord(records[i])
		if err != nil {
			logger.Warn("skipping malformed complaint point",
				"id", records[i].ID,
				"lat", string(records[i].Lat),
				"lng", string(records[i].Lng),
				"error", err,
			)
			skipped++
			continue
		}
		if _, dup := seen[p.ID]; dup {
			logger.Warn("skipping duplicate complaint point", "id", p.ID)
			skipped++
			continue
		}
		seen[p.ID] = struct{}{}
		points = append(points, p)
	}
	return points, skipped
}

// ValidPoints filters already-decoded points, dropping those without an id or
// with invalid coordinates. Order is preserved.
func ValidPoints(points []ComplaintPoint, logger *slog.Logger) ([]ComplaintPoint, int) {
	out := make([]ComplaintPoint, 0, len(points))
	skipped := 0
	for _, p := range points {
		switch {
		case strings.TrimSpace(p.ID) == "":
			logger.Warn("excluding complaint point from clustering", "error", ErrMissingID)
		case !p.Position().Valid():
			logger.Warn("excluding complaint point from clustering",
				"id", p.ID, "lat", p.Lat, "lng", p.Lng, "error", ErrInvalidCoordinates)
		default:
			out = append(out, p)
			continue
		}
		skipped++
	}
	return out, skipped
}

// parseCoordinate accepts a JSON number or a JSON string holding a number.
func parseCoordinate(raw json.RawMessage) (float64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, ErrInvalidCoordinates
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(str)
	}
	return strconv.ParseFloat(s, 64)
}

// parseTimestamp returns the zero time when s is empty or unparseable.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
