package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidFilter is returned when a filter selection cannot be resolved.
var ErrInvalidFilter = errors.New("invalid filter")

// CityZone is the local zone used to resolve calendar days. Digos City
// observes Philippine Standard Time all year.
var CityZone = time.FixedZone("PST", 8*60*60)

// TimeRange is a relative submission-time window selected in the control panel.
type TimeRange string

const (
	TimeRangeAll        TimeRange = ""
	TimeRangeToday      TimeRange = "today"
	TimeRangeLast7Days  TimeRange = "last7days"
	TimeRangeLast30Days TimeRange = "last30days"
)

// Filters is the control panel selection. Every field is optional; set fields
// combine with logical AND. StartDate and EndDate are calendar dates
// (YYYY-MM-DD) and take precedence over TimeRange when either is set.
type Filters struct {
	Status          string    `json:"status,omitempty"`
	Category        string    `json:"category,omitempty"`
	Subcategory     string    `json:"subcategory,omitempty"`
	Department      string    `json:"department,omitempty"`
	TimeRange       TimeRange `json:"timeRange,omitempty"`
	StartDate       string    `json:"startDate,omitempty"`
	EndDate         string    `json:"endDate,omitempty"`
	IncludeResolved bool      `json:"includeResolved"`
}

// DefaultFilters is the control panel's reset state: everything, resolved
// complaints included.
func DefaultFilters() Filters {
	return Filters{IncludeResolved: true}
}

// Query is a resolved filter set ready to send to the location feed.
type Query struct {
	Status          string
	Category        string
	Subcategory     string
	Department      string
	Start           time.Time
	End             time.Time
	IncludeResolved bool
}

// Validate checks the filter selection without resolving it.
func (f Filters) Validate() error {
	_, err := f.resolveAt(clock.Now())
	return err
}

// Resolve turns relative time ranges into absolute bounds using the package clock.
func (f Filters) Resolve() (Query, error) {
	return f.resolveAt(clock.Now())
}

func (f Filters) resolveAt(now time.Time) (Query, error) {
	q := Query{
		Status:          strings.TrimSpace(f.Status),
		Category:        strings.TrimSpace(f.Category),
		Subcategory:     strings.TrimSpace(f.Subcategory),
		Department:      strings.TrimSpace(f.Department),
		IncludeResolved: f.IncludeResolved,
	}

	if f.StartDate != "" || f.EndDate != "" {
		if f.StartDate != "" {
			d, err := time.ParseInLocation(time.DateOnly, f.StartDate, CityZone)
			if err != nil {
				return Query{}, fmt.Errorf("%w: start date %q", ErrInvalidFilter, f.StartDate)
			}
			q.Start = d
		}
		if f.EndDate != "" {
			d, err := time.ParseInLocation(time.DateOnly, f.EndDate, CityZone)
			if err != nil {
				return Query{}, fmt.Errorf("%w: end date %q", ErrInvalidFilter, f.EndDate)
			}
			q.End = d.AddDate(0, 0, 1).Add(-time.Millisecond)
		}
		if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
			return Query{}, fmt.Errorf("%w: end date before start date", ErrInvalidFilter)
		}
		return q, nil
	}

	local := now.In(CityZone)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, CityZone)
	switch f.TimeRange {
	case TimeRangeAll:
	case TimeRangeToday:
		q.Start = midnight
	case TimeRangeLast7Days:
		q.Start = midnight.AddDate(0, 0, -7)
	case TimeRangeLast30Days:
		q.Start = midnight.AddDate(0, 0, -30)
	default:
		return Query{}, fmt.Errorf("%w: time range %q", ErrInvalidFilter, f.TimeRange)
	}
	return q, nil
}

// Values encodes the query using the location feed's parameter names.
func (q Query) Values() url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	set("status", q.Status)
	set("category", q.Category)
	set("subcategory", q.Subcategory)
	set("department", q.Department)
	if !q.Start.IsZero() {
		v.Set("startDate", q.Start.UTC().Format(time.RFC3339))
	}
	if !q.End.IsZero() {
		v.Set("endDate", q.End.UTC().Format(time.RFC3339Nano))
	}
	v.Set("includeResolved", strconv.FormatBool(q.IncludeResolved))
	return v
}

// Match reports whether p satisfies the query. It guards against a feed that
// ignores some query parameters. Status compares normalised labels,
// department matches the primary or any assigned department ignoring case,
// and a date bound excludes points with no submission time.
func (q Query) Match(p ComplaintPoint) bool {
	if q.Status != "" && NormalizeStatus(q.Status) != NormalizeStatus(p.Status) {
		return false
	}
	if q.Category != "" && q.Category != p.Category {
		return false
	}
	if q.Subcategory != "" && q.Subcategory != p.Subcategory {
		return false
	}
	if q.Department != "" && !hasDepartment(p, q.Department) {
		return false
	}
	if !q.IncludeResolved && IsResolved(p.Status) {
		return false
	}
	if !q.Start.IsZero() || !q.End.IsZero() {
		if p.SubmittedAt.IsZero() {
			return false
		}
		if !q.Start.IsZero() && p.SubmittedAt.Before(q.Start) {
			return false
		}
		if !q.End.IsZero() && p.SubmittedAt.After(q.End) {
			return false
		}
	}
	return true
}

// Apply keeps the points matching q, in order, and returns how many were
// dropped.
func (q Query) Apply(points []ComplaintPoint) ([]ComplaintPoint, int) {
	out := make([]ComplaintPoint, 0, len(points))
	for _, p := range points {
		if q.Match(p) {
			out = append(out, p)
		}
	}
	return out, len(points) - len(out)
}

func hasDepartment(p ComplaintPoint, dept string) bool {
	dept = strings.TrimSpace(dept)
	if strings.EqualFold(strings.TrimSpace(p.Department), dept) {
		return true
	}
	for _, d := range p.Departments {
		if strings.EqualFold(strings.TrimSpace(d), dept) {
			return true
		}
	}
	return false
}
