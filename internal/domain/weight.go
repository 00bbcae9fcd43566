package domain

import (
	"math"
	"strings"
	"time"
)

const (
	defaultWeight   = 0.5
	minHeatWeight   = 0.1
	maxHeatWeight   = 1.0
	recencyHorizon  = 30 * 24 * time.Hour
	minRecencyScale = 0.1
)

var priorityWeights = map[string]float64{
	"low":    0.3,
	"medium": 0.6,
	"high":   0.9,
	"urgent": 1.0,
}

var statusWeights = map[string]float64{
	"pending review": 1.0,
	"new":            1.0,
	"assigned":       0.9,
	"in progress":    0.8,
	"resolved":       0.3,
	"closed":         0.1,
	"rejected":       0.2,
}

// NormalizeStatus maps workflow codes and legacy labels to one vocabulary:
// lower case, underscores as spaces, "completed" as "resolved" and
// "cancelled" as "rejected".
func NormalizeStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	s = strings.ReplaceAll(s, "_", " ")
	switch s {
	case "completed":
		return "resolved"
	case "cancelled", "canceled":
		return "rejected"
	case "pending", "pending approval":
		return "pending review"
	}
	return s
}

// IsResolved reports whether status is a terminal, resolved-like state.
func IsResolved(status string) bool {
	switch NormalizeStatus(status) {
	case "resolved", "closed", "rejected":
		return true
	}
	return false
}

// HeatWeight returns the heat-layer contribution of p in [0.1, 1].
func HeatWeight(p ComplaintPoint) float64 {
	w, ok := priorityWeights[strings.ToLower(strings.TrimSpace(p.Priority))]
	if !ok {
		w = defaultWeight
	}

	s, ok := statusWeights[NormalizeStatus(p.Status)]
	if !ok {
		s = defaultWeight
	}
	w *= s
	w *= recencyFactor(p.SubmittedAt, clock.Now())

	return math.Min(maxHeatWeight, math.Max(minHeatWeight, w))
}

// recencyFactor decays linearly from 1 to 0.1 over thirty days. Unknown
// submission times are not penalised.
func recencyFactor(submitted, now time.Time) float64 {
	if submitted.IsZero() {
		return 1
	}
	age := now.Sub(submitted)
	if age < 0 {
		age = 0
	}
	return math.Max(minRecencyScale, 1-float64(age)/float64(recencyHorizon))
}
