package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, "in progress", NormalizeStatus("IN_PROGRESS"))
	assert.Equal(t, "resolved", NormalizeStatus("completed"))
	assert.Equal(t, "rejected", NormalizeStatus("cancelled"))
	assert.Equal(t, "pending review", NormalizeStatus("Pending Review"))
	assert.True(t, IsResolved("completed"))
	assert.False(t, IsResolved("new"))
}

func TestHeatWeight(t *testing.T) {
	now := time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC)
	freezeClock(t, now)

	fresh := ComplaintPoint{Priority: "urgent", Status: "pending review", SubmittedAt: now}
	assert.InDelta(t, 1.0, HeatWeight(fresh), 1e-9)

	// 0.9 * 0.8 * (1 - 15/30)
	halfLife := ComplaintPoint{Priority: "high", Status: "in_progress", SubmittedAt: now.AddDate(0, 0, -15)}
	assert.InDelta(t, 0.36, HeatWeight(halfLife), 1e-9)

	// Defaults for unknown labels: 0.5 * 0.5, no recency penalty for unknown time.
	unknown := ComplaintPoint{Priority: "whatever", Status: "mystery"}
	assert.InDelta(t, 0.25, HeatWeight(unknown), 1e-9)

	// Old, closed, low priority complaints bottom out at the floor.
	stale := ComplaintPoint{Priority: "low", Status: "closed", SubmittedAt: now.AddDate(-1, 0, 0)}
	assert.InDelta(t, 0.1, HeatWeight(stale), 1e-9)
}
