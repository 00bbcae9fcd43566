// Package domain models geotagged complaint reports as they arrive from the
// CitizenLink complaint location feed.
//
// # Coordinates
//
// Points use WGS-84 decimal degrees. The feed serialises latitude and
// longitude either as JSON numbers or as numeric strings, depending on which
// backend path produced the row, so both forms are accepted by
// [ParseComplaintRecord]. Rows with missing, non-numeric, non-finite or
// out-of-range coordinates are rejected with [ErrInvalidCoordinates] and never
// reach the clustering engine.
//
// Distances are great-circle distances in kilometres computed with the
// haversine formula ([Haversine]). Degree deltas are never compared directly:
// one degree of longitude shrinks with latitude, which would stretch
// neighbourhoods east-west.
//
// # Workflow status
//
// The feed reports the workflow status of each complaint. Legacy display
// labels ("pending review", "in progress") and workflow codes ("new",
// "in_progress", "completed") are both seen in practice and are normalised by
// [NormalizeStatus] before weighting.
//
// # Heat weight
//
// Each point contributes a weight to the heat layer derived from its priority,
// its status, and how recently it was submitted (linear decay over 30 days).
// See [HeatWeight]. Weights are clamped to [0.1, 1] so that no complaint
// disappears from the heat layer entirely.
//
// # Filters
//
// [Filters] is the user's selection from the control panel. All fields are
// optional and combine with logical AND. Relative time ranges ("today",
// "last7days", "last30days") are resolved against the package clock into an
// explicit [Query] before being sent upstream.
package domain
