package heatmap

import (
	"errors"

	"github.com/citizenlink/heatmap-service/internal/domain"
)

var (
	// ErrStaleResponse is returned by a load that was superseded by a newer
	// one before its fetch completed. Its data has been discarded.
	ErrStaleResponse = errors.New("stale response discarded")

	// ErrNotInitialized is returned by every mutating call made before
	// Initialize or after Destroy.
	ErrNotInitialized = errors.New("heatmap manager not initialized")

	// ErrInvalidView is returned for out-of-range zoom, threshold, or intensity values.
	ErrInvalidView = errors.New("invalid view setting")
)

// DataFetchError reports a failed fetch from the point source. The view that
// was displayed before the fetch stays in place.
type DataFetchError struct {
	Filters domain.Filters
	Err     error
}

func (e *DataFetchError) Error() string {
	return "fetch complaint points: " + e.Err.Error()
}

func (e *DataFetchError) Unwrap() error { return e.Err }
