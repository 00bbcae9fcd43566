package cluster

import (
	"errors"
	"fmt"
	"math"
)

const (
	// DefaultEpsKm is the default neighbourhood radius in kilometres.
	DefaultEpsKm = 0.5
	// DefaultMinPts is the default neighbourhood size, including the point itself.
	DefaultMinPts = 3
)

// ErrInvalidParameter is returned for eps <= 0 or minPts < 1.
var ErrInvalidParameter = errors.New("invalid clustering parameter")

// Params are the DBSCAN tuning knobs.
type Params struct {
	Eps    float64 `json:"eps"`    // kilometres
	MinPts int     `json:"minPts"` // includes the point itself
}

// DefaultParams returns parameters suited to barangay-scale complaint density.
func DefaultParams() Params {
	return Params{Eps: DefaultEpsKm, MinPts: DefaultMinPts}
}

// Validate enforces eps > 0 and minPts >= 1.
func (p Params) Validate() error {
	if math.IsNaN(p.Eps) || math.IsInf(p.Eps, 0) || p.Eps <= 0 {
		return fmt.Errorf("%w: eps must be > 0, got %v", ErrInvalidParameter, p.Eps)
	}
	if p.MinPts < 1 {
		return fmt.Errorf("%w: minPts must be >= 1, got %d", ErrInvalidParameter, p.MinPts)
	}
	return nil
}
