package heatmap

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/citizenlink/heatmap-service/internal/cluster"
	"github.com/citizenlink/heatmap-service/internal/domain"
)

// Heat style bounds. Radius and blur shrink as the user zooms in so that the
// layer keeps a similar visual density at every zoom.
const (
	baseZoom   = 10
	baseRadius = 25.0
	baseBlur   = 15.0
	minRadius  = 10.0
	maxRadius  = 40.0
	minBlur    = 5.0
	maxBlur    = 25.0

	MinZoom      = 0
	MaxZoom      = 22
	MinIntensity = 0.1
	MaxIntensity = 2.0
)

// HeatStyle is the radius and blur, in pixels, for the heat layer.
type HeatStyle struct {
	Radius float64 `json:"radius"`
	Blur   float64 `json:"blur"`
}

// HeatStyleForZoom returns the heat style for a zoom level, clamped to bounds
// that keep the layer from vanishing or saturating.
func HeatStyleForZoom(zoom int) HeatStyle {
	dz := float64(zoom - baseZoom)
	return HeatStyle{
		Radius: clamp(baseRadius-dz*2, minRadius, maxRadius),
		Blur:   clamp(baseBlur-dz*1.5, minBlur, maxBlur),
	}
}

// HeatPoint is one weighted sample on the heat layer.
type HeatPoint struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Weight float64 `json:"weight"`
}

// HeatLayer is the aggregate intensity layer. It is drawn at every zoom.
type HeatLayer struct {
	HeatStyle
	Intensity float64     `json:"intensity"`
	Points    []HeatPoint `json:"points"`
}

// MarkerKind distinguishes raw complaint markers from cluster summaries.
type MarkerKind string

const (
	MarkerPoint   MarkerKind = "point"
	MarkerCluster MarkerKind = "cluster"
	MarkerNoise   MarkerKind = "noise"
)

// Marker is a discrete map marker.
type Marker struct {
	Kind        MarkerKind `json:"kind"`
	Lat         float64    `json:"lat"`
	Lng         float64    `json:"lng"`
	ComplaintID string     `json:"complaint_id,omitempty"`
	Title       string     `json:"title,omitempty"`
	Category    string     `json:"category,omitempty"`
	Status      string     `json:"status,omitempty"`
	ClusterID   int        `json:"cluster_id"`
	Count       int        `json:"count"`
	RadiusKm    float64    `json:"radius_km,omitempty"`
	ColorIndex  int        `json:"color_index"`
}

// Frame is a complete description of what the rendering surface should draw.
// Frames carry a per-view sequence number so a sink can drop late arrivals.
type Frame struct {
	ID                uuid.UUID      `json:"id"`
	ViewID            uuid.UUID      `json:"view_id"`
	Sequence          uint64         `json:"sequence"`
	Zoom              int            `json:"zoom"`
	ZoomThreshold     int            `json:"zoom_threshold"`
	ClusteringEnabled bool           `json:"clustering_enabled"`
	Params            cluster.Params `json:"params"`
	Heat              HeatLayer      `json:"heat"`
	ShowMarkers       bool           `json:"show_markers"`
	Markers           []Marker       `json:"markers,omitempty"`
	Stats             cluster.Stats  `json:"stats"`
	Bounds            *domain.Bounds `json:"bounds,omitempty"`
	RenderedAt        time.Time      `json:"rendered_at"`
}

// ViewState is the user-adjustable part of the view.
type ViewState struct {
	Zoom              int     `json:"zoom"`
	ZoomThreshold     int     `json:"zoom_threshold"`
	Intensity         float64 `json:"intensity"`
	ClusteringEnabled bool    `json:"clustering_enabled"`
}

// MarkersVisible reports whether discrete markers are drawn at this view.
func (v ViewState) MarkersVisible() bool {
	return v.Zoom >= v.ZoomThreshold
}

func buildHeatLayer(points []domain.ComplaintPoint, view ViewState) HeatLayer {
	heat := make([]HeatPoint, len(points))
	for i, p := range points {
		heat[i] = HeatPoint{Lat: p.Lat, Lng: p.Lng, Weight: domain.HeatWeight(p) * view.Intensity}
	}
	return HeatLayer{
		HeatStyle: HeatStyleForZoom(view.Zoom),
		Intensity: view.Intensity,
		Points:    heat,
	}
}

func buildMarkers(res cluster.Result, clustering bool) []Marker {
	if !clustering {
		markers := make([]Marker, len(res.Points))
		for i, p := range res.Points {
			m := pointMarker(p, MarkerPoint)
			if c, ok := res.ClusterOf(i); ok {
				m.ClusterID = c.ID
				m.ColorIndex = c.ColorIndex
			}
			markers[i] = m
		}
		return markers
	}

	noise := res.NoiseClusters()
	markers := make([]Marker, 0, len(res.Clusters)+len(noise))
	for _, c := range res.Clusters {
		markers = append(markers, Marker{
			Kind:       MarkerCluster,
			Lat:        c.Centroid.Lat,
			Lng:        c.Centroid.Lng,
			Category:   c.DominantCategory,
			ClusterID:  c.ID,
			Count:      c.Size(),
			RadiusKm:   c.RadiusKm,
			ColorIndex: c.ColorIndex,
		})
	}
	// Each noise point is drawn as its own singleton cluster.
	for _, c := range noise {
		markers = append(markers, pointMarker(res.Points[c.Members[0]], MarkerNoise))
	}
	return markers
}

// pointMarker draws one complaint, unclustered until the caller says otherwise.
func pointMarker(p domain.ComplaintPoint, kind MarkerKind) Marker {
	return Marker{
		Kind:        kind,
		Lat:         p.Lat,
		Lng:         p.Lng,
		ComplaintID: p.ID,
		Title:       p.Title,
		Category:    p.Category,
		Status:      domain.NormalizeStatus(p.Status),
		ClusterID:   cluster.Noise,
		Count:       1,
		ColorIndex:  -1,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
