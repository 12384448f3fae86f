// Package extract implements the second pipeline stage: asking a multimodal
// model for structured geospatial metadata about a compressed map image,
// validating the answer, and publishing the artifacts.
package extract

import "fmt"

// Feature is one map feature the model identified.
type Feature struct {
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// MetadataRecord is the validated output of one extraction:
// bounding box as [minLon, minLat, maxLon, maxLat].
type MetadataRecord struct {
	BoundingBox [4]float64 `json:"bounding_box"`
	CRS         string     `json:"crs"`
	PlaceNames  []string   `json:"place_names"`
	Features    []Feature  `json:"features"`
}

// Center returns the bounding box centroid as (lon, lat).
func (r *MetadataRecord) Center() (float64, float64) {
	lon := (r.BoundingBox[0] + r.BoundingBox[2]) / 2
	lat := (r.BoundingBox[1] + r.BoundingBox[3]) / 2
	return lon, lat
}

// Envelope renders the bounding box in ENVELOPE(west, east, north, south)
// notation, the form downstream catalog tooling expects.
func (r *MetadataRecord) Envelope() string {
	return fmt.Sprintf("ENVELOPE(%g,%g,%g,%g)",
		r.BoundingBox[0], r.BoundingBox[2], r.BoundingBox[3], r.BoundingBox[1])
}
