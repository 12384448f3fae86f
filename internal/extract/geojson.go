package extract

import "encoding/json"

// geoJSON shapes kept local: the artifact format is fixed, a dependency on a
// full geometry library buys nothing for a write-only rendering.
type geoJSONGeometry struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

type geoJSONFeature struct {
	Type       string           `json:"type"`
	Geometry   *geoJSONGeometry `json:"geometry"`
	Properties map[string]any   `json:"properties"`
}

type geoJSONCollection struct {
	Type     string           `json:"type"`
	BBox     [4]float64       `json:"bbox"`
	Features []geoJSONFeature `json:"features"`
}

// RenderGeoJSON builds the FeatureCollection artifact: one polygon feature for
// the map boundary plus one geometry-less feature per extracted map feature
// (the record carries no per-feature coordinates).
func RenderGeoJSON(sourceKey string, rec *MetadataRecord) ([]byte, error) {
	west, south, east, north := rec.BoundingBox[0], rec.BoundingBox[1], rec.BoundingBox[2], rec.BoundingBox[3]

	boundary := geoJSONFeature{
		Type: "Feature",
		Geometry: &geoJSONGeometry{
			Type: "Polygon",
			Coordinates: [][][2]float64{{
				{west, south},
				{east, south},
				{east, north},
				{west, north},
				{west, south},
			}},
		},
		Properties: map[string]any{
			"name":        "Map Boundary",
			"source_key":  sourceKey,
			"crs":         rec.CRS,
			"place_names": rec.PlaceNames,
		},
	}

	features := []geoJSONFeature{boundary}
	for _, f := range rec.Features {
		features = append(features, geoJSONFeature{
			Type:     "Feature",
			Geometry: nil,
			Properties: map[string]any{
				"description": f.Description,
				"confidence":  f.Confidence,
			},
		})
	}

	return json.MarshalIndent(geoJSONCollection{
		Type:     "FeatureCollection",
		BBox:     rec.BoundingBox,
		Features: features,
	}, "", "  ")
}
