package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// metadataSchema constrains the model output shape. Range checks on the
// bounding box are done separately so defects can be reported per coordinate.
func metadataSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []any{"bounding_box", "crs", "place_names", "features"},
		"properties": map[string]any{
			"bounding_box": map[string]any{
				"type":     "array",
				"minItems": 4,
				"maxItems": 4,
				"items":    map[string]any{"type": "number"},
			},
			"crs": map[string]any{"type": "string", "minLength": 1},
			"place_names": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"features": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []any{"description", "confidence"},
					"properties": map[string]any{
						"description": map[string]any{"type": "string", "minLength": 1},
						"confidence":  map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
					},
				},
			},
		},
	}
}

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	b, err := json.Marshal(metadataSchema())
	if err != nil {
		panic(fmt.Sprintf("marshal metadata schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("metadata.json", bytes.NewReader(b)); err != nil {
		panic(fmt.Sprintf("add metadata schema: %v", err))
	}
	schema, err := compiler.Compile("metadata.json")
	if err != nil {
		panic(fmt.Sprintf("compile metadata schema: %v", err))
	}
	return schema
}

// sanitizeResponse strips markdown code fences and surrounding prose the model
// sometimes wraps around the JSON object.
func sanitizeResponse(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	// Trim anything before the first brace and after the last.
	if i := strings.Index(s, "{"); i > 0 {
		s = s[i:]
	}
	if j := strings.LastIndex(s, "}"); j >= 0 && j < len(s)-1 {
		s = s[:j+1]
	}
	return strings.TrimSpace(s)
}

// parseAndValidate turns raw model output into a MetadataRecord, or returns
// the list of defects to restate in a correction prompt.
func parseAndValidate(raw string) (*MetadataRecord, []string) {
	cleaned := sanitizeResponse(raw)

	var doc any
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, []string{fmt.Sprintf("response is not valid JSON: %v", err)}
	}

	if err := compiledSchema.Validate(doc); err != nil {
		return nil, []string{fmt.Sprintf("response does not match the required schema: %v", err)}
	}

	var rec MetadataRecord
	if err := json.Unmarshal([]byte(cleaned), &rec); err != nil {
		return nil, []string{fmt.Sprintf("response does not decode into the expected fields: %v", err)}
	}

	if defects := rangeDefects(&rec); len(defects) > 0 {
		return nil, defects
	}
	return &rec, nil
}

// rangeDefects checks coordinate validity beyond what the schema expresses.
func rangeDefects(rec *MetadataRecord) []string {
	var defects []string
	minLon, minLat, maxLon, maxLat := rec.BoundingBox[0], rec.BoundingBox[1], rec.BoundingBox[2], rec.BoundingBox[3]

	for i, lon := range []float64{minLon, maxLon} {
		if lon < -180 || lon > 180 {
			defects = append(defects, fmt.Sprintf("bounding_box longitude %g (position %d) is outside [-180, 180]", lon, i*2))
		}
	}
	for i, lat := range []float64{minLat, maxLat} {
		if lat < -90 || lat > 90 {
			defects = append(defects, fmt.Sprintf("bounding_box latitude %g (position %d) is outside [-90, 90]", lat, i*2+1))
		}
	}
	if minLon > maxLon {
		defects = append(defects, fmt.Sprintf("bounding_box minimum longitude %g exceeds maximum longitude %g", minLon, maxLon))
	}
	if minLat > maxLat {
		defects = append(defects, fmt.Sprintf("bounding_box minimum latitude %g exceeds maximum latitude %g", minLat, maxLat))
	}
	return defects
}
