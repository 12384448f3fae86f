package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// basePrompt is the fixed instruction template. The schema the model must
// follow is embedded verbatim so validation failures can be described back to
// it precisely.
const basePrompt = `Analyze the uploaded map image thoroughly to identify all relevant geospatial details. Then return a strictly formatted JSON object with the exact structure and keys below (and nothing else):

{
  "bounding_box": [minLon, minLat, maxLon, maxLat],
  "crs": "string",
  "place_names": ["string"],
  "features": [{"description": "string", "confidence": 0.0}]
}

Instructions:
1. "bounding_box": four numbers in degrees covering the mapped area, in the order minimum longitude, minimum latitude, maximum longitude, maximum latitude. Longitudes must be within [-180, 180] and latitudes within [-90, 90].
2. "crs": the coordinate reference system identifier for the coordinates, e.g. "EPSG:4326". If the map does not state one, use "EPSG:4326".
3. "place_names": every named place visible on the map (counties, towns, townships, landmarks).
4. "features": every notable feature (reservoirs, dams, rivers, lakes, creeks, roads, boundaries) with a short description and your confidence in [0, 1].
5. Return only valid JSON without any extra commentary, explanations, or text outside of the JSON object.`

// buildCorrectionPrompt restates the request around the specific defect of the
// previous answer so the model can fix exactly that.
func buildCorrectionPrompt(defects []string, previous string) string {
	var b strings.Builder
	b.WriteString("Your previous response did not satisfy the required schema. Problems found:\n")
	for _, d := range defects {
		fmt.Fprintf(&b, "- %s\n", d)
	}
	b.WriteString("\nPrevious response:\n")
	b.WriteString(truncate(previous, 2000))
	b.WriteString("\n\n")
	b.WriteString(basePrompt)
	return b.String()
}

// truncate cuts at a rune boundary so a clipped response stays valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
