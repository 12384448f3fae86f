package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/archivemaps/georef-pipeline/internal/keys"
)

var csvHeader = []string{
	"title",
	"source_key",
	"min_lon",
	"min_lat",
	"max_lon",
	"max_lat",
	"bounding_box",
	"center_lon",
	"center_lat",
	"crs",
	"spatial_coverage",
	"features",
}

// RenderCSV renders one MetadataRecord as a single-row CSV artifact.
func RenderCSV(sourceKey string, rec *MetadataRecord) ([]byte, error) {
	centerLon, centerLat := rec.Center()

	featureList := make([]string, 0, len(rec.Features))
	for _, f := range rec.Features {
		featureList = append(featureList, fmt.Sprintf("%s (%.2f)", f.Description, f.Confidence))
	}

	row := []string{
		keys.Name(sourceKey),
		sourceKey,
		fmt.Sprintf("%g", rec.BoundingBox[0]),
		fmt.Sprintf("%g", rec.BoundingBox[1]),
		fmt.Sprintf("%g", rec.BoundingBox[2]),
		fmt.Sprintf("%g", rec.BoundingBox[3]),
		rec.Envelope(),
		fmt.Sprintf("%g", centerLon),
		fmt.Sprintf("%g", centerLat),
		rec.CRS,
		strings.Join(rec.PlaceNames, "; "),
		strings.Join(featureList, "; "),
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	if err := w.Write(row); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
