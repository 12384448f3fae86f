// Package keys defines the object store layout and the deterministic key
// derivations that make pipeline reprocessing idempotent. Every output key is a
// pure function of the source key, so redelivering an event overwrites the same
// objects instead of creating new ones.
package keys

import (
	"fmt"
	"path"
	"strings"
)

// Storage prefixes. Each stage reads from one prefix and writes to another;
// there is no other coordination between stages.
const (
	RawPrefix        = "raw/"
	CompressedPrefix = "compressed/"
	AnalysisPrefix   = "analysis/"
	ErrorPrefix      = "error/"
)

// rasterExts are the upload extensions the compression stage accepts.
var rasterExts = map[string]bool{
	".tif":  true,
	".tiff": true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// Name returns the base name of a key without prefix or extension.
// "raw/denver_1905.tif" -> "denver_1905".
func Name(key string) string {
	base := path.Base(key)
	return strings.TrimSuffix(base, path.Ext(base))
}

// IsRaw reports whether the key lives under the raw prefix with a supported
// raster extension. Non-raster uploads under raw/ are skipped, not failed.
func IsRaw(key string) bool {
	if !strings.HasPrefix(key, RawPrefix) {
		return false
	}
	return rasterExts[strings.ToLower(path.Ext(key))]
}

// IsCompressed reports whether the key is a compression stage output.
func IsCompressed(key string) bool {
	return strings.HasPrefix(key, CompressedPrefix) && strings.EqualFold(path.Ext(key), ".png")
}

// CompressedKey derives the compression output key for a raw key.
// Output is always PNG regardless of the upload format.
func CompressedKey(rawKey string) string {
	return CompressedPrefix + Name(rawKey) + ".png"
}

// CSVKey derives the analysis CSV key for a raw or compressed key.
func CSVKey(key string) string {
	return AnalysisPrefix + Name(key) + ".csv"
}

// GeoJSONKey derives the analysis GeoJSON key for a raw or compressed key.
func GeoJSONKey(key string) string {
	return AnalysisPrefix + Name(key) + ".geojson"
}

// ErrorKey derives the error record key for any stage input key.
func ErrorKey(key string) string {
	return ErrorPrefix + Name(key) + ".json"
}

// RunID is the idempotency identifier for one source image flowing through a
// stage: the same (stage, input key) pair always yields the same id.
func RunID(stage, key string) string {
	return fmt.Sprintf("%s-%s", stage, Name(key))
}
