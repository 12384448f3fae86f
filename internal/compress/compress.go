// Package compress implements the first pipeline stage: turning raw raster
// uploads into size-bounded PNGs under the compressed prefix.
package compress

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"math"

	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	"image/png"

	_ "golang.org/x/image/tiff" // register TIFF decoder

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/archivemaps/georef-pipeline/internal/config"
	"github.com/archivemaps/georef-pipeline/internal/errsink"
	"github.com/archivemaps/georef-pipeline/internal/events"
	"github.com/archivemaps/georef-pipeline/internal/keys"
	"github.com/archivemaps/georef-pipeline/internal/storage"
	"github.com/archivemaps/georef-pipeline/pkg/logger"
)

// StageName identifies this stage in error records and the run ledger.
const StageName = "compress"

const (
	minScale = 0.1
	maxScale = 1.0
)

// Stage compresses raw uploads. Every invocation is a pure function of the
// notification and the injected configuration, and its only output write
// targets a key derived deterministically from the input key, so redelivery
// overwrites rather than duplicates.
type Stage struct {
	store storage.ObjectStore
	cfg   config.CompressConfig
}

func NewStage(store storage.ObjectStore, cfg config.CompressConfig) *Stage {
	return &Stage{store: store, cfg: cfg}
}

func (s *Stage) Name() string { return StageName }

// Handle converts the raw object referenced by n into a PNG at or below the
// configured byte ceiling and writes it under the compressed prefix.
func (s *Stage) Handle(ctx context.Context, n events.Notification) error {
	log := logger.Stage(StageName, n.Key)

	if !keys.IsRaw(n.Key) {
		log.Info().Msg("skipping non-raster key")
		return nil
	}

	data, err := s.store.Get(ctx, n.Key)
	if err != nil {
		return errsink.NewFault(errsink.KindCorruptInput, "source object unreadable", err)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return errsink.NewFault(errsink.KindCorruptInput, "image decode failed", err)
	}
	log.Info().Str("format", format).Int("bytes", len(data)).Msg("source decoded")

	// Flatten exotic color modes (CMYK, 16-bit, paletted) to 8-bit NRGBA before
	// encoding, instead of letting the encoder degrade or reject them.
	flat := imaging.Clone(img)

	encoded, err := encodePNG(flat)
	if err != nil {
		return fmt.Errorf("initial png encode: %w", err)
	}

	if int64(len(encoded)) > s.cfg.TargetBytes {
		encoded, err = s.shrinkToFit(ctx, log, flat, int64(len(encoded)))
		if err != nil {
			return err
		}
	}

	outKey := keys.CompressedKey(n.Key)
	if err := s.store.Put(ctx, outKey, encoded, "image/png"); err != nil {
		return fmt.Errorf("write %s: %w", outKey, err)
	}

	log.Info().
		Str("output_key", outKey).
		Int("output_bytes", len(encoded)).
		Int64("target_bytes", s.cfg.TargetBytes).
		Msg("compressed image written")
	return nil
}

// shrinkToFit binary-searches a uniform scale factor until the encoded PNG
// fits the ceiling. Quality is fixed at maximum PNG compression; only
// resolution moves, and scaling both axes by the same factor preserves aspect
// ratio. The first probe uses a sqrt estimate from the byte overshoot, which
// usually lands within one or two iterations of the answer.
func (s *Stage) shrinkToFit(ctx context.Context, log zerolog.Logger, img image.Image, initialSize int64) ([]byte, error) {
	attempts := s.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	low, high := minScale, maxScale
	estimate := math.Sqrt(float64(s.cfg.TargetBytes) / float64(initialSize))
	probe := math.Min(math.Max(estimate, low), high)

	var best []byte
	width := img.Bounds().Dx()
	height := img.Bounds().Dy()

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		scale := probe
		newWidth := int(float64(width) * scale)
		newHeight := int(float64(height) * scale)
		if newWidth < 1 || newHeight < 1 {
			high = scale
			probe = (low + high) / 2
			continue
		}

		resized := imaging.Resize(img, newWidth, newHeight, imaging.Lanczos)
		encoded, err := encodePNG(resized)
		if err != nil {
			return nil, fmt.Errorf("png encode at scale %.3f: %w", scale, err)
		}

		log.Debug().
			Int("attempt", i+1).
			Float64("scale", scale).
			Int("bytes", len(encoded)).
			Msg("scale probe")

		if int64(len(encoded)) <= s.cfg.TargetBytes {
			best = encoded
			low = scale
		} else {
			high = scale
		}
		probe = (low + high) / 2
	}

	if best == nil {
		detail := fmt.Sprintf("still above %d bytes after %d attempts", s.cfg.TargetBytes, attempts)
		return nil, errsink.NewFault(errsink.KindSizeBudgetExceeded, detail, nil)
	}
	return best, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
