package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/archivemaps/georef-pipeline/internal/config"
	"github.com/archivemaps/georef-pipeline/internal/errsink"
	"github.com/archivemaps/georef-pipeline/internal/events"
	"github.com/archivemaps/georef-pipeline/internal/keys"
	"github.com/archivemaps/georef-pipeline/internal/llm"
	"github.com/archivemaps/georef-pipeline/internal/publish"
	"github.com/archivemaps/georef-pipeline/internal/storage"
	"github.com/archivemaps/georef-pipeline/pkg/logger"
)

// StageName identifies this stage in error records and the run ledger.
const StageName = "extract"

// Stage extracts geospatial metadata from compressed map images. Like the
// compression stage it is stateless and writes only to keys derived from its
// input, so redelivery is safe. The LLM call and the repository push are the
// only blocking external operations; nothing is held across them.
type Stage struct {
	store     storage.ObjectStore
	model     llm.Client
	publisher publish.Publisher
	cfg       config.ExtractConfig
}

func NewStage(store storage.ObjectStore, model llm.Client, publisher publish.Publisher, cfg config.ExtractConfig) *Stage {
	return &Stage{store: store, model: model, publisher: publisher, cfg: cfg}
}

func (s *Stage) Name() string { return StageName }

// Handle runs one extraction: prompt the model, validate with bounded
// correction retries, persist CSV and GeoJSON under the analysis prefix, then
// push the GeoJSON to the dataset repository. The invocation counts as
// complete only once the push succeeds.
func (s *Stage) Handle(ctx context.Context, n events.Notification) error {
	log := logger.Stage(StageName, n.Key)

	if !keys.IsCompressed(n.Key) {
		log.Info().Msg("skipping non-compressed key")
		return nil
	}

	image, err := s.store.Get(ctx, n.Key)
	if err != nil {
		return errsink.NewFault(errsink.KindCorruptInput, "compressed object unreadable", err)
	}

	rec, err := s.extractValidated(ctx, log, image)
	if err != nil {
		return err
	}

	csvData, err := RenderCSV(n.Key, rec)
	if err != nil {
		return fmt.Errorf("render csv: %w", err)
	}
	geoData, err := RenderGeoJSON(n.Key, rec)
	if err != nil {
		return fmt.Errorf("render geojson: %w", err)
	}

	csvKey := keys.CSVKey(n.Key)
	geoKey := keys.GeoJSONKey(n.Key)
	if err := s.store.Put(ctx, csvKey, csvData, "text/csv"); err != nil {
		return fmt.Errorf("write %s: %w", csvKey, err)
	}
	if err := s.store.Put(ctx, geoKey, geoData, "application/geo+json"); err != nil {
		return fmt.Errorf("write %s: %w", geoKey, err)
	}
	log.Info().Str("csv_key", csvKey).Str("geojson_key", geoKey).Msg("analysis artifacts written")

	// The local copies above are not a success state on their own: the push
	// must land. On failure they stay behind for manual recovery.
	name := keys.Name(n.Key)
	message := fmt.Sprintf("Update %s.geojson (source: %s)", name, n.Key)
	commit, err := s.publisher.Push(ctx, name+".geojson", geoData, message)
	if err != nil {
		return errsink.NewFault(errsink.KindPublishFailed,
			fmt.Sprintf("repository push failed; local artifacts remain at %s and %s", csvKey, geoKey), err)
	}

	log.Info().Str("commit", commit).Msg("extraction complete")
	return nil
}

// extractValidated drives the invoke-validate-correct loop. Transport faults
// are retried with backoff up to MaxTransport attempts per call; malformed
// responses get a restated correction prompt up to MaxCorrections times after
// the first attempt.
func (s *Stage) extractValidated(ctx context.Context, log zerolog.Logger, image []byte) (*MetadataRecord, error) {
	prompt := basePrompt
	maxAttempts := 1 + s.cfg.MaxCorrections
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastDefects []string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		response, err := s.invokeWithRetry(ctx, llm.Request{
			Prompt:    prompt,
			Image:     image,
			MediaType: "image/png",
		})
		if err != nil {
			return nil, err
		}

		rec, defects := parseAndValidate(response)
		if rec != nil {
			return rec, nil
		}

		lastDefects = defects
		log.Warn().
			Int("attempt", attempt).
			Strs("defects", defects).
			Msg("model response failed validation")

		if attempt < maxAttempts {
			prompt = buildCorrectionPrompt(defects, response)
		}
	}

	detail := fmt.Sprintf("%d consecutive malformed responses; last defects: %v", maxAttempts, lastDefects)
	return nil, errsink.NewFault(errsink.KindSchemaValidationFailed, detail, nil)
}

// invokeWithRetry calls the model, retrying transport failures with
// exponential backoff. Validation failures are not handled here; they feed
// the correction loop instead.
func (s *Stage) invokeWithRetry(ctx context.Context, req llm.Request) (string, error) {
	attempts := s.cfg.MaxTransport
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			backoff := s.cfg.Backoff * time.Duration(1<<(i-1))
			select {
			case <-ctx.Done():
				return "", errsink.NewFault(errsink.KindExtractionFailed, "stage budget exhausted during backoff", ctx.Err())
			case <-time.After(backoff):
			}
		}

		response, err := s.model.Complete(ctx, req)
		if err == nil {
			return response, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", errsink.NewFault(errsink.KindExtractionFailed,
		fmt.Sprintf("llm invocation failed after %d attempts", attempts), lastErr)
}
