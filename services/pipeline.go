package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clip-metrics/models"
	"clip-metrics/storage"
	"clip-metrics/utils"
)

// Fetcher returns the raw metrics payload of a source.
type Fetcher interface {
	Fetch(ctx context.Context, src *models.SourceURL) ([]byte, error)
}

// SoundLookup returns the popularity of a TikTok sound. It never fails.
type SoundLookup interface {
	Lookup(ctx context.Context, title, soundID string) models.EnrichmentResult
}

// Stages holds the collaborators of a Pipeline.
type Stages struct {
	Fetcher    Fetcher
	Sound      SoundLookup
	Normalizer *Normalizer
	Handoff    *storage.Handoff
	Sink       *storage.Sink
}

// FetchResult is what the fetch stage handed off.
type FetchResult struct {
	Source     *models.SourceURL
	Enrichment *models.EnrichmentResult
}

// Pipeline runs fetch, convert and upload for one source at a time. The
// stages talk only through hand-off files, so each can also run in its own
// process.
type Pipeline struct {
	stages Stages
	logger *utils.Logger
}

func NewPipeline(stages Stages, logger *utils.Logger) *Pipeline {
	return &Pipeline{stages: stages, logger: logger}
}

// Fetch downloads the payload of src and hands it off as {platform}_data.json.
// TikTok sounds are looked up first and handed off as music_data.json.
func (p *Pipeline) Fetch(ctx context.Context, src *models.SourceURL) (*FetchResult, error) {
	raw, err := p.stages.Fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}

	result := &FetchResult{Source: src}
	if src.Platform == models.TikTok && p.stages.Sound != nil {
		if title, soundID, ok := SoundRef(raw); ok {
			enrichment := p.stages.Sound.Lookup(ctx, title, soundID)
			if err := p.stages.Handoff.Publish(ctx, models.MusicFile, enrichment); err != nil {
				return nil, err
			}
			result.Enrichment = &enrichment
		} else {
			p.logger.Info("[pipeline] No sound on %s, skipping enrichment", src.ContentID)
		}
	}

	if err := p.stages.Handoff.PublishBytes(ctx, models.DataFile(src.Platform), raw); err != nil {
		return nil, err
	}
	return result, nil
}

// Convert normalises every pending {platform}_data.json into its
// {platform}_metrics.csv. A missing data file means there is nothing to do
// for that platform. music_data.json is deleted together with
// tiktok_data.json, once the TikTok CSV is written.
func (p *Pipeline) Convert(ctx context.Context) ([]models.Record, error) {
	var records []models.Record
	for _, platform := range models.Platforms {
		var rec models.Record
		consumed, err := p.stages.Handoff.Consume(models.DataFile(platform), func(data []byte) error {
			var err error
			if platform == models.TikTok {
				rec, err = p.convertWithEnrichment(ctx, data)
			} else {
				rec, err = p.convert(ctx, platform, data, nil)
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		if consumed {
			p.logger.Info("[pipeline] Wrote %s", models.MetricsFile(platform))
			records = append(records, rec)
		} else if platform == models.TikTok {
			if err := p.stages.Handoff.Remove(models.MusicFile); err != nil {
				return nil, err
			}
		}
	}

	if len(records) == 0 {
		p.logger.Warn("[pipeline] No data files to convert in %s", p.stages.Handoff.Dir())
	}
	return records, nil
}

// convertWithEnrichment normalises TikTok data with the pending sound
// enrichment, if any. The enrichment file stays in place when normalisation
// fails so a retry sees it again.
func (p *Pipeline) convertWithEnrichment(ctx context.Context, data []byte) (models.Record, error) {
	var rec models.Record
	found, err := p.stages.Handoff.Consume(models.MusicFile, func(raw []byte) error {
		var music models.EnrichmentResult
		if err := json.Unmarshal(raw, &music); err != nil {
			return fmt.Errorf("pipeline: read enrichment: %w", err)
		}
		var err error
		rec, err = p.convert(ctx, models.TikTok, data, &music)
		return err
	})
	if err != nil || found {
		return rec, err
	}
	return p.convert(ctx, models.TikTok, data, nil)
}

func (p *Pipeline) convert(ctx context.Context, platform models.Platform, data []byte, e *models.EnrichmentResult) (models.Record, error) {
	r, err := p.stages.Normalizer.Normalize(ctx, platform, data, e)
	if err != nil {
		return nil, err
	}
	if err := storage.WriteRecordFile(p.stages.Handoff.Path(models.MetricsFile(platform)), r); err != nil {
		return nil, err
	}
	return r, nil
}

// Upload appends the single pending metrics CSV to its sheet.
func (p *Pipeline) Upload(ctx context.Context) (*storage.AppendResult, error) {
	return p.stages.Sink.UploadPending(ctx)
}

// Run chains fetch, convert and upload for src in this process.
func (p *Pipeline) Run(ctx context.Context, src *models.SourceURL) (*models.RunReport, error) {
	report := NewRunReport(src)
	p.logger.Info("[pipeline] Run %s: %s", report.RunID, src.Raw)

	fetched, err := p.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	report.Enrichment = fetched.Enrichment
	report.Enriched = fetched.Enrichment != nil && fetched.Enrichment.PopularityCount != models.NotFound

	records, err := p.Convert(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if rec.Platform() == src.Platform {
			report.Record = rec
		}
	}
	if report.Record == nil {
		return nil, fmt.Errorf("pipeline: no %s record was produced", src.Platform)
	}

	uploaded, err := p.Upload(ctx)
	if err != nil {
		return nil, err
	}
	report.Sheet = uploaded.Sheet
	report.StartRow = uploaded.StartRow
	report.Rows = uploaded.Rows
	report.Header = uploaded.Header
	report.Duration = time.Since(report.StartedAt)

	p.logger.Info("[pipeline] Run %s done in %v", report.RunID, report.Duration.Round(time.Millisecond))
	return report, nil
}

// RunAll runs every source in turn, at most one run per interval, and
// returns how many did not succeed. A failed run is reported through done
// and does not stop the batch; a cancelled context does.
func (p *Pipeline) RunAll(ctx context.Context, sources []*models.SourceURL, interval time.Duration, done func(*models.SourceURL, *models.RunReport, error)) int {
	throttle := utils.NewThrottle(interval)
	failed := 0

	for i, src := range sources {
		if err := throttle.Wait(ctx); err != nil {
			p.logger.Warn("[pipeline] Batch stopped: %v", err)
			return failed + len(sources) - i
		}

		report, err := p.Run(ctx, src)
		if err != nil {
			failed++
			p.logger.Error("[pipeline] Run for %s failed: %v", src.Raw, err)
		}
		done(src, report, err)

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return failed + len(sources) - i - 1
		}
	}
	return failed
}
