// Package main implements the meterflow pipeline binary. The pipeline
// transforms raw wide-format meter tables into per-reading anomaly labels in
// five strictly ordered stages: melt, enrich, assemble, engineer, score.
// Each stage writes its artifacts before the next starts, so a run can
// resume from the last completed stage.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meterflow/meterflow/cmd/pipeline/config"
	"github.com/meterflow/meterflow/cmd/pipeline/metrics"
	"github.com/meterflow/meterflow/pkg/assemble"
	"github.com/meterflow/meterflow/pkg/enrich"
	"github.com/meterflow/meterflow/pkg/ensemble"
	"github.com/meterflow/meterflow/pkg/features"
	"github.com/meterflow/meterflow/pkg/melt"
	"github.com/meterflow/meterflow/pkg/meter"
	"github.com/meterflow/meterflow/pkg/source"
	"github.com/meterflow/meterflow/pkg/storage"
)

// Artifact names. Batch artifacts are named per table and chunk.
const (
	manifestArtifact    = "batches.json"
	assembledArtifact   = "assembled.parquet"
	featuresArtifact    = "features.parquet"
	predictionsArtifact = "predictions.parquet"
	summaryArtifact     = "run_summary.json"
)

// BatchRef records one persisted melt batch in the manifest.
type BatchRef struct {
	Name      string          `json:"name"`
	Meter     meter.MeterType `json:"meter"`
	Index     int             `json:"index"`
	Buildings int             `json:"buildings"`
	Rows      int             `json:"rows"`
}

// Manifest lists the melt stage's outputs, including batches that failed to
// persist after retries and were skipped.
type Manifest struct {
	Batches []BatchRef `json:"batches"`
	Skipped []string   `json:"skipped,omitempty"`
}

// Summary is the user-visible run report, logged at the end of the run,
// served on /run/summary, and written as an artifact.
type Summary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	RowsMelted   int `json:"rows_melted"`
	RowsEnriched int `json:"rows_enriched"`
	RowsSampled  int `json:"rows_sampled"`
	RowsScored   int `json:"rows_scored"`

	DroppedNoMetadata  int `json:"dropped_no_metadata"`
	MissingWeather     int `json:"missing_weather"`
	IncompleteFeatures int `json:"incomplete_features"`

	BatchesWritten int      `json:"batches_written"`
	BatchesSkipped []string `json:"batches_skipped,omitempty"`

	Anomalies    int            `json:"anomalies"`
	AnomalyVotes map[string]int `json:"anomaly_votes,omitempty"`
}

// Pipeline wires the stages together and tracks the run summary.
type Pipeline struct {
	cfg      *config.Config
	store    *storage.Store
	enricher *enrich.Enricher
	engineer *features.Engineer
	ensemble *ensemble.Ensemble
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu      sync.Mutex
	summary Summary
	started bool
}

// NewPipeline creates a pipeline over an artifact store and prebuilt stage
// components.
func NewPipeline(
	cfg *config.Config,
	store *storage.Store,
	enricher *enrich.Enricher,
	engineer *features.Engineer,
	ens *ensemble.Ensemble,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		store:    store,
		enricher: enricher,
		engineer: engineer,
		ensemble: ens,
		metrics:  m,
		logger:   logger,
	}
}

// Summary returns a copy of the current run summary and whether a run has
// started. Safe for concurrent use with a running pipeline.
func (p *Pipeline) Summary() (Summary, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summary, p.started
}

func (p *Pipeline) update(fn func(*Summary)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.summary)
}

// Run executes all stages in order. Structural failures (schema, model fit)
// abort the run; per-batch artifact failures are skipped and reported.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	p.summary = Summary{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	p.started = true
	runID := p.summary.RunID
	p.mu.Unlock()

	p.logger.Info("starting pipeline run", "run_id", runID, "out_dir", p.store.Dir())

	manifest, err := p.runMelt(ctx)
	if err != nil {
		return fmt.Errorf("melt stage: %w", err)
	}
	if err := p.runAssemble(ctx, manifest); err != nil {
		return fmt.Errorf("assemble stage: %w", err)
	}
	if err := p.runEngineer(ctx); err != nil {
		return fmt.Errorf("engineer stage: %w", err)
	}
	if err := p.runScore(ctx); err != nil {
		return fmt.Errorf("score stage: %w", err)
	}

	p.update(func(s *Summary) { s.FinishedAt = time.Now().UTC() })

	summary, _ := p.Summary()
	if err := p.store.WriteJSON(summaryArtifact, summary); err != nil {
		return err
	}

	p.logger.Info("pipeline run complete",
		"run_id", runID,
		"rows_melted", summary.RowsMelted,
		"rows_enriched", summary.RowsEnriched,
		"rows_sampled", summary.RowsSampled,
		"rows_scored", summary.RowsScored,
		"dropped_no_metadata", summary.DroppedNoMetadata,
		"batches_skipped", len(summary.BatchesSkipped),
		"anomalies", summary.Anomalies,
	)
	return nil
}

// runMelt melts every wide table into persisted long-format batch artifacts
// and writes the manifest. With --resume and an existing manifest, the stage
// is skipped entirely.
func (p *Pipeline) runMelt(ctx context.Context) (*Manifest, error) {
	if p.cfg.Resume && p.store.Exists(manifestArtifact) {
		p.logger.Info("melt stage skipped, manifest exists")
		var manifest Manifest
		if err := p.store.ReadJSON(manifestArtifact, &manifest); err != nil {
			return nil, err
		}
		// The summary still reports the skipped stage's counts, recovered
		// from the manifest.
		melted := 0
		for _, ref := range manifest.Batches {
			melted += ref.Rows
		}
		p.update(func(s *Summary) {
			s.RowsMelted = melted
			s.BatchesWritten = len(manifest.Batches)
			s.BatchesSkipped = append(s.BatchesSkipped, manifest.Skipped...)
		})
		return &manifest, nil
	}

	start := time.Now()
	tables, err := source.DiscoverWideTables(p.cfg.RawDir)
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{}
	for _, table := range tables {
		melter, err := melt.New(table, p.cfg.ChunkSize)
		if err != nil {
			// Includes SchemaError: structural, aborts before any batch.
			return nil, err
		}

		chunks := melter.Chunks()
		p.logger.Info("melting table",
			"table", table.Name(),
			"buildings", len(melter.Columns()),
			"chunks", len(chunks),
		)

		for i, chunk := range chunks {
			batch, err := melter.Melt(ctx, i, chunk)
			if err != nil {
				return nil, err
			}

			name := fmt.Sprintf("batch_%s_%03d.parquet", table.Name(), i)
			if err := storage.WriteRows(p.store, name, batch.Readings); err != nil {
				p.logger.Error("batch write failed after retries, skipping",
					"batch", name, "error", err)
				manifest.Skipped = append(manifest.Skipped, name)
				p.metrics.RecordBatch("skipped")
				p.update(func(s *Summary) { s.BatchesSkipped = append(s.BatchesSkipped, name) })
				continue
			}

			manifest.Batches = append(manifest.Batches, BatchRef{
				Name:      name,
				Meter:     batch.Meter,
				Index:     i,
				Buildings: len(batch.Buildings),
				Rows:      len(batch.Readings),
			})
			p.metrics.RecordBatch("written")
			p.metrics.AddRows("melted", len(batch.Readings))
			p.update(func(s *Summary) {
				s.BatchesWritten++
				s.RowsMelted += len(batch.Readings)
			})
		}
	}

	if err := p.store.WriteJSON(manifestArtifact, manifest); err != nil {
		return nil, err
	}
	p.metrics.ObserveStage("melt", time.Since(start).Seconds())
	return manifest, nil
}

// runAssemble reads each batch artifact, enriches it, samples it, and appends
// the sample to the single assembled dataset. Batches that cannot be read
// after retries are skipped and reported.
func (p *Pipeline) runAssemble(ctx context.Context, manifest *Manifest) error {
	if p.cfg.Resume && p.store.Exists(assembledArtifact) {
		p.logger.Info("assemble stage skipped, artifact exists")
		rows, err := storage.ReadRows[meter.EnrichedReading](p.store, assembledArtifact)
		if err != nil {
			return err
		}
		p.update(func(s *Summary) { s.RowsSampled = len(rows) })
		return nil
	}

	start := time.Now()
	appender, err := storage.NewAppender[meter.EnrichedReading](p.store, assembledArtifact)
	if err != nil {
		return err
	}

	var assembler *assemble.Assembler
	if p.cfg.Seed != 0 {
		assembler, err = assemble.NewSeeded(appender, p.cfg.SampleRate, p.cfg.Seed)
	} else {
		assembler, err = assemble.New(appender, p.cfg.SampleRate)
	}
	if err != nil {
		appender.Abort()
		return err
	}

	for _, ref := range manifest.Batches {
		if err := ctx.Err(); err != nil {
			appender.Abort()
			return err
		}

		readings, err := storage.ReadRows[meter.Reading](p.store, ref.Name)
		if err != nil {
			p.logger.Error("batch read failed after retries, skipping",
				"batch", ref.Name, "error", err)
			p.metrics.RecordBatch("skipped")
			p.update(func(s *Summary) { s.BatchesSkipped = append(s.BatchesSkipped, ref.Name) })
			continue
		}

		res := p.enricher.Enrich(readings)
		p.metrics.AddRows("enriched", len(res.Rows))
		p.metrics.AddDropped("no_metadata", res.DroppedNoMetadata)
		p.metrics.AddDropped("missing_weather", res.MissingWeather)
		p.update(func(s *Summary) {
			s.RowsEnriched += len(res.Rows)
			s.DroppedNoMetadata += res.DroppedNoMetadata
			s.MissingWeather += res.MissingWeather
		})

		if err := assembler.Consume(res.Rows); err != nil {
			appender.Abort()
			return err
		}
	}

	if err := appender.Close(); err != nil {
		return err
	}

	_, kept := assembler.Stats()
	p.metrics.AddRows("sampled", kept)
	p.update(func(s *Summary) { s.RowsSampled = kept })
	p.metrics.ObserveStage("assemble", time.Since(start).Seconds())
	p.logger.Info("assembled sampled dataset", "rows", kept)
	return nil
}

// runEngineer computes the feature matrix from the assembled dataset.
func (p *Pipeline) runEngineer(ctx context.Context) error {
	if p.cfg.Resume && p.store.Exists(featuresArtifact) {
		p.logger.Info("engineer stage skipped, artifact exists")
		return nil
	}

	start := time.Now()
	rows, err := storage.ReadRows[meter.EnrichedReading](p.store, assembledArtifact)
	if err != nil {
		return err
	}

	vectors, err := p.engineer.Engineer(ctx, rows)
	if err != nil {
		return err
	}
	if err := storage.WriteRows(p.store, featuresArtifact, vectors); err != nil {
		return err
	}

	p.metrics.ObserveStage("engineer", time.Since(start).Seconds())
	p.logger.Info("engineered features", "rows", len(vectors))
	return nil
}

// runScore scales, fits, and votes, then persists predictions and the fitted
// models.
func (p *Pipeline) runScore(ctx context.Context) error {
	start := time.Now()
	vectors, err := storage.ReadRows[meter.FeatureVector](p.store, featuresArtifact)
	if err != nil {
		return err
	}

	res, err := p.ensemble.Score(ctx, vectors)
	if err != nil {
		return err
	}

	if err := storage.WriteRows(p.store, predictionsArtifact, res.Predictions); err != nil {
		return err
	}
	if err := p.ensemble.Persist(p.store); err != nil {
		return err
	}

	p.metrics.AddRows("scored", len(res.Predictions))
	p.metrics.AddDropped("incomplete_features", res.Incomplete)
	p.metrics.AddAnomalies(res.Anomalies)
	p.update(func(s *Summary) {
		s.RowsScored = len(res.Predictions)
		s.IncompleteFeatures = res.Incomplete
		s.Anomalies = res.Anomalies
		s.AnomalyVotes = res.VotesByDetector
	})

	p.metrics.ObserveStage("score", time.Since(start).Seconds())
	p.logger.Info("scored readings",
		"rows", len(res.Predictions),
		"incomplete", res.Incomplete,
		"anomalies", res.Anomalies,
	)
	return nil
}
