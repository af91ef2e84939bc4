package export

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"supportloop/internal/domain"
	"supportloop/internal/logger"
	"supportloop/internal/storage/sqlite"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var examplesExported = promauto.NewCounter(prometheus.CounterOpts{
	Name: "supportloop_training_examples_exported_total",
	Help: "Training examples written to durable export artifacts.",
})

type Store interface {
	SelectForExport(ctx context.Context, sel sqlite.ExportSelection) ([]domain.ImprovementRecord, error)
	InsertPendingExamples(ctx context.Context, examples []domain.TrainingExample) error
	MarkBatchExported(ctx context.Context, batch domain.ExportBatch) error
	DiscardPendingBatch(ctx context.Context, batchID string) error
	ListExportBatches(ctx context.Context) ([]domain.ExportBatch, error)
	GetExportBatch(ctx context.Context, batchID string) (domain.ExportBatch, error)
	ListTrainingExamples(ctx context.Context, batchID string) ([]domain.TrainingExample, error)
	ExportedImprovementIDs(ctx context.Context) (map[string]bool, error)
}

// Selector filters the ledger for a batch. Zero values select everything not
// yet exported.
type Selector struct {
	MinGain    float64
	Categories []domain.Category
	Reselect   bool
	Limit      int
}

type BatchSummary struct {
	BatchID      string `json:"batch_id"`
	ExampleCount int    `json:"example_count"`
	SizeBytes    int64  `json:"size_bytes"`
	Path         string `json:"path,omitempty"`
}

type Exporter struct {
	store   Store
	dir     string
	persona string
	now     func() time.Time
}

func NewExporter(store Store, dir, persona string) *Exporter {
	return &Exporter{store: store, dir: dir, persona: persona, now: time.Now}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatLine struct {
	Messages []message `json:"messages"`
}

// ExportBatch writes the selected improvements to a new JSONL artifact and
// marks them exported once the file is durable. Nothing is marked when the
// write fails.
func (e *Exporter) ExportBatch(ctx context.Context, sel Selector) (BatchSummary, error) {
	records, err := e.store.SelectForExport(ctx, sqlite.ExportSelection{
		MinGain:    sel.MinGain,
		Categories: sel.Categories,
		Reselect:   sel.Reselect,
		Limit:      sel.Limit,
	})
	if err != nil {
		return BatchSummary{}, err
	}
	if len(records) == 0 {
		logger.Log.Infof("export nothing selected min_gain=%.1f categories=%v", sel.MinGain, sel.Categories)
		return BatchSummary{}, nil
	}

	createdAt := e.now().UTC()
	batchID := uuid.NewString()
	examples := make([]domain.TrainingExample, 0, len(records))
	for _, r := range records {
		examples = append(examples, domain.TrainingExample{
			ImprovementID:  r.ID,
			PromptText:     r.OriginalPrompt,
			CompletionText: r.CorrectedReply,
			BatchID:        batchID,
		})
	}
	if err := e.store.InsertPendingExamples(ctx, examples); err != nil {
		return BatchSummary{}, err
	}

	filename := fmt.Sprintf("%s_%s.jsonl", batchID, createdAt.Format("20060102T150405Z"))
	path := filepath.Join(e.dir, filename)
	size, err := e.writeArtifact(path, examples)
	if err != nil {
		if discardErr := e.store.DiscardPendingBatch(ctx, batchID); discardErr != nil {
			logger.Log.Errorf("export discard batch=%s: %v", batchID, discardErr)
		}
		logger.Log.Errorf("export write batch=%s path=%s: %v", batchID, path, err)
		return BatchSummary{}, fmt.Errorf("%w: %v", domain.ErrExportIO, err)
	}

	batch := domain.ExportBatch{
		BatchID:      batchID,
		Path:         path,
		ExampleCount: len(examples),
		SizeBytes:    size,
		CreatedAt:    createdAt,
	}
	if err := e.store.MarkBatchExported(ctx, batch); err != nil {
		// An unrecorded artifact would be reissued under a new batch id.
		if rmErr := os.Remove(path); rmErr != nil {
			logger.Log.Errorf("export remove orphan path=%s: %v", path, rmErr)
		}
		return BatchSummary{}, err
	}

	examplesExported.Add(float64(len(examples)))
	logger.Log.Infof("export batch=%s examples=%d bytes=%d path=%s", batchID, len(examples), size, path)
	return BatchSummary{BatchID: batchID, ExampleCount: len(examples), SizeBytes: size, Path: path}, nil
}

func (e *Exporter) ListBatches(ctx context.Context) ([]domain.ExportBatch, error) {
	return e.store.ListExportBatches(ctx)
}

// BatchExamples returns a written batch with the examples it holds.
// Batches whose artifact never landed are not found.
func (e *Exporter) BatchExamples(ctx context.Context, batchID string) (domain.ExportBatch, []domain.TrainingExample, error) {
	batch, err := e.store.GetExportBatch(ctx, batchID)
	if err != nil {
		return domain.ExportBatch{}, nil, err
	}
	examples, err := e.store.ListTrainingExamples(ctx, batchID)
	if err != nil {
		return domain.ExportBatch{}, nil, err
	}
	return batch, examples, nil
}

// ExportedCount is the number of distinct improvements present in at least
// one written batch.
func (e *Exporter) ExportedCount(ctx context.Context) (int, error) {
	ids, err := e.store.ExportedImprovementIDs(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// writeArtifact writes to a temp file, syncs it, and links it into place.
// The link fails if the final name exists, so artifacts are never overwritten.
func (e *Exporter) writeArtifact(path string, examples []domain.TrainingExample) (int64, error) {
	if err := os.MkdirAll(e.dir, 0755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(e.dir, ".export-*.tmp")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, ex := range examples {
		if err := enc.Encode(e.toLine(ex)); err != nil {
			tmp.Close()
			return 0, err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, err
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return 0, fmt.Errorf("artifact %s already exists", path)
		}
		return 0, err
	}
	return info.Size(), nil
}

func (e *Exporter) toLine(ex domain.TrainingExample) chatLine {
	return chatLine{Messages: []message{
		{Role: "system", Content: e.persona},
		{Role: "user", Content: ex.PromptText},
		{Role: "assistant", Content: ex.CompletionText},
	}}
}
