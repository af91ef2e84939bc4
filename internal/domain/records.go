package domain

import "time"

// FailureRecord is a reply a reviewer marked "not useful". Never mutated.
type FailureRecord struct {
	ID                 string    `json:"id"`
	CustomerMessage    string    `json:"customer_message"`
	AssistantReply     string    `json:"assistant_reply"`
	HumanCorrection    string    `json:"human_correction,omitempty"` // empty when the reviewer gave none
	FailureExplanation string    `json:"failure_explanation"`
	CapturedAt         time.Time `json:"captured_at"`
	Attempts           int       `json:"attempts"` // generation attempts that produced nothing
}

func (f FailureRecord) HasHumanCorrection() bool {
	return f.HumanCorrection != ""
}

type FailureInput struct {
	CustomerMessage string
	AssistantReply  string
	Explanation     string
	HumanCorrection string
}

// ImprovementRecord is a generated, scored correction derived from exactly one
// FailureRecord. OriginalReply is unique across the ledger.
type ImprovementRecord struct {
	ID                string    `json:"id"`
	SourceFailureID   string    `json:"source_failure_id"`
	OriginalPrompt    string    `json:"original_prompt"`
	OriginalReply     string    `json:"original_reply"`
	CorrectedReply    string    `json:"corrected_reply"`
	ScoreGainEstimate float64   `json:"score_gain_estimate"`
	FailureCategory   Category  `json:"failure_category"`
	CreatedAt         time.Time `json:"created_at"`
}

type TrainingExample struct {
	ID             int64  `json:"id"`
	ImprovementID  string `json:"improvement_id"`
	PromptText     string `json:"prompt_text"`
	CompletionText string `json:"completion_text"`
	BatchID        string `json:"batch_id"`
	Exported       bool   `json:"exported"`
}

type ExportBatch struct {
	BatchID      string    `json:"batch_id"`
	Path         string    `json:"path"`
	ExampleCount int       `json:"example_count"`
	SizeBytes    int64     `json:"size_bytes"`
	CreatedAt    time.Time `json:"created_at"`
}

// Interaction is a single served reply. Useful is nil until a reviewer rates it.
type Interaction struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	VariantKey      string     `json:"variant_key"`
	CustomerMessage string     `json:"customer_message"`
	AssistantReply  string     `json:"assistant_reply"`
	Confidence      float64    `json:"confidence"`
	Useful          *bool      `json:"useful"`
	CreatedAt       time.Time  `json:"created_at"`
	RatedAt         *time.Time `json:"rated_at,omitempty"`
}

type LedgerStats struct {
	Count             int              `json:"count"`
	AvgGain           float64          `json:"avg_gain"`
	CategoryHistogram map[Category]int `json:"category_histogram"`
	LastProcessedAt   time.Time        `json:"last_processed_at"`
}

// DriftMetric is computed on demand; it is logged, never stored.
type DriftMetric struct {
	WindowStart       time.Time `json:"window_start"`
	WindowEnd         time.Time `json:"window_end"`
	AvgConfidence     float64   `json:"avg_confidence"`
	SampleCount       int       `json:"sample_count"`
	DriftFromBaseline float64   `json:"drift_from_baseline"`
}
