package engine

import (
	"example.com/recurring/internal/domain"
)

// ResultTag classifies how one definition fared during a run.
type ResultTag string

const (
	// TagProcessed means occurrences were consumed and the progress was saved.
	TagProcessed ResultTag = "processed"
	// TagCompleted means the definition reached total_occurrences during the run.
	TagCompleted ResultTag = "completed"
	// TagDeferred means the iteration cap or cancellation stopped the loop while still due.
	TagDeferred ResultTag = "deferred"
	// TagUnchanged means the definition needed no iteration.
	TagUnchanged ResultTag = "unchanged"
	// TagPersistFailed means the progress write-back failed; the next run repeats the range.
	TagPersistFailed ResultTag = "persist_failed"
	// TagConflict means another run advanced the definition first.
	TagConflict ResultTag = "conflict"
	// TagError means the definition failed before its progress could be computed.
	TagError ResultTag = "error"
)

// Advanced reports whether the tag counts toward the processed total.
func (t ResultTag) Advanced() bool {
	switch t {
	case TagProcessed, TagCompleted, TagDeferred:
		return true
	}
	return false
}

// DefinitionResult is the per-definition outcome of a run.
type DefinitionResult struct {
	DefinitionID     string        `json:"id"`
	Tag              ResultTag     `json:"status"`
	Iterations       int           `json:"iterations"`
	Materialized     int           `json:"materialized"`
	Skipped          int           `json:"skipped"`
	Duplicates       int           `json:"duplicates"`
	NextDueDate      string        `json:"next_due_date"`
	ExecutionCount   int           `json:"execution_count"`
	DefinitionStatus domain.Status `json:"definition_status"`
	Error            string        `json:"error,omitempty"`

	// Progress is the state reached by the loop, written back by the orchestrator.
	Progress domain.Progress `json:"-"`
}

func newResult(def domain.Definition) DefinitionResult {
	r := DefinitionResult{DefinitionID: def.ID, Tag: TagUnchanged}
	return r.withProgress(def.Progress())
}

func (r DefinitionResult) withProgress(p domain.Progress) DefinitionResult {
	r.Progress = p
	r.NextDueDate = p.NextDueDate.Format(domain.DateLayout)
	r.ExecutionCount = p.ExecutionCount
	r.DefinitionStatus = p.Status
	return r
}

func (r DefinitionResult) fail(tag ResultTag, err error) DefinitionResult {
	r.Tag = tag
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Summary aggregates a run. Values are built by folding results with Add.
type Summary struct {
	Processed int                `json:"processed"`
	Skipped   int                `json:"skipped"`
	Details   []DefinitionResult `json:"details"`
}

// NewSummary returns an empty summary whose details encode as [].
func NewSummary() Summary {
	return Summary{Details: []DefinitionResult{}}
}

// Add returns a new summary including r. The receiver is not modified.
func (s Summary) Add(r DefinitionResult) Summary {
	details := make([]DefinitionResult, len(s.Details), len(s.Details)+1)
	copy(details, s.Details)

	out := Summary{
		Processed: s.Processed,
		Skipped:   s.Skipped + r.Skipped,
		Details:   append(details, r),
	}
	if r.Tag.Advanced() && r.Iterations > 0 {
		out.Processed++
	}
	return out
}

// Materialized totals the ledger rows written during the run.
func (s Summary) Materialized() int {
	total := 0
	for _, d := range s.Details {
		total += d.Materialized
	}
	return total
}
