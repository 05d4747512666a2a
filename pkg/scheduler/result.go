package scheduler

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Status is the per-article outcome of a run.
type Status string

const (
	StatusUpdated   Status = "updated"
	StatusUnchanged Status = "unchanged"
	StatusFailed    Status = "failed"
)

// PersistenceError means a page's bulk write failed. Nothing from that page
// was committed.
type PersistenceError struct {
	Page int
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist page %d: %v", e.Page, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// ArticleOutcome records what happened to one article during a run.
type ArticleOutcome struct {
	ID                primitive.ObjectID `json:"id"`
	Title             string             `json:"title"`
	Status            Status             `json:"status"`
	Added             int                `json:"added"`
	Removed           int                `json:"removed"`
	SynthesisFailures int                `json:"synthesisFailures"`
	Err               error              `json:"-"`
	Error             string             `json:"error,omitempty"`
}

// PageResult records one page of a run.
type PageResult struct {
	Index     int              `json:"index"`
	Skip      int64            `json:"skip"`
	Outcomes  []ArticleOutcome `json:"outcomes"`
	Persisted bool             `json:"persisted"`
	Err       error            `json:"-"`
	Error     string           `json:"error,omitempty"`
}

// Count returns how many outcomes on the page have the given status.
func (p PageResult) Count(status Status) int {
	n := 0
	for _, o := range p.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// SynthesisFailures sums the failed slides over the page.
func (p PageResult) SynthesisFailures() int {
	n := 0
	for _, o := range p.Outcomes {
		n += o.SynthesisFailures
	}
	return n
}

func (p *PageResult) setErr(err error) {
	p.Err = err
	if err != nil {
		p.Error = err.Error()
	}
}

// RunResult is the structured summary of a full run.
type RunResult struct {
	RunID      string       `json:"runId"`
	PageSize   int          `json:"pageSize"`
	Total      int64        `json:"total"`
	Pages      []PageResult `json:"pages"`
	Cancelled  bool         `json:"cancelled"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
}

// Count returns how many articles across all pages have the given status.
func (r *RunResult) Count(status Status) int {
	n := 0
	for _, p := range r.Pages {
		n += p.Count(status)
	}
	return n
}

// FailedPages returns the pages whose fetch or write failed.
func (r *RunResult) FailedPages() []PageResult {
	var out []PageResult
	for _, p := range r.Pages {
		if p.Err != nil {
			out = append(out, p)
		}
	}
	return out
}
