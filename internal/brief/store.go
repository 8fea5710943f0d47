package brief

import (
	"context"
	"encoding/json"
	"time"
)

// List sort keys accepted by ListFilter.Sort.
const (
	SortNewest    = "-created_at"
	SortOldest    = "created_at"
	SortTopic     = "topic"
	SortTopicDesc = "-topic"
)

type ListFilter struct {
	OwnerID    string
	Search     string
	Status     Status
	Sort       string
	ActiveOnly bool
	Now        time.Time
	Limit      int
	Offset     int
}

// RunResult is everything a successful generate/refresh run writes in one commit.
type RunResult struct {
	SearchMetadata json.RawMessage
	Trials         []Trial
	Summary        string
}

// Store persists briefs and their trials. Implementations must make CompleteRun
// atomic and BeginRefresh a compare-and-set on status.
type Store interface {
	CreateBrief(ctx context.Context, b *Brief) error
	GetBrief(ctx context.Context, id string) (*Brief, error)
	ListBriefs(ctx context.Context, f ListFilter) ([]Brief, int, error)
	DeleteBrief(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// SaveSearchMetadata records the search report before the rest of a run, so a
	// brief that fails later still knows the query it was generated from.
	SaveSearchMetadata(ctx context.Context, id string, meta json.RawMessage, now time.Time) error
	// CompleteRun replaces the brief's trials, metadata and summary and marks it completed.
	CompleteRun(ctx context.Context, id string, res RunResult, now time.Time) error
	// FailRun marks the brief failed with summary as the error text.
	FailRun(ctx context.Context, id, summary string, now time.Time) error
	// BeginRefresh moves a completed or failed brief to generating and returns the
	// previous status. A generating brief yields *StateError and is not modified.
	BeginRefresh(ctx context.Context, id string, now time.Time) (Status, error)
	// RestoreStatus puts back the status captured by BeginRefresh.
	RestoreStatus(ctx context.Context, id string, status Status, now time.Time) error

	ListTrials(ctx context.Context, briefID string) ([]Trial, error)
	CountTrials(ctx context.Context, briefID string) (int, error)
}
