package ledger

import (
	"context"
	"time"
)

// Run statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Invocation statuses
const (
	InvocationQueued = "queued"
	InvocationFailed = "failed"
)

// Run describes one dispatcher execution.
type Run struct {
	RunUUID    string
	Bucket     string
	Prefix     string
	StartToken string
	Function   string
	DryRun     bool
	StartedAt  time.Time
}

// PageRecord lists the keys dispatched from one page together with the
// token that resumes after it.
type PageRecord struct {
	NextToken string
	Listed    int
	Keys      []string
}

// Recorder keeps an audit trail of what was dispatched. RecordInvocation is
// called concurrently by the dispatch workers.
type Recorder interface {
	StartRun(ctx context.Context, run Run) (int64, error)
	RecordInvocation(ctx context.Context, runID int64, key string, invokeErr error) error
	RecordPage(ctx context.Context, runID int64, page PageRecord) error
	FinishRun(ctx context.Context, runID int64, status, errMsg string) error
}

type noopRecorder struct{}

func NewNoop() Recorder {
	return noopRecorder{}
}

func (noopRecorder) StartRun(context.Context, Run) (int64, error) {
	return 0, nil
}

func (noopRecorder) RecordInvocation(context.Context, int64, string, error) error {
	return nil
}

func (noopRecorder) RecordPage(context.Context, int64, PageRecord) error {
	return nil
}

func (noopRecorder) FinishRun(context.Context, int64, string, string) error {
	return nil
}
