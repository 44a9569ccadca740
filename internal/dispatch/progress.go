package dispatch

import (
	"sync"
	"sync/atomic"
	"time"
)

// Progress counts what a run has done so far. It is safe for concurrent
// use by workers and by the status server.
type Progress struct {
	pages   atomic.Int64
	listed  atomic.Int64
	matched atomic.Int64
	invoked atomic.Int64
	failed  atomic.Int64

	mu        sync.RWMutex
	runID     string
	prefix    string
	lastToken string
	startedAt time.Time
	done      bool
}

// Snapshot is a point-in-time copy of Progress.
type Snapshot struct {
	RunID     string    `json:"run_id"`
	Prefix    string    `json:"prefix"`
	Pages     int64     `json:"pages"`
	Listed    int64     `json:"listed"`
	Matched   int64     `json:"matched"`
	Invoked   int64     `json:"invoked"`
	Failed    int64     `json:"failed"`
	LastToken string    `json:"last_token"`
	StartedAt time.Time `json:"started_at"`
	Elapsed   string    `json:"elapsed"`
	Done      bool      `json:"done"`
}

func NewProgress() *Progress {
	return &Progress{}
}

func (p *Progress) start(runID, prefix string, at time.Time) {
	p.pages.Store(0)
	p.listed.Store(0)
	p.matched.Store(0)
	p.invoked.Store(0)
	p.failed.Store(0)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.runID = runID
	p.prefix = prefix
	p.lastToken = ""
	p.startedAt = at
	p.done = false
}

func (p *Progress) pageDone(token string) {
	p.pages.Add(1)
	p.mu.Lock()
	p.lastToken = token
	p.mu.Unlock()
}

func (p *Progress) finish() {
	p.mu.Lock()
	p.done = true
	p.mu.Unlock()
}

func (p *Progress) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	s := Snapshot{
		RunID:     p.runID,
		Prefix:    p.prefix,
		Pages:     p.pages.Load(),
		Listed:    p.listed.Load(),
		Matched:   p.matched.Load(),
		Invoked:   p.invoked.Load(),
		Failed:    p.failed.Load(),
		LastToken: p.lastToken,
		StartedAt: p.startedAt,
		Done:      p.done,
	}
	if !p.startedAt.IsZero() {
		s.Elapsed = time.Since(p.startedAt).Round(time.Millisecond).String()
	}
	return s
}
