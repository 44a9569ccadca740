package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/highlight-run/passwordreplacer/internal/checkpoint"
	"github.com/highlight-run/passwordreplacer/internal/invoke"
	"github.com/highlight-run/passwordreplacer/internal/ledger"
	"github.com/highlight-run/passwordreplacer/internal/storage"
	"github.com/highlight-run/passwordreplacer/pkg/logger"
)

// Config holds the knobs of a dispatch run.
type Config struct {
	Marker  string // substring a key must contain to be dispatched
	Workers int    // concurrent invocations per page
	// Function and DryRun are only recorded in the ledger.
	Function string
	DryRun   bool
}

// Dispatcher pages through a bucket prefix and fires one invocation per
// matching key. Pages are handled strictly one after another; only the
// invocations within a page run concurrently.
type Dispatcher struct {
	lister      storage.Lister
	invoker     invoke.Invoker
	cfg         Config
	out         io.Writer
	checkpoints checkpoint.Store
	ledger      ledger.Recorder
	progress    *Progress
	log         zerolog.Logger
}

type Option func(*Dispatcher)

// WithOutput sets where continuation tokens are printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(d *Dispatcher) { d.out = w }
}

func WithCheckpoints(s checkpoint.Store) Option {
	return func(d *Dispatcher) { d.checkpoints = s }
}

func WithLedger(r ledger.Recorder) Option {
	return func(d *Dispatcher) { d.ledger = r }
}

func WithProgress(p *Progress) Option {
	return func(d *Dispatcher) { d.progress = p }
}

// New creates a Dispatcher. Keys are invoked against lister.Bucket().
func New(lister storage.Lister, invoker invoke.Invoker, cfg Config, opts ...Option) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	d := &Dispatcher{
		lister:      lister,
		invoker:     invoker,
		cfg:         cfg,
		out:         os.Stdout,
		checkpoints: checkpoint.NewNoop(),
		ledger:      ledger.NewNoop(),
		progress:    NewProgress(),
		log:         logger.Component("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Progress exposes the live counters of the current run.
func (d *Dispatcher) Progress() *Progress {
	return d.progress
}

// Matches reports whether key should be dispatched.
func Matches(key, marker string) bool {
	return strings.Contains(key, marker)
}

// Filter returns the keys containing marker, preserving order.
func Filter(keys []string, marker string) []string {
	matched := make([]string, 0, len(keys))
	for _, key := range keys {
		if Matches(key, marker) {
			matched = append(matched, key)
		}
	}
	return matched
}

// Run dispatches every matching key under prefix, starting at token (empty
// for the beginning). After each page has been fully dispatched its
// continuation token is printed, so the last printed token is always safe to
// resume from. The first listing or invocation error stops the run.
func (d *Dispatcher) Run(ctx context.Context, prefix, token string) (err error) {
	bucket := d.lister.Bucket()
	runID := uuid.NewString()
	startedAt := time.Now()

	log := d.log.With().Str("run_id", runID).Str("bucket", bucket).Str("prefix", prefix).Logger()
	d.progress.start(runID, prefix, startedAt)

	rec := d.startLedgerRun(ctx, log, ledger.Run{
		RunUUID:    runID,
		Bucket:     bucket,
		Prefix:     prefix,
		StartToken: token,
		Function:   d.cfg.Function,
		DryRun:     d.cfg.DryRun,
		StartedAt:  startedAt.UTC(),
	})

	defer func() {
		d.progress.finish()

		status, msg := ledger.StatusCompleted, ""
		if err != nil {
			status, msg = ledger.StatusFailed, err.Error()
		}
		rec.finish(context.WithoutCancel(ctx), status, msg)

		snap := d.progress.Snapshot()
		log.Info().
			Int64("pages", snap.Pages).
			Int64("listed", snap.Listed).
			Int64("matched", snap.Matched).
			Int64("invoked", snap.Invoked).
			Int64("failed", snap.Failed).
			Dur("elapsed", time.Since(startedAt)).
			Str("status", status).
			Msg("dispatch finished")
	}()

	if token != "" {
		log.Info().Str("token", token).Msg("resuming from continuation token")
	}

	for pageNum := 1; ; pageNum++ {
		page, err := d.lister.ListPage(ctx, prefix, token)
		if err != nil {
			return fmt.Errorf("failed to list page %d: %w", pageNum, err)
		}

		keys := Filter(page.Keys, d.cfg.Marker)
		d.progress.listed.Add(int64(len(page.Keys)))
		d.progress.matched.Add(int64(len(keys)))

		log.Debug().
			Int("page", pageNum).
			Int("listed", len(page.Keys)).
			Int("matched", len(keys)).
			Msg("dispatching page")

		if err := d.dispatchPage(ctx, bucket, keys, rec); err != nil {
			return fmt.Errorf("failed to dispatch page %d: %w", pageNum, err)
		}

		if !page.Last() {
			if _, err := fmt.Fprintln(d.out, page.NextToken); err != nil {
				return fmt.Errorf("failed to print continuation token: %w", err)
			}
		}
		d.progress.pageDone(page.NextToken)

		rec.page(ctx, pageNum, ledger.PageRecord{NextToken: page.NextToken, Listed: len(page.Keys), Keys: keys})

		if page.Last() {
			if err := d.checkpoints.Clear(ctx, bucket, prefix); err != nil {
				log.Warn().Err(err).Msg("failed to clear checkpoint")
			}
			return nil
		}

		if err := d.checkpoints.Save(ctx, bucket, prefix, page.NextToken); err != nil {
			log.Warn().Err(err).Msg("failed to save checkpoint")
		}
		token = page.NextToken
	}
}

// dispatchPage invokes every key with at most cfg.Workers calls in flight.
func (d *Dispatcher) dispatchPage(ctx context.Context, bucket string, keys []string, rec *runLedger) error {
	if len(keys) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)

	for _, key := range keys {
		g.Go(func() error {
			// A sibling already failed or the run was interrupted.
			if err := gctx.Err(); err != nil {
				return err
			}

			err := d.invoker.Invoke(gctx, invoke.Request{Bucket: bucket, Key: key})
			if err != nil {
				d.progress.failed.Add(1)
			} else {
				d.progress.invoked.Add(1)
			}
			// ctx, not gctx: a failure cancels gctx and its own record must still land.
			rec.invocation(ctx, key, err)
			return err
		})
	}

	return g.Wait()
}

// runLedger binds a Recorder to one run. When the run could not be started
// every later write is skipped, since it would reference a missing run row.
type runLedger struct {
	recorder ledger.Recorder
	id       int64
	ok       bool
	log      zerolog.Logger
}

func (d *Dispatcher) startLedgerRun(ctx context.Context, log zerolog.Logger, run ledger.Run) *runLedger {
	rec := &runLedger{recorder: d.ledger, log: log}

	id, err := d.ledger.StartRun(ctx, run)
	if err != nil {
		log.Warn().Err(err).Msg("failed to record run start, ledger disabled for this run")
		return rec
	}
	rec.id, rec.ok = id, true
	return rec
}

func (r *runLedger) invocation(ctx context.Context, key string, invokeErr error) {
	if !r.ok {
		return
	}
	if err := r.recorder.RecordInvocation(ctx, r.id, key, invokeErr); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("failed to record invocation")
	}
}

func (r *runLedger) page(ctx context.Context, pageNum int, page ledger.PageRecord) {
	if !r.ok {
		return
	}
	if err := r.recorder.RecordPage(ctx, r.id, page); err != nil {
		r.log.Warn().Err(err).Int("page", pageNum).Msg("failed to record page")
	}
}

func (r *runLedger) finish(ctx context.Context, status, errMsg string) {
	if !r.ok {
		return
	}
	if err := r.recorder.FinishRun(ctx, r.id, status, errMsg); err != nil {
		r.log.Warn().Err(err).Msg("failed to record run end")
	}
}

// ResolveStartToken picks the token a run should start from. An explicit
// token always wins; otherwise a stored checkpoint is used when resume is set.
func ResolveStartToken(ctx context.Context, store checkpoint.Store, bucket, prefix, explicit string, resume bool) (string, error) {
	if explicit != "" || !resume {
		return explicit, nil
	}

	token, ok, err := store.Load(ctx, bucket, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}
