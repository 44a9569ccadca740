package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/highlight-run/passwordreplacer/pkg/logger"
)

// maxConcurrentWrites caps ledger transactions in flight. It stays below the
// pool size set in Open so StartRun and FinishRun always find a connection.
const maxConcurrentWrites = 4

const schema = `
CREATE TABLE IF NOT EXISTS dispatch_runs (
	id            BIGSERIAL PRIMARY KEY,
	run_uuid      TEXT NOT NULL,
	bucket        TEXT NOT NULL,
	prefix        TEXT NOT NULL,
	start_token   TEXT NOT NULL DEFAULT '',
	function_name TEXT NOT NULL,
	dry_run       BOOLEAN NOT NULL DEFAULT FALSE,
	status        TEXT NOT NULL,
	pages         INTEGER NOT NULL DEFAULT 0,
	listed        BIGINT NOT NULL DEFAULT 0,
	matched       BIGINT NOT NULL DEFAULT 0,
	invoked       BIGINT NOT NULL DEFAULT 0,
	failed        BIGINT NOT NULL DEFAULT 0,
	last_token    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS dispatch_pages (
	id           BIGSERIAL PRIMARY KEY,
	run_id       BIGINT NOT NULL REFERENCES dispatch_runs(id),
	next_token   TEXT NOT NULL DEFAULT '',
	listed       INTEGER NOT NULL DEFAULT 0,
	matched_keys TEXT[] NOT NULL DEFAULT '{}',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS dispatch_invocations (
	id            BIGSERIAL PRIMARY KEY,
	run_id        BIGINT NOT NULL REFERENCES dispatch_runs(id),
	object_key    TEXT NOT NULL,
	status        TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Postgres records runs in dispatch_runs, completed pages in dispatch_pages
// and one row per invoked key in dispatch_invocations.
type Postgres struct {
	db  *sqlx.DB
	sem *semaphore.Weighted
	log zerolog.Logger
}

// Open connects with the pgx stdlib driver and configures the pool.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// NewPostgres creates a Recorder on db. Invocation writes from the dispatch
// workers go through a semaphore so a wide worker pool queues on it instead
// of on the connection pool.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{
		db:  db,
		sem: semaphore.NewWeighted(maxConcurrentWrites),
		log: logger.Component("ledger"),
	}
}

// EnsureSchema creates the ledger tables if they are missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("could not create ledger schema: %w", err)
	}
	return nil
}

func (p *Postgres) StartRun(ctx context.Context, run Run) (int64, error) {
	query := `
		INSERT INTO dispatch_runs (
			run_uuid, bucket, prefix, start_token,
			function_name, dry_run, status, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	var id int64
	err := p.db.QueryRowxContext(
		ctx, query,
		run.RunUUID, run.Bucket, run.Prefix, run.StartToken,
		run.Function, run.DryRun, StatusRunning, run.StartedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("could not insert run: %w", err)
	}

	return id, nil
}

// RecordInvocation stores the outcome of one invoke and bumps the run
// counters in the same transaction.
func (p *Postgres) RecordInvocation(ctx context.Context, runID int64, key string, invokeErr error) error {
	status, errMsg := InvocationQueued, ""
	invoked, failed := 1, 0
	if invokeErr != nil {
		status, errMsg = InvocationFailed, invokeErr.Error()
		invoked, failed = 0, 1
	}

	return p.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO dispatch_invocations (run_id, object_key, status, error_message)
			VALUES ($1, $2, $3, $4)
		`, runID, key, status, errMsg)
		if err != nil {
			return fmt.Errorf("could not insert invocation: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE dispatch_runs
			SET invoked = invoked + $1, failed = failed + $2
			WHERE id = $3
		`, invoked, failed, runID)
		if err != nil {
			return fmt.Errorf("could not update run counters: %w", err)
		}

		return nil
	})
}

// RecordPage stores the matched keys of a completed page and advances the
// run's resume token.
func (p *Postgres) RecordPage(ctx context.Context, runID int64, page PageRecord) error {
	keys := page.Keys
	if keys == nil {
		keys = []string{}
	}

	return p.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO dispatch_pages (run_id, next_token, listed, matched_keys)
			VALUES ($1, $2, $3, $4)
		`, runID, page.NextToken, page.Listed, pq.Array(keys))
		if err != nil {
			return fmt.Errorf("could not insert page: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE dispatch_runs
			SET pages = pages + 1, listed = listed + $1, matched = matched + $2, last_token = $3
			WHERE id = $4
		`, page.Listed, len(page.Keys), page.NextToken, runID)
		if err != nil {
			return fmt.Errorf("could not update run: %w", err)
		}

		return nil
	})
}

func (p *Postgres) FinishRun(ctx context.Context, runID int64, status, errMsg string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE dispatch_runs
		SET status = $1, error_message = $2, completed_at = $3
		WHERE id = $4
	`, status, errMsg, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("could not finish run: %w", err)
	}
	return nil
}

func (p *Postgres) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("could not acquire semaphore: %w", err)
	}
	defer p.sem.Release(1)

	tx, err := p.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			p.log.Error().Err(rbErr).Msg("could not rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}

	return nil
}

var _ Recorder = (*Postgres)(nil)
