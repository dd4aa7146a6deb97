// Package history keeps a ledger of job runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/model"
)

var (
	ErrNotFound        = fmt.Errorf("run %w", model.ErrNotFound)
	ErrAlreadyFinished = errors.New("already finished")
)

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Run is one execution of a routine on behalf of a client.
type Run struct {
	ID         string     `json:"id"`
	ClientID   string     `json:"client_id"`
	Routine    string     `json:"routine"`
	Status     Status     `json:"status"`
	Output     *string    `json:"output,omitempty"`
	Reason     *string    `json:"reason,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (r Run) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "id: %q, client_id: %q, routine: %q, status: %s", r.ID, r.ClientID, r.Routine, r.Status)
	if r.Output != nil {
		fmt.Fprintf(&sb, ", output: %q", *r.Output)
	}
	if r.Reason != nil {
		fmt.Fprintf(&sb, ", reason: %q", *r.Reason)
	}
	return sb.String()
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens the database at dsn and creates the schema. model.HistoryInMemory
// keeps the ledger in memory.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// every connection of :memory: is a separate database
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL,
			routine TEXT NOT NULL,
			status TEXT NOT NULL,
			output TEXT DEFAULT NULL,
			reason TEXT DEFAULT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER DEFAULT NULL
		);
		CREATE INDEX IF NOT EXISTS runs_client ON runs (client_id, started_at);`,
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Start records a running run. Starting a run which is still running is a
// no-op, starting a finished one returns ErrAlreadyFinished.
func (s *Store) Start(ctx context.Context, id, clientID, routine string) error {
	return s.inTx(ctx, id, func(tx *sql.Tx) error {
		status, err := s.status(ctx, tx, id)
		switch {
		case err == nil && status == StatusRunning:
			return nil
		case err == nil:
			return ErrAlreadyFinished
		case !errors.Is(err, ErrNotFound):
			return err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO runs (id, client_id, routine, status, started_at) VALUES (?,?,?,?,?);`,
			id, clientID, routine, StatusRunning, s.now().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("executing sql insert failed: %w", err)
		}
		return nil
	})
}

// FinishOK marks a run completed with the name of its output.
func (s *Store) FinishOK(ctx context.Context, id, output string) error {
	return s.finish(ctx, id, StatusCompleted, &output, nil)
}

// FinishErr marks a run failed or cancelled with a reason.
func (s *Store) FinishErr(ctx context.Context, id string, status Status, reason string) error {
	if status != StatusFailed && status != StatusCancelled {
		return fmt.Errorf("%w: finish status %q", model.ErrInvalid, status)
	}
	return s.finish(ctx, id, status, nil, &reason)
}

func (s *Store) finish(ctx context.Context, id string, status Status, output, reason *string) error {
	return s.inTx(ctx, id, func(tx *sql.Tx) error {
		current, err := s.status(ctx, tx, id)
		switch {
		case err != nil:
			return err
		case current != StatusRunning:
			return ErrAlreadyFinished
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE runs
			 SET
				status = ?,
				output = ?,
				reason = ?,
				finished_at = ?
			WHERE id = ?;`,
			status, output, reason, s.now().UnixMilli(), id,
		)
		if err != nil {
			return fmt.Errorf("executing sql update failed: %w", err)
		}
		return nil
	})
}

// Get returns the run or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, client_id, routine, status, output, reason, started_at, finished_at FROM runs WHERE id=?`, id,
	)
	run, err := scan(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Run{}, ErrNotFound
	case err != nil:
		return Run{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	return run, nil
}

// List returns at most limit runs of a client, newest first.
func (s *Store) List(ctx context.Context, clientID string, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, client_id, routine, status, output, reason, started_at, finished_at
		 FROM runs WHERE client_id=? ORDER BY started_at DESC, rowid DESC LIMIT ?`, clientID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ret := []Run{}
	for rows.Next() {
		run, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row failed: %w", err)
		}
		ret = append(ret, run)
	}
	return ret, rows.Err()
}

func (s *Store) status(ctx context.Context, tx *sql.Tx, id string) (Status, error) {
	var status Status
	err := tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE id=?`, id).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", ErrNotFound
	case err != nil:
		return "", fmt.Errorf("executing sql query failed: %w", err)
	}
	return status, nil
}

func (s *Store) inTx(ctx context.Context, id string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("run_id", id))
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (Run, error) {
	var run Run
	var started int64
	var finished sql.NullInt64
	err := row.Scan(&run.ID, &run.ClientID, &run.Routine, &run.Status, &run.Output, &run.Reason, &started, &finished)
	if err != nil {
		return Run{}, err
	}
	run.StartedAt = time.UnixMilli(started).UTC()
	if finished.Valid {
		t := time.UnixMilli(finished.Int64).UTC()
		run.FinishedAt = &t
	}
	return run, nil
}
