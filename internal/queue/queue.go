// Package queue persists pending ingest work in the queue_events table:
// enqueue coalesces duplicate events per path, drain processes queued rows
// in FIFO order with retry-until-failed semantics.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/L3DigitalNet/markdownkeeper/internal/errs"
	"github.com/L3DigitalNet/markdownkeeper/internal/store"
)

// EventType is the closed set of actions a queued event can request.
type EventType string

const (
	EventUpsert EventType = "upsert"
	EventDelete EventType = "delete"
)

func (t EventType) String() string { return string(t) }

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventUpsert, EventDelete:
		return true
	default:
		return false
	}
}

// Status is the closed set of lifecycle states a queue row passes through.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

func (s Status) String() string { return string(s) }

// Terminal reports whether s ends the event's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// MaxAttempts is the number of failed attempts after which an event is
// marked permanently failed instead of re-queued.
const MaxAttempts = 5

// Event is one row of queue_events.
type Event struct {
	ID        int64
	Path      string
	Type      EventType
	Status    Status
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Processor performs the actual ingest work for one queue event. A
// Repository-shaped value satisfies this in production; tests may supply a
// stub.
type Processor interface {
	ProcessUpsert(ctx context.Context, path string) error
	ProcessDelete(ctx context.Context, path string) (bool, error)
}

// Queue wraps the queue_events table.
type Queue struct {
	db   *store.DB
	now  func() time.Time
	proc Processor
}

// New constructs a Queue bound to db and the given processor.
func New(db *store.DB, proc Processor) *Queue {
	return &Queue{db: db, proc: proc, now: time.Now}
}

const timeLayout = time.RFC3339Nano

func (q *Queue) timestamp() string {
	return q.now().UTC().Format(timeLayout)
}

// Enqueue coalesces changedPaths and deletedPaths into queue rows: a path
// present in deletedPaths wants EventDelete, otherwise EventUpsert. An
// existing non-terminal row for the path is updated in place (type changed
// if necessary); otherwise a new queued row is inserted with attempts=0.
func (q *Queue) Enqueue(ctx context.Context, changedPaths, deletedPaths []string) error {
	deleted := make(map[string]struct{}, len(deletedPaths))
	for _, p := range deletedPaths {
		deleted[p] = struct{}{}
	}

	desired := make(map[string]EventType, len(changedPaths)+len(deletedPaths))
	for _, p := range changedPaths {
		if _, isDel := deleted[p]; !isDel {
			desired[p] = EventUpsert
		}
	}
	for p := range deleted {
		desired[p] = EventDelete
	}

	tx, err := q.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.StorageTransient, "begin enqueue transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for path, wantType := range desired {
		if err := q.enqueueOne(ctx, tx, path, wantType); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.StorageTransient, "commit enqueue transaction", err)
	}
	return nil
}

func (q *Queue) enqueueOne(ctx context.Context, tx *sql.Tx, path string, wantType EventType) error {
	var (
		id        int64
		existType string
	)
	err := tx.QueryRowContext(ctx,
		`SELECT id, event_type FROM queue_events
		 WHERE path = ? AND status IN ('queued', 'processing')
		 ORDER BY id DESC LIMIT 1`, path).Scan(&id, &existType)

	now := q.timestamp()
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err := tx.ExecContext(ctx,
			`INSERT INTO queue_events (path, event_type, status, attempts, created_at, updated_at)
			 VALUES (?, ?, 'queued', 0, ?, ?)`, path, wantType.String(), now, now)
		if err != nil {
			return errs.Wrap(errs.StorageTransient, "insert queue event", err)
		}
		return nil
	case err != nil:
		return errs.Wrap(errs.StorageTransient, "query existing queue event", err)
	}

	if EventType(existType) == wantType {
		return nil
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE queue_events SET event_type = ?, updated_at = ? WHERE id = ?`,
		wantType.String(), now, id)
	if err != nil {
		return errs.Wrap(errs.StorageTransient, "update queue event type", err)
	}
	return nil
}

// DrainResult summarizes one Drain call.
type DrainResult struct {
	Processed int
	Created   int
	Modified  int
	Deleted   int
	Failed    int
}

// Drain repeatedly selects up to batchSize queued rows ordered by
// (created_at, id), processes each, and loops until a scan finds no
// queued rows.
func (q *Queue) Drain(ctx context.Context, batchSize int) (DrainResult, error) {
	var result DrainResult
	if batchSize <= 0 {
		batchSize = 50
	}

	for {
		events, err := q.selectQueued(ctx, batchSize)
		if err != nil {
			return result, err
		}
		if len(events) == 0 {
			return result, nil
		}

		for _, ev := range events {
			outcome, err := q.process(ctx, ev)
			if err != nil {
				return result, err
			}
			if outcome == outcomeRequeued {
				continue
			}
			result.Processed++
			switch outcome {
			case outcomeCreated:
				result.Created++
			case outcomeModified:
				result.Modified++
			case outcomeDeleted:
				result.Deleted++
			case outcomeFailed:
				result.Failed++
			}
		}
	}
}

type outcome int

const (
	outcomeCreated outcome = iota
	outcomeModified
	outcomeDeleted
	outcomeFailed
	outcomeNone
	outcomeRequeued
)

func (q *Queue) selectQueued(ctx context.Context, limit int) ([]Event, error) {
	rows, err := q.db.Conn.QueryContext(ctx,
		`SELECT id, path, event_type, status, attempts, IFNULL(last_error, ''), created_at, updated_at
		 FROM queue_events WHERE status = 'queued'
		 ORDER BY created_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, errs.Wrap(errs.StorageTransient, "select queued events", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev                    Event
			typ, status           string
			createdAt, updatedAt  string
		)
		if err := rows.Scan(&ev.ID, &ev.Path, &typ, &status, &ev.Attempts, &ev.LastError, &createdAt, &updatedAt); err != nil {
			return nil, errs.Wrap(errs.StorageTransient, "scan queue event", err)
		}
		ev.Type = EventType(typ)
		ev.Status = Status(status)
		ev.CreatedAt, _ = time.Parse(timeLayout, createdAt)
		ev.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// process transitions one event from queued through processing to a
// terminal state (or back to queued on transient failure), and reports
// whether the underlying document was created, modified, or deleted.
func (q *Queue) process(ctx context.Context, ev Event) (outcome, error) {
	if err := q.setStatus(ctx, ev.ID, StatusProcessing, ev.Attempts, ""); err != nil {
		return outcomeNone, err
	}

	var (
		out outcome
		err error
	)
	switch ev.Type {
	case EventUpsert:
		existed, statErr := q.documentExists(ctx, ev.Path)
		if statErr != nil {
			err = statErr
			break
		}
		if _, statErr := os.Stat(ev.Path); statErr != nil {
			// File no longer exists: a terminal ingest failure for an
			// absent path degrades to a delete, per spec.
			deleted, delErr := q.proc.ProcessDelete(ctx, ev.Path)
			if delErr != nil {
				err = delErr
				break
			}
			if deleted {
				out = outcomeDeleted
			} else {
				out = outcomeNone
			}
			break
		}
		if procErr := q.proc.ProcessUpsert(ctx, ev.Path); procErr != nil {
			err = procErr
			break
		}
		if existed {
			out = outcomeModified
		} else {
			out = outcomeCreated
		}
	case EventDelete:
		deleted, delErr := q.proc.ProcessDelete(ctx, ev.Path)
		if delErr != nil {
			err = delErr
			break
		}
		if deleted {
			out = outcomeDeleted
		}
	default:
		err = errs.New(errs.InputInvalid, fmt.Sprintf("unknown queue event type %q", ev.Type))
	}

	if err == nil {
		if setErr := q.setStatus(ctx, ev.ID, StatusDone, ev.Attempts, ""); setErr != nil {
			return outcomeNone, setErr
		}
		return out, nil
	}

	attempts := ev.Attempts + 1
	if attempts >= MaxAttempts {
		if setErr := q.setStatus(ctx, ev.ID, StatusFailed, attempts, err.Error()); setErr != nil {
			return outcomeNone, setErr
		}
		return outcomeFailed, nil
	}
	if setErr := q.setStatus(ctx, ev.ID, StatusQueued, attempts, err.Error()); setErr != nil {
		return outcomeNone, setErr
	}
	return outcomeRequeued, nil
}

func (q *Queue) documentExists(ctx context.Context, path string) (bool, error) {
	var id int64
	err := q.db.Conn.QueryRowContext(ctx, `SELECT id FROM documents WHERE path = ?`, path).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, errs.Wrap(errs.StorageTransient, "check document existence", err)
	default:
		return true, nil
	}
}

func (q *Queue) setStatus(ctx context.Context, id int64, status Status, attempts int, lastErr string) error {
	var lastErrArg any
	if lastErr != "" {
		lastErrArg = lastErr
	}
	_, err := q.db.Conn.ExecContext(ctx,
		`UPDATE queue_events SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status.String(), attempts, lastErrArg, q.timestamp(), id)
	if err != nil {
		return errs.Wrap(errs.StorageTransient, "update queue event status", err)
	}
	return nil
}

// PendingCounts returns the number of queue rows grouped by status.
func (q *Queue) PendingCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := q.db.Conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue_events GROUP BY status`)
	if err != nil {
		return nil, errs.Wrap(errs.StorageTransient, "count queue events", err)
	}
	defer rows.Close()

	counts := map[Status]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errs.Wrap(errs.StorageTransient, "scan queue count", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// OldestQueuedAge returns now minus the created_at of the oldest queued
// event, clamped at 0. It returns 0 if there is no queued event.
func (q *Queue) OldestQueuedAge(ctx context.Context, now time.Time) (time.Duration, error) {
	var createdAt string
	err := q.db.Conn.QueryRowContext(ctx,
		`SELECT created_at FROM queue_events WHERE status = 'queued' ORDER BY created_at ASC LIMIT 1`).Scan(&createdAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, errs.Wrap(errs.StorageTransient, "query oldest queued event", err)
	}

	ts, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return 0, nil
	}
	age := now.Sub(ts)
	if age < 0 {
		return 0, nil
	}
	return age, nil
}
