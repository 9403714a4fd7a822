package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/L3DigitalNet/markdownkeeper/internal/store"
)

type stubProcessor struct {
	upsertErr  error
	deleteErr  error
	upserted   []string
	deleted    []string
	deleteFlag bool
}

func (s *stubProcessor) ProcessUpsert(ctx context.Context, path string) error {
	s.upserted = append(s.upserted, path)
	return s.upsertErr
}

func (s *stubProcessor) ProcessDelete(ctx context.Context, path string) (bool, error) {
	s.deleted = append(s.deleted, path)
	return s.deleteFlag, s.deleteErr
}

func newTestQueue(t *testing.T, proc Processor) (*Queue, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, proc), db
}

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.md")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestEventType_Valid(t *testing.T) {
	assert.True(t, EventUpsert.Valid())
	assert.True(t, EventDelete.Valid())
	assert.False(t, EventType("rename").Valid())
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusDone.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusProcessing.Terminal())
}

func TestEnqueue_CoalescesDuplicatePath(t *testing.T) {
	proc := &stubProcessor{}
	q, db := newTestQueue(t, proc)
	ctx := context.Background()

	path := writeFile(t, "hello")
	require.NoError(t, q.Enqueue(ctx, []string{path}, nil))
	require.NoError(t, q.Enqueue(ctx, []string{path}, nil))

	var count int
	require.NoError(t, db.Conn.QueryRow(
		`SELECT COUNT(*) FROM queue_events WHERE path = ? AND status IN ('queued','processing')`, path,
	).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestEnqueue_DeletedPathOverridesChanged(t *testing.T) {
	proc := &stubProcessor{}
	q, db := newTestQueue(t, proc)
	ctx := context.Background()

	path := "/tmp/removed.md"
	require.NoError(t, q.Enqueue(ctx, []string{path}, []string{path}))

	var eventType string
	require.NoError(t, db.Conn.QueryRow(
		`SELECT event_type FROM queue_events WHERE path = ?`, path,
	).Scan(&eventType))
	assert.Equal(t, string(EventDelete), eventType)
}

func TestEnqueue_UpdatesTypeOfExistingRow(t *testing.T) {
	proc := &stubProcessor{}
	q, db := newTestQueue(t, proc)
	ctx := context.Background()

	path := "/tmp/toggled.md"
	require.NoError(t, q.Enqueue(ctx, []string{path}, nil))
	require.NoError(t, q.Enqueue(ctx, nil, []string{path}))

	var eventType string
	require.NoError(t, db.Conn.QueryRow(
		`SELECT event_type FROM queue_events WHERE path = ?`, path,
	).Scan(&eventType))
	assert.Equal(t, string(EventDelete), eventType)

	var count int
	require.NoError(t, db.Conn.QueryRow(
		`SELECT COUNT(*) FROM queue_events WHERE path = ?`, path,
	).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestDrain_ProcessesUpsertAsCreated(t *testing.T) {
	proc := &stubProcessor{}
	q, _ := newTestQueue(t, proc)
	ctx := context.Background()

	path := writeFile(t, "# Title\nbody")
	require.NoError(t, q.Enqueue(ctx, []string{path}, nil))

	result, err := q.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, []string{path}, proc.upserted)
}

func TestDrain_DegradesUpsertToDeleteWhenFileMissing(t *testing.T) {
	proc := &stubProcessor{deleteFlag: true}
	q, _ := newTestQueue(t, proc)
	ctx := context.Background()

	path := writeFile(t, "content")
	require.NoError(t, q.Enqueue(ctx, []string{path}, nil))
	require.NoError(t, os.Remove(path))

	result, err := q.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)
	assert.Empty(t, proc.upserted)
	assert.Equal(t, []string{path}, proc.deleted)
}

func TestDrain_RetriesUntilMaxAttemptsThenFails(t *testing.T) {
	proc := &stubProcessor{upsertErr: errors.New("boom")}
	q, db := newTestQueue(t, proc)
	ctx := context.Background()

	path := writeFile(t, "content")
	require.NoError(t, q.Enqueue(ctx, []string{path}, nil))

	// A re-queued event is selected again by the same Drain call, so one
	// call retries it until it reaches MaxAttempts and is marked failed.
	result, err := q.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Processed, "re-queued attempts should not count as processed")

	again, err := q.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, again.Processed, "a failed event is terminal and is not drained again")

	var status string
	var attempts int
	require.NoError(t, db.Conn.QueryRow(
		`SELECT status, attempts FROM queue_events WHERE path = ?`, path,
	).Scan(&status, &attempts))
	assert.Equal(t, string(StatusFailed), status)
	assert.Equal(t, MaxAttempts, attempts)
	assert.Len(t, proc.upserted, MaxAttempts)
}

func TestDrain_OrdersByCreatedThenID(t *testing.T) {
	proc := &stubProcessor{}
	q, _ := newTestQueue(t, proc)
	ctx := context.Background()

	first := writeFile(t, "a")
	second := writeFile(t, "b")
	require.NoError(t, q.Enqueue(ctx, []string{first}, nil))
	require.NoError(t, q.Enqueue(ctx, []string{second}, nil))

	_, err := q.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{first, second}, proc.upserted)
}

func TestPendingCounts_GroupsByStatus(t *testing.T) {
	proc := &stubProcessor{}
	q, _ := newTestQueue(t, proc)
	ctx := context.Background()

	path := writeFile(t, "a")
	require.NoError(t, q.Enqueue(ctx, []string{path}, nil))

	counts, err := q.PendingCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusQueued])

	_, err = q.Drain(ctx, 10)
	require.NoError(t, err)

	counts, err = q.PendingCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StatusDone])
	assert.Zero(t, counts[StatusQueued])
}

func TestOldestQueuedAge_ZeroWhenEmpty(t *testing.T) {
	proc := &stubProcessor{}
	q, _ := newTestQueue(t, proc)

	age, err := q.OldestQueuedAge(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, age)
}

func TestOldestQueuedAge_ReflectsElapsedTime(t *testing.T) {
	proc := &stubProcessor{}
	q, _ := newTestQueue(t, proc)
	ctx := context.Background()

	path := writeFile(t, "a")
	require.NoError(t, q.Enqueue(ctx, []string{path}, nil))

	later := time.Now().Add(5 * time.Minute)
	age, err := q.OldestQueuedAge(ctx, later)
	require.NoError(t, err)
	assert.InDelta(t, 5*time.Minute, age, float64(time.Second))
}
