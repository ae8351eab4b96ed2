package reactive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relata/internal/query"
	"github.com/roach88/relata/internal/relation"
	"github.com/roach88/relata/internal/schema"
	"github.com/roach88/relata/internal/store"
)

const (
	pollInterval = 10 * time.Millisecond
	waitTimeout  = 5 * time.Second

	// Long enough for several poll ticks to pass without a delivery.
	quietPeriod = 100 * time.Millisecond
)

func openTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()

	schemas := schema.NewRegistry()
	require.NoError(t, schemas.Add(&schema.Table{
		Name:   "books",
		Fields: []schema.Field{{Name: "title", Type: schema.TypeText}},
	}))
	relations := relation.NewRegistry(schemas)
	require.NoError(t, relations.AddFromSchemas())

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), schemas, relations)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return NewEngine(s), s
}

func waitRows(t *testing.T, ch <-chan []store.Row) []store.Row {
	t.Helper()
	select {
	case rows := <-ch:
		return rows
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a delivery")
		return nil
	}
}

func waitEntry(t *testing.T, ch <-chan store.ChangeLogEntry) store.ChangeLogEntry {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a change-log entry")
		return store.ChangeLogEntry{}
	}
}

func assertQuiet(t *testing.T, ch <-chan []store.Row) {
	t.Helper()
	select {
	case rows := <-ch:
		t.Fatalf("unexpected delivery of %d row(s)", len(rows))
	case <-time.After(quietPeriod):
	}
}

func TestWatch_InitialDelivery(t *testing.T) {
	engine, s := openTestEngine(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "books", store.Row{"title": "dune"})
	require.NoError(t, err)

	deliveries := make(chan []store.Row, 16)
	sub, err := engine.Watch(query.Spec{Table: "books"}, WatchOptions{
		Interval:  pollInterval,
		Immediate: true,
	}, func(rows []store.Row) { deliveries <- rows })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	rows := waitRows(t, deliveries)
	require.Len(t, rows, 1)
	assert.Equal(t, "dune", rows[0]["title"])
}

func TestWatch_NoRedeliveryWithoutMutation(t *testing.T) {
	engine, s := openTestEngine(t)

	_, err := s.Insert(context.Background(), "books", store.Row{"title": "dune"})
	require.NoError(t, err)

	deliveries := make(chan []store.Row, 16)
	sub, err := engine.Watch(query.Spec{Table: "books"}, WatchOptions{
		Interval:  pollInterval,
		Immediate: true,
	}, func(rows []store.Row) { deliveries <- rows })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	waitRows(t, deliveries)

	// Ticks keep firing, but an unchanged fingerprint must not redeliver.
	assertQuiet(t, deliveries)
}

func TestWatch_DeliversOnMutation(t *testing.T) {
	engine, s := openTestEngine(t)
	ctx := context.Background()

	deliveries := make(chan []store.Row, 16)
	sub, err := engine.Watch(query.Spec{Table: "books"}, WatchOptions{
		Interval:  pollInterval,
		Immediate: true,
	}, func(rows []store.Row) { deliveries <- rows })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	rows := waitRows(t, deliveries)
	assert.Empty(t, rows)

	_, err = s.Insert(ctx, "books", store.Row{"title": "dune"})
	require.NoError(t, err)

	rows = waitRows(t, deliveries)
	require.Len(t, rows, 1)
	assert.Equal(t, "dune", rows[0]["title"])
}

func TestWatch_InPlaceUpdateNeedsChangeSeq(t *testing.T) {
	engine, s := openTestEngine(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, "books", store.Row{"title": "dune"})
	require.NoError(t, err)

	deliveries := make(chan []store.Row, 16)
	sub, err := engine.Watch(query.Spec{Table: "books"}, WatchOptions{
		Interval:  pollInterval,
		Immediate: true,
	}, func(rows []store.Row) { deliveries <- rows })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	waitRows(t, deliveries)

	// Count and max id are unchanged, so the plain fingerprint is blind.
	_, err = s.Update(ctx, "books", id, store.Row{"title": "messiah"})
	require.NoError(t, err)
	assertQuiet(t, deliveries)
}

func TestWatch_ChangeSeqSeesInPlaceUpdate(t *testing.T) {
	engine, s := openTestEngine(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, "books", store.Row{"title": "dune"})
	require.NoError(t, err)

	deliveries := make(chan []store.Row, 16)
	sub, err := engine.Watch(query.Spec{Table: "books"}, WatchOptions{
		Interval:       pollInterval,
		Immediate:      true,
		TrackChangeSeq: true,
	}, func(rows []store.Row) { deliveries <- rows })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	waitRows(t, deliveries)

	_, err = s.Update(ctx, "books", id, store.Row{"title": "messiah"})
	require.NoError(t, err)

	rows := waitRows(t, deliveries)
	require.Len(t, rows, 1)
	assert.Equal(t, "messiah", rows[0]["title"])
}

func TestWatch_CompileErrorIsSynchronous(t *testing.T) {
	engine, _ := openTestEngine(t)

	_, err := engine.Watch(query.Spec{Table: "missing"}, WatchOptions{
		Interval: pollInterval,
	}, func([]store.Row) {})
	require.Error(t, err)
}

func TestWatch_UnsubscribeStopsDeliveries(t *testing.T) {
	engine, s := openTestEngine(t)
	ctx := context.Background()

	deliveries := make(chan []store.Row, 16)
	sub, err := engine.Watch(query.Spec{Table: "books"}, WatchOptions{
		Interval:  pollInterval,
		Immediate: true,
	}, func(rows []store.Row) { deliveries <- rows })
	require.NoError(t, err)

	waitRows(t, deliveries)

	sub.Unsubscribe()
	<-sub.Done()

	_, err = s.Insert(ctx, "books", store.Row{"title": "dune"})
	require.NoError(t, err)
	assertQuiet(t, deliveries)

	// Unsubscribing again is a no-op.
	sub.Unsubscribe()
}

func TestTail_SkipsHistoryByDefault(t *testing.T) {
	engine, s := openTestEngine(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "books", store.Row{"title": "old"})
	require.NoError(t, err)

	entries := make(chan store.ChangeLogEntry, 16)
	sub, err := engine.Tail("books", TailOptions{
		Interval: pollInterval,
	}, func(e store.ChangeLogEntry) { entries <- e })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	id, err := s.Insert(ctx, "books", store.Row{"title": "new"})
	require.NoError(t, err)

	got := waitEntry(t, entries)
	assert.Equal(t, store.ActionInsert, got.Action)
	assert.Equal(t, id, got.RowID, "entries before subscription are not replayed")
}

func TestTail_FromStartReplaysHistory(t *testing.T) {
	engine, s := openTestEngine(t)
	ctx := context.Background()

	first, err := s.Insert(ctx, "books", store.Row{"title": "old"})
	require.NoError(t, err)

	entries := make(chan store.ChangeLogEntry, 16)
	sub, err := engine.Tail("books", TailOptions{
		Interval:  pollInterval,
		FromStart: true,
	}, func(e store.ChangeLogEntry) { entries <- e })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	got := waitEntry(t, entries)
	assert.Equal(t, first, got.RowID)
}

func TestTail_WatermarkDeliversEachEntryOnce(t *testing.T) {
	engine, s := openTestEngine(t)
	ctx := context.Background()

	entries := make(chan store.ChangeLogEntry, 16)
	sub, err := engine.Tail("books", TailOptions{
		Interval: pollInterval,
	}, func(e store.ChangeLogEntry) { entries <- e })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	for _, title := range []string{"a", "b", "c"} {
		_, err := s.Insert(ctx, "books", store.Row{"title": title})
		require.NoError(t, err)
	}

	var ids []int64
	for range 3 {
		ids = append(ids, waitEntry(t, entries).ID)
	}

	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])

	// Quiet afterwards: nothing is re-read past the watermark.
	select {
	case e := <-entries:
		t.Fatalf("unexpected redelivery of change %d", e.ID)
	case <-time.After(quietPeriod):
	}
}

func TestWatch_ZeroIntervalUsesDefault(t *testing.T) {
	engine, s := openTestEngine(t)
	ctx := context.Background()

	deliveries := make(chan []store.Row, 16)
	sub, err := engine.Watch(query.Spec{Table: "books"}, WatchOptions{
		Immediate: true,
	}, func(rows []store.Row) { deliveries <- rows })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	waitRows(t, deliveries)

	// The loop keeps ticking at the default cadence rather than spinning
	// on a zero timer, so the mutation is still picked up.
	_, err = s.Insert(ctx, "books", store.Row{"title": "dune"})
	require.NoError(t, err)

	rows := waitRows(t, deliveries)
	require.Len(t, rows, 1)
}

func TestDefaultWatchOptions(t *testing.T) {
	opts := DefaultWatchOptions()
	assert.Equal(t, 500*time.Millisecond, opts.Interval)
	assert.True(t, opts.Immediate)
	assert.False(t, opts.TrackChangeSeq)
}
