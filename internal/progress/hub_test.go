package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(1))
	hub.Emit(sampleEvent(2))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(1))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlockingWithoutConsumers asserts Emit never blocks callers.
func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:    Config{},
		events: make(chan Event),
		logger: zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(1))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	hub.Emit(sampleEvent(2))
	require.EqualValues(t, 2, hub.Dropped())
	require.EqualValues(t, 1, hub.pending.Load())
}

// TestHubFlushOnClose ensures Close drains buffered events and closes sinks.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(1))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.closed)

	hub.Emit(sampleEvent(2))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
}

func TestHubReporterConvertsReports(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 100, MaxBatchWait: time.Minute, Clock: fixedClock(at)}, sink)

	var reporter crawler.Reporter = hub
	reporter.PageDone(crawler.PageReport{SessionID: "s1", Category: "tv", Page: 2, Nodes: 24, Items: 23, Saved: 23})
	reporter.CategoryDone(crawler.CategoryReport{SessionID: "s1", Category: "tv", Pages: 4, Imported: 70, StopReason: crawler.StopEmptyStreak})
	hub.CrawlDone(crawler.Result{SessionID: "s1", Pages: 4, Imported: 70})
	// Missing page number, dropped by validation.
	reporter.PageDone(crawler.PageReport{SessionID: "s1", Category: "tv"})

	require.NoError(t, hub.Close(context.Background()))
	batches := sink.Batches()
	require.Len(t, batches, 1)
	events := batches[0]
	require.Len(t, events, 3)

	require.Equal(t, StagePageDone, events[0].Stage)
	require.Equal(t, 2, events[0].Page)
	require.EqualValues(t, 23, events[0].Saved)
	require.Equal(t, at, events[0].TS)

	require.Equal(t, StageCategoryDone, events[1].Stage)
	require.Equal(t, crawler.StopEmptyStreak, events[1].StopReason)
	require.Equal(t, 70, events[1].Imported)

	require.Equal(t, StageCrawlDone, events[2].Stage)
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	ts := time.Now()
	require.NoError(t, Event{SessionID: "s", TS: ts, Stage: StageCrawlDone}.Validate())
	require.Error(t, Event{TS: ts, Stage: StageCrawlDone}.Validate())
	require.Error(t, Event{SessionID: "s", Stage: StageCrawlDone}.Validate())
	require.Error(t, Event{SessionID: "s", TS: ts, Stage: "NOPE"}.Validate())
	require.Error(t, Event{SessionID: "s", TS: ts, Stage: StageCategoryDone}.Validate())
	require.Error(t, Event{SessionID: "s", TS: ts, Stage: StagePageDone, Category: "tv"}.Validate())
	require.Error(t, Event{SessionID: "s", TS: ts, Stage: StageCrawlDone, Dur: -1}.Validate())
}

type fixedClock time.Time

func (c fixedClock) Now() time.Time { return time.Time(c) }

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(page int) Event {
	return Event{
		SessionID: "session-1",
		TS:        time.Now(),
		Stage:     StagePageDone,
		Category:  "televizorji",
		Page:      page,
	}
}
