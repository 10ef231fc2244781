package sinks

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

func sampleBatch() []progress.Event {
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return []progress.Event{
		{SessionID: "s1", TS: t0, Stage: progress.StagePageDone, Category: "tv", Page: 1, Nodes: 24, Items: 24, Saved: 24, Dur: 1200 * time.Millisecond},
		{SessionID: "s1", TS: t0.Add(time.Second), Stage: progress.StagePageDone, Category: "oled", Depth: 1, Page: 1, Blocked: true},
		{SessionID: "s1", TS: t0.Add(2 * time.Second), Stage: progress.StageCategoryDone, Category: "oled", Depth: 1, Pages: 3, StopReason: crawler.StopEmptyStreak},
		{SessionID: "s1", TS: t0.Add(3 * time.Second), Stage: progress.StageCrawlDone, Pages: 4, Imported: 24},
	}
}

func TestConsoleSinkFormatsLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)
	require.NoError(t, sink.Consume(context.Background(), sampleBatch()))
	require.NoError(t, sink.Close(context.Background()))

	require.Equal(t,
		"[tv p1] 24 nodes, 24 items, saved 24 (1.2s)\n"+
			"  [oled p1] blocked\n"+
			"  oled: 3 pages, 0 products (empty_streak)\n",
		buf.String())
}

func TestLogSinkLogsEveryEvent(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), sampleBatch()))
	require.Equal(t, 4, logs.FilterMessage("progress event").Len())
	require.Equal(t, "tv", logs.All()[0].ContextMap()["category"])
}

func TestSnapshotSinkAggregates(t *testing.T) {
	t.Parallel()

	sink := NewSnapshotSink()
	require.NoError(t, sink.Consume(context.Background(), sampleBatch()))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{SessionID: "s2", TS: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), Stage: progress.StagePageDone, Category: "audio", Page: 1, Saved: 5},
	}))

	sessions := sink.Sessions()
	require.Len(t, sessions, 2)
	require.Equal(t, "s2", sessions[0].SessionID)

	s1, ok := sink.Session("s1")
	require.True(t, ok)
	require.True(t, s1.Done)
	require.Equal(t, 2, s1.Pages)
	require.EqualValues(t, 24, s1.Saved)
	require.Equal(t, 1, s1.Blocked)
	require.Equal(t, 24, s1.Imported)
	require.Len(t, s1.Categories, 2)
	require.Equal(t, "tv", s1.Categories[0].Category)
	require.Equal(t, "oled", s1.Categories[1].Category)
	require.True(t, s1.Categories[1].Done)
	require.Equal(t, crawler.StopEmptyStreak, s1.Categories[1].StopReason)

	_, ok = sink.Session("missing")
	require.False(t, ok)
}

func TestSnapshotSinkIgnoresVisitedSkips(t *testing.T) {
	t.Parallel()

	sink := NewSnapshotSink()
	batch := sampleBatch()
	batch = append(batch, progress.Event{
		SessionID: "s1", TS: batch[2].TS.Add(time.Second), Stage: progress.StageCategoryDone,
		Category: "oled", Depth: 2, StopReason: crawler.StopVisited,
	})
	require.NoError(t, sink.Consume(context.Background(), batch))

	s1, ok := sink.Session("s1")
	require.True(t, ok)
	require.Len(t, s1.Categories, 2)
	require.Equal(t, 1, s1.Categories[1].Depth)
	require.Equal(t, crawler.StopEmptyStreak, s1.Categories[1].StopReason)
}
