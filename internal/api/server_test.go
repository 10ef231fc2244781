package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
	"github.com/JakeFAU/catalog-crawler/internal/progress/sinks"
)

func newTestServer(t *testing.T, checks map[string]Check) (*Server, *sinks.SnapshotSink) {
	t.Helper()
	snapshot := sinks.NewSnapshotSink()
	require.NoError(t, snapshot.Consume(context.Background(), []progress.Event{
		{SessionID: "s1", TS: time.Unix(100, 0).UTC(), Stage: progress.StagePageDone, Category: "tv", Page: 1, Saved: 12},
		{SessionID: "s1", TS: time.Unix(101, 0).UTC(), Stage: progress.StageCrawlDone, Imported: 12},
	}))
	return NewServer(snapshot, checks, zap.NewNop()), snapshot
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	rec := serve(s, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_ReadyzReportsFailures(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, map[string]Check{
		"store": func(context.Context) error { return nil },
		"cache": func(context.Context) error { return errors.New("redis down") },
	})
	rec := serve(s, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"status":"unavailable","failures":{"cache":"redis down"}}`, rec.Body.String())

	ok, _ := newTestServer(t, map[string]Check{"store": func(context.Context) error { return nil }})
	require.Equal(t, http.StatusOK, serve(ok, http.MethodGet, "/readyz").Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	serve(s, http.MethodGet, "/healthz")
	rec := serve(s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "crawler_ops_http_requests_total")
}

func TestServer_Sessions(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)

	rec := serve(s, http.MethodGet, "/v1/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Sessions []sinks.SessionStatus `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 1)
	require.Equal(t, "s1", list.Sessions[0].SessionID)

	rec = serve(s, http.MethodGet, "/v1/sessions/s1")
	require.Equal(t, http.StatusOK, rec.Code)
	var one sinks.SessionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	require.True(t, one.Done)
	require.Equal(t, 12, one.Imported)
	require.Len(t, one.Categories, 1)

	rec = serve(s, http.MethodGet, "/v1/sessions/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SessionsWithoutTracking(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, serve(s, http.MethodGet, "/v1/sessions").Code)
	require.Equal(t, http.StatusServiceUnavailable, serve(s, http.MethodGet, "/v1/sessions/s1").Code)
}

func TestServer_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, map[string]Check{
		"boom": func(context.Context) error { panic("kaboom") },
	})
	rec := serve(s, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
