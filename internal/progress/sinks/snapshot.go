package sinks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// CategoryStatus is the running state of one category within a session.
type CategoryStatus struct {
	Category   string             `json:"category"`
	Depth      int                `json:"depth"`
	Pages      int                `json:"pages"`
	Saved      int64              `json:"saved"`
	Blocked    int                `json:"blocked"`
	Done       bool               `json:"done"`
	StopReason crawler.StopReason `json:"stop_reason,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// SessionStatus aggregates a crawl session.
type SessionStatus struct {
	SessionID  string           `json:"session_id"`
	Pages      int              `json:"pages"`
	Saved      int64            `json:"saved"`
	Blocked    int              `json:"blocked"`
	Done       bool             `json:"done"`
	Imported   int              `json:"imported"`
	StartedAt  time.Time        `json:"started_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Categories []CategoryStatus `json:"categories"`
}

// SnapshotSink keeps per-session counters in memory for the ops API.
type SnapshotSink struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
}

type sessionState struct {
	status     SessionStatus
	categories map[string]*CategoryStatus
}

// NewSnapshotSink creates an empty snapshot.
func NewSnapshotSink() *SnapshotSink {
	return &SnapshotSink{sessions: make(map[string]*sessionState)}
}

// Consume folds the batch into the running totals.
func (s *SnapshotSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		st := s.session(evt)
		st.status.UpdatedAt = evt.TS
		switch evt.Stage {
		case progress.StagePageDone:
			cat := st.category(evt)
			cat.Pages++
			cat.Saved += evt.Saved
			st.status.Pages++
			st.status.Saved += evt.Saved
			if evt.Blocked {
				cat.Blocked++
				st.status.Blocked++
			}
		case progress.StageCategoryDone:
			if evt.StopReason == crawler.StopVisited {
				// Already tracked under its first visit.
				continue
			}
			cat := st.category(evt)
			cat.Done = true
			cat.StopReason = evt.StopReason
		case progress.StageCrawlDone:
			st.status.Done = true
			st.status.Imported = evt.Imported
		}
	}
	return nil
}

func (s *SnapshotSink) session(evt progress.Event) *sessionState {
	st, ok := s.sessions[evt.SessionID]
	if !ok {
		st = &sessionState{
			status:     SessionStatus{SessionID: evt.SessionID, StartedAt: evt.TS},
			categories: make(map[string]*CategoryStatus),
		}
		s.sessions[evt.SessionID] = st
	}
	return st
}

func (st *sessionState) category(evt progress.Event) *CategoryStatus {
	cat, ok := st.categories[evt.Category]
	if !ok {
		cat = &CategoryStatus{Category: evt.Category, Depth: evt.Depth}
		st.categories[evt.Category] = cat
	}
	cat.UpdatedAt = evt.TS
	return cat
}

// Sessions returns copies of every known session, newest first.
func (s *SnapshotSink) Sessions() []SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionStatus, 0, len(s.sessions))
	for _, st := range s.sessions {
		out = append(out, st.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Session returns a copy of one session.
func (s *SnapshotSink) Session(id string) (SessionStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[id]
	if !ok {
		return SessionStatus{}, false
	}
	return st.snapshot(), true
}

func (st *sessionState) snapshot() SessionStatus {
	out := st.status
	out.Categories = make([]CategoryStatus, 0, len(st.categories))
	for _, cat := range st.categories {
		out.Categories = append(out.Categories, *cat)
	}
	sort.Slice(out.Categories, func(i, j int) bool {
		if out.Categories[i].Depth != out.Categories[j].Depth {
			return out.Categories[i].Depth < out.Categories[j].Depth
		}
		return out.Categories[i].Category < out.Categories[j].Category
	})
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *SnapshotSink) Close(context.Context) error {
	return nil
}
