package crawler

// Session is the mutable state of one top-level crawl. It is passed by
// pointer down the recursion and never shared between crawls, so it needs
// no locking.
type Session struct {
	ID string

	visited map[string]struct{}
	// pause is set once a page has been fetched; the next fetch waits first.
	pause bool

	TotalImported int
	Pages         int
	Blocked       int
	Categories    int
	Subcategories int
}

// NewSession creates an empty session.
func NewSession(id string) *Session {
	return &Session{
		ID:      id,
		visited: make(map[string]struct{}),
	}
}

// Seen reports whether the canonical form of url was already crawled.
func (s *Session) Seen(url string) bool {
	_, ok := s.visited[CanonicalURL(url)]
	return ok
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (s *Session) MarkIfNew(url string) bool {
	key := CanonicalURL(url)
	if key == "" {
		return false
	}
	if _, ok := s.visited[key]; ok {
		return false
	}
	s.visited[key] = struct{}{}
	return true
}

// VisitedCount returns the number of distinct category URLs crawled.
func (s *Session) VisitedCount() int {
	return len(s.visited)
}

func (s *Session) result() Result {
	return Result{
		SessionID:     s.ID,
		Imported:      s.TotalImported,
		Pages:         s.Pages,
		Blocked:       s.Blocked,
		Categories:    s.Categories,
		Subcategories: s.Subcategories,
	}
}
