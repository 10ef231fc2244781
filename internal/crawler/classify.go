package crawler

import (
	"errors"
	"strings"
)

// StatusSet is a set of HTTP status codes.
type StatusSet map[int]struct{}

// NewStatusSet builds a set from codes.
func NewStatusSet(codes []int) StatusSet {
	set := make(StatusSet, len(codes))
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return set
}

// Has reports whether code is in the set.
func (s StatusSet) Has(code int) bool {
	_, ok := s[code]
	return ok
}

// ClassifyResponse maps a completed response onto a Page or a FetchError.
// Blocked statuses yield an empty Page with Blocked set and no error.
func ClassifyResponse(requestURL, finalURL string, status int, body string, blocked StatusSet) (Page, error) {
	if finalURL == "" {
		finalURL = requestURL
	}
	page := Page{URL: finalURL, StatusCode: status}
	if blocked.Has(status) {
		page.Blocked = true
		return page, nil
	}
	if status < 200 || status >= 300 {
		return page, &FetchError{Kind: FetchHTTPStatus, URL: requestURL, StatusCode: status}
	}
	if strings.TrimSpace(body) == "" {
		return page, &FetchError{Kind: FetchInvalidContent, URL: requestURL, StatusCode: status, Err: errors.New("empty body")}
	}
	page.HTML = body
	return page, nil
}
