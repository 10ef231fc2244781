// Package detector recognizes anti-bot interstitial pages in rendered markup.
package detector

import (
	"strings"
)

// DefaultMarkers are substrings that only appear on challenge pages.
var DefaultMarkers = []string{
	"cf-browser-verification",
	"cf-challenge",
	"challenge-platform",
	"just a moment...",
	"attention required!",
	"px-captcha",
	"g-recaptcha",
	"h-captcha",
	"_incapsula_resource",
	"access denied",
	"are you a robot",
}

// Interstitial matches rendered HTML against a marker list.
type Interstitial struct {
	markers             []string
	BodyLengthThreshold int
}

// Verdict describes why a page looked like an interstitial.
type Verdict struct {
	Marker       string
	ScriptHeavy  bool
	Interstitial bool
}

// New creates a detector. Empty markers fall back to DefaultMarkers.
func New(markers []string, threshold int) *Interstitial {
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	if threshold == 0 {
		threshold = 2048
	}
	lowered := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			lowered = append(lowered, m)
		}
	}
	return &Interstitial{markers: lowered, BodyLengthThreshold: threshold}
}

// Inspect reports whether html carries a known challenge marker, or is a
// tiny shell made mostly of script.
func (d *Interstitial) Inspect(html string) Verdict {
	lower := strings.ToLower(html)
	for _, marker := range d.markers {
		if strings.Contains(lower, marker) {
			return Verdict{Marker: marker, Interstitial: true}
		}
	}
	if len(lower) > 0 && len(lower) < d.BodyLengthThreshold && scriptDensityHigh(lower) {
		return Verdict{ScriptHeavy: true, Interstitial: true}
	}
	return Verdict{}
}

func scriptDensityHigh(lower string) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	return scriptCoverage*100/total >= 50
}
