package harvest

import "strings"

// Marker phrases search providers show when they suspect automation. Any one
// of them present in the page text counts as a challenge.
var defaultChallengeMarkers = []string{
	"unusual traffic",
	"i'm not a robot",
	"automated queries",
	"captcha",
	"verify you're human",
}

// ChallengeDetector flags pages that present an anti-automation check. It is a
// heuristic: a case-insensitive substring scan, no DOM inspection.
type ChallengeDetector struct {
	markers []string
}

// NewChallengeDetector builds a detector from the default marker set plus any
// extra phrases from configuration. Blank extras are dropped.
func NewChallengeDetector(extra ...string) *ChallengeDetector {
	markers := make([]string, 0, len(defaultChallengeMarkers)+len(extra))
	markers = append(markers, defaultChallengeMarkers...)
	for _, m := range extra {
		m = strings.TrimSpace(strings.ToLower(m))
		if m == "" {
			continue
		}
		markers = append(markers, m)
	}
	return &ChallengeDetector{markers: markers}
}

// Detect reports whether pageText contains any challenge marker.
func (d *ChallengeDetector) Detect(pageText string) bool {
	if d == nil || pageText == "" {
		return false
	}
	lower := strings.ToLower(pageText)
	for _, m := range d.markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
