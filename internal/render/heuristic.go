package render

import (
	"bytes"
	"net/http"
	"strings"
)

const defaultBodyThreshold = 2048

// Heuristic decides whether a statically fetched page is a JavaScript shell
// that needs rendering.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a detector. A zero threshold uses 2048 bytes.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultBodyThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldRender reports whether the page should be re-fetched in a browser.
// Only successful responses are candidates.
func (h *Heuristic) ShouldRender(status int, body []byte) bool {
	if status != http.StatusOK {
		return false
	}
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether <script> elements cover at least a
// quarter of the document.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Malformed tag: count the rest of the document.
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		next := total
		if relEnd := strings.Index(lower[contentStart:], closeTag); relEnd != -1 {
			next = contentStart + relEnd + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
