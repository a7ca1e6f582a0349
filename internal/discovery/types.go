package discovery

import "time"

// Source names the strategy that produced a Result.
type Source string

// Known sources.
const (
	SourceSitemap Source = "sitemap"
	SourceFeed    Source = "feed"
	SourceHTML    Source = "html"
	SourceManual  Source = "manual"
	// SourceNone marks a Result where every strategy came up empty.
	SourceNone Source = "none"
)

// CandidateDocument is a discovered URL plus whatever metadata the discovery
// document carried for it.
type CandidateDocument struct {
	URL             string     `json:"url"`
	LastModified    *time.Time `json:"last_modified,omitempty"`
	Priority        *float64   `json:"priority,omitempty"`
	ChangeFrequency string     `json:"change_frequency,omitempty"`
}

// Result is the outcome of one discovery call. Posts holds at most limit
// documents, while TotalFound counts every classified document before
// truncation.
type Result struct {
	Posts      []CandidateDocument `json:"posts"`
	TotalFound int                 `json:"total_found"`
	Source     Source              `json:"source"`
	Error      string              `json:"error,omitempty"`
}

// URLs returns the post URLs in order.
func (r Result) URLs() []string {
	out := make([]string, 0, len(r.Posts))
	for _, p := range r.Posts {
		out = append(out, p.URL)
	}
	return out
}
