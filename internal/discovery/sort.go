package discovery

import "sort"

// selectContent dedupes by exact URL (first occurrence wins) and keeps only
// URLs the classifier accepts.
func selectContent(docs []CandidateDocument) []CandidateDocument {
	seen := make(map[string]struct{}, len(docs))
	out := make([]CandidateDocument, 0, len(docs))
	for _, doc := range docs {
		if _, dup := seen[doc.URL]; dup {
			continue
		}
		seen[doc.URL] = struct{}{}
		if IsContentURL(doc.URL) {
			out = append(out, doc)
		}
	}
	return out
}

// sortCandidates orders newest first, then by descending priority, keeping
// encounter order for ties. Undated and unprioritized documents sort last.
func sortCandidates(docs []CandidateDocument) {
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		switch {
		case a.LastModified != nil && b.LastModified != nil:
			if !a.LastModified.Equal(*b.LastModified) {
				return a.LastModified.After(*b.LastModified)
			}
		case a.LastModified != nil:
			return true
		case b.LastModified != nil:
			return false
		}
		switch {
		case a.Priority != nil && b.Priority != nil:
			return *a.Priority > *b.Priority
		case a.Priority != nil:
			return true
		default:
			return false
		}
	})
}

func buildResult(docs []CandidateDocument, source Source, limit int) Result {
	sortCandidates(docs)
	total := len(docs)
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return Result{Posts: docs, TotalFound: total, Source: source}
}
