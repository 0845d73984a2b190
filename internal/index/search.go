package index

import (
	"path/filepath"
	"sort"
	"strings"
)

// Search scores.
const (
	ScoreExactName     = 300
	ScoreNameSubstring = 200
	ScoreTagMatch      = 100
)

// SearchResult is one search hit.
type SearchResult struct {
	Path        string   `json:"path"`
	Score       int      `json:"score"`
	MTime       float64  `json:"mtime"`
	MatchedTags []string `json:"matched_tags,omitempty"`
}

// Search matches query case-insensitively against file names and tags.
// An exact name (with or without extension) outranks a name substring,
// which outranks a tag-only match; equal scores are ordered by path.
// A blank query returns nothing. limit <= 0 means no limit.
func (s *Store) Search(query string, limit int) []SearchResult {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	s.mu.RLock()
	var out []SearchResult
	for p, e := range s.files {
		base := strings.ToLower(filepath.Base(p))
		stem := strings.TrimSuffix(base, filepath.Ext(base))

		var matched []string
		for _, t := range e.Tags {
			if strings.Contains(strings.ToLower(t), q) {
				matched = append(matched, t)
			}
		}

		score := 0
		switch {
		case base == q || stem == q:
			score = ScoreExactName
		case strings.Contains(base, q):
			score = ScoreNameSubstring
		case len(matched) > 0:
			score = ScoreTagMatch
		default:
			continue
		}
		out = append(out, SearchResult{Path: p, Score: score, MTime: e.MTime, MatchedTags: matched})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Path < out[j].Path
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
