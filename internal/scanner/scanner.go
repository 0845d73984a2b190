// Package scanner extracts hashtags from file content.
package scanner

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Tag filtering modes.
const (
	ModeAll       = "all"
	ModeWhitelist = "whitelist"
)

var (
	// A tag starts with a letter and must not be glued to a preceding word,
	// URL fragment or HTML entity ("page#anchor", "&#39;").
	tagRe   = regexp.MustCompile(`(?:^|[^A-Za-z0-9_&/#])#([A-Za-z][A-Za-z0-9_-]*)`)
	validRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
)

// Scanner turns raw file content into the tag set stored in the index.
// The zero value accepts every tag.
type Scanner struct {
	whitelist map[string]struct{} // lowercased; nil means all tags
}

// New returns a Scanner for the given mode. In whitelist mode only tags
// present in whitelist (compared case-insensitively) are kept.
func New(mode string, whitelist []string) *Scanner {
	s := &Scanner{}
	if mode != ModeWhitelist {
		return s
	}
	s.whitelist = make(map[string]struct{}, len(whitelist))
	for _, t := range whitelist {
		t = strings.TrimPrefix(strings.TrimSpace(t), "#")
		if t != "" {
			s.whitelist[strings.ToLower(t)] = struct{}{}
		}
	}
	return s
}

// Tags extracts and filters the tags of data.
func (s *Scanner) Tags(data []byte) []string {
	tags := ExtractTags(data)
	if s == nil || s.whitelist == nil {
		return tags
	}
	out := tags[:0]
	for _, t := range tags {
		if _, ok := s.whitelist[strings.ToLower(t)]; ok {
			out = append(out, t)
		}
	}
	return out
}

// ExtractTags returns the distinct tags of data in first-seen order.
// Tags differing only in case collapse to the first spelling. Frontmatter
// "tags" entries come before inline hashtags. Content that is not valid
// UTF-8 yields no tags.
func ExtractTags(data []byte) []string {
	if !utf8.Valid(data) {
		return nil
	}
	fm, body := splitFrontmatter(data)

	seen := make(map[string]struct{})
	var out []string
	add := func(t string) {
		key := strings.ToLower(t)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}

	for _, t := range frontmatterTags(fm) {
		add(t)
	}
	for _, m := range tagRe.FindAllSubmatch(body, -1) {
		add(string(m[1]))
	}
	return out
}

// splitFrontmatter separates YAML frontmatter (between leading --- lines)
// from the body. Without valid frontmatter the whole input is body.
func splitFrontmatter(data []byte) (map[string]any, []byte) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, data
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, data
	}

	var fm map[string]any
	if err := yaml.Unmarshal(rest[:idx], &fm); err != nil {
		return nil, data
	}
	return fm, rest[idx+1+len(delim):]
}

// frontmatterTags accepts either a YAML list or a comma/space separated string.
func frontmatterTags(fm map[string]any) []string {
	if fm == nil {
		return nil
	}
	var raw []string
	switch v := fm["tags"].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case string:
		raw = strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	}

	var out []string
	for _, s := range raw {
		s = strings.TrimPrefix(strings.TrimSpace(s), "#")
		if validRe.MatchString(s) {
			out = append(out, s)
		}
	}
	return out
}
