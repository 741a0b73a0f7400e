// Package tagquery implements tag normalization, the global tag set, and
// the boolean include/exclude query language described in spec.md §4.8.
//
// No direct teacher analogue exists (the teacher's handlers/search.go is a
// pgvector/AI hybrid search over document embeddings, not applicable here);
// this package follows the teacher's general small-single-responsibility
// policy-struct idiom seen in services/content/mime_policy.go.
package tagquery

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/vanta-vault/vanta/internal/manifest"
	"github.com/vanta-vault/vanta/internal/vaulterrors"
)

var tagPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// Normalize lowercases, trims, and validates a raw tag string per
// spec.md §4.8. An invalid or empty result is InvalidInput.
func Normalize(raw string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(raw))
	if t == "" || !tagPattern.MatchString(t) {
		return "", fmt.Errorf("tagquery: invalid tag %q: %w", raw, vaulterrors.ErrInvalidInput)
	}
	return t, nil
}

// GlobalTagSet returns the sorted union of every entry's tags.
func GlobalTagSet(entries []manifest.ImageEntry) []string {
	set := make(map[string]struct{})
	for _, e := range entries {
		for _, t := range e.Tags {
			set[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Query is a parsed boolean tag expression: an entry matches iff it
// contains every inclusion term and none of the negation terms.
type Query struct {
	Include []string
	Exclude []string
}

// Parse splits a whitespace-separated query string into inclusion and
// negation terms. Terms are lowercased for case-insensitive matching but
// are not otherwise validated — an unknown or malformed-looking term
// simply matches/negates nothing, per spec.md §4.8; Parse itself never
// fails.
func Parse(raw string) Query {
	var q Query
	for _, term := range strings.Fields(raw) {
		if strings.HasPrefix(term, "-") {
			t := strings.ToLower(term[1:])
			if t != "" {
				q.Exclude = append(q.Exclude, t)
			}
			continue
		}
		q.Include = append(q.Include, strings.ToLower(term))
	}
	return q
}

// Matches reports whether an entry satisfies the query.
func (q Query) Matches(e manifest.ImageEntry) bool {
	tags := make(map[string]struct{}, len(e.Tags))
	for _, t := range e.Tags {
		tags[t] = struct{}{}
	}
	for _, inc := range q.Include {
		if _, ok := tags[inc]; !ok {
			return false
		}
	}
	for _, exc := range q.Exclude {
		if _, ok := tags[exc]; ok {
			return false
		}
	}
	return true
}

// Filter returns every entry matching the query, preserving the slice's
// incoming order (the manifest's own iteration order).
func Filter(entries []manifest.ImageEntry, raw string) []manifest.ImageEntry {
	q := Parse(raw)
	out := make([]manifest.ImageEntry, 0, len(entries))
	for _, e := range entries {
		if q.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}
