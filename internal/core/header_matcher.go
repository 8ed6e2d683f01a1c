package core

import (
	"strings"
)

// NormalizeHeader lowercases and trims h, turns '_' and '-' into spaces and
// collapses runs of whitespace.
func NormalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer("_", " ", "-", " ").Replace(h)
	return strings.Join(strings.Fields(h), " ")
}

// FieldSpec describes how a semantic field is found in a record.
//
// Exact candidates are tried first, in order. Then headers are scanned in
// column order: a header matches when it contains every Tokens entry (or, when
// Tokens is empty, at least one AnyOf entry) and none of Exclude. Blank values
// count as misses and the search goes on.
type FieldSpec struct {
	Exact   []string
	Tokens  []string
	AnyOf   []string
	Exclude []string
}

// Match returns the value of the first header matched by s.
func (s FieldSpec) Match(rec Record) (string, bool) {
	normalized := make([]string, len(rec))
	for i, f := range rec {
		normalized[i] = NormalizeHeader(f.Header)
	}

	for _, cand := range s.Exact {
		want := NormalizeHeader(cand)
		for i, f := range rec {
			if normalized[i] == want && strings.TrimSpace(f.Value) != "" {
				return strings.TrimSpace(f.Value), true
			}
		}
	}

	tokens := normalizeAll(s.Tokens)
	anyOf := normalizeAll(s.AnyOf)
	if len(tokens) == 0 && len(anyOf) == 0 {
		return "", false
	}
	exclude := normalizeAll(s.Exclude)
	for i, f := range rec {
		h := normalized[i]
		if containsAny(h, exclude) {
			continue
		}
		if len(tokens) > 0 {
			if !containsAll(h, tokens) {
				continue
			}
		} else if !containsAny(h, anyOf) {
			continue
		}
		if v := strings.TrimSpace(f.Value); v != "" {
			return v, true
		}
	}
	return "", false
}

// Value is Match without the found flag.
func (s FieldSpec) Value(rec Record) string {
	v, _ := s.Match(rec)
	return v
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := NormalizeHeader(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func containsAll(h string, subs []string) bool {
	for _, s := range subs {
		if !strings.Contains(h, s) {
			return false
		}
	}
	return true
}

func containsAny(h string, subs []string) bool {
	for _, s := range subs {
		if strings.Contains(h, s) {
			return true
		}
	}
	return false
}
