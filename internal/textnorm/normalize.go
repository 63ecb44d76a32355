// Package textnorm provides the Unicode-aware text normalization shared by the
// PartialTracker, Deduplicator, ForcedCommitEngine and SegmentStateMachine: case-insensitive,
// whitespace-collapsed comparison that is safe across the language tags the pipeline
// treats as opaque strings (spec §9, "Language tag normalization" open question explicitly
// keeps tag handling out of the core — this package only folds the text payload).
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"
)

var foldCaser = cases.Fold()

// Fold collapses runs of whitespace to a single space, trims the ends, widens
// halfwidth/fullwidth forms to their canonical width, and case-folds the result.
// Two strings that Fold to the same value are considered the same utterance text
// for overlap/extension comparisons.
func Fold(s string) string {
	s = width.Fold.String(s)
	s = collapseWhitespace(s)
	return foldCaser.String(s)
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastWasSpace := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				b.WriteRune(' ')
			}
			lastWasSpace = true
			continue
		}
		lastWasSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// Words tokenizes on whitespace and strips leading/trailing punctuation from each
// token, matching the Deduplicator's "whitespace + punctuation-stripping" tokenization
// rule (spec §4.2).
func Words(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// HasPrefixFold reports whether s, once Folded, starts with Fold(prefix).
func HasPrefixFold(s, prefix string) bool {
	return strings.HasPrefix(Fold(s), Fold(prefix))
}

// EnsureBCP47 is a best-effort validation helper for glue code that wants to sanity
// check a language tag before handing it to the core as an opaque string. The core
// itself never calls this — tags are compared for equality only (spec §9).
func EnsureBCP47(tag string) bool {
	_, err := language.Parse(tag)
	return err == nil
}
