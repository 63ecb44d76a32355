// Package dedup implements the Deduplicator described in spec §4.2: it removes
// leading-word overlap between a newer final and the previous final, bounded by a time
// window and a maximum number of words to check. It is a pure function with no internal
// state and never errors (spec §4.2 Failure modes).
package dedup

import (
	"time"

	"caption-relay/internal/textnorm"
)

// Config holds the deduplication bounds (spec §6 Configuration: "Deduplication").
type Config struct {
	// TimeWindow bounds how recent previousTimestamp must be for dedup to apply.
	TimeWindow time.Duration
	// MaxWordsToCheck bounds how many trailing/leading words are compared.
	MaxWordsToCheck int
	// MinOverlapWords is the minimum matching run length required to strip anything.
	MinOverlapWords int
}

// DefaultConfig returns the values named as examples in spec §4.2.
func DefaultConfig() Config {
	return Config{
		TimeWindow:      5 * time.Second,
		MaxWordsToCheck: 10,
		MinOverlapWords: 2,
	}
}

// Deduplicator strips the leading words of newText that duplicate the trailing words
// of previousText, when previousTimestamp is within Config.TimeWindow of now.
type Deduplicator struct {
	cfg Config
}

// New creates a Deduplicator with the given configuration.
func New(cfg Config) *Deduplicator {
	return &Deduplicator{cfg: cfg}
}

// Result is the outcome of a Dedup call.
type Result struct {
	Text         string // deduplicated text (or newText unchanged)
	WordsSkipped int    // number of leading words stripped from newText
}

// Dedup compares the suffix of previousText against the prefix of newText (up to
// MaxWordsToCheck words each, case-insensitive and Unicode-normalized via textnorm).
// If the longest matching run is at least MinOverlapWords, that many leading words are
// stripped from newText. previousTimestamp outside TimeWindow of now disables dedup
// entirely and newText is returned unchanged.
func (d *Deduplicator) Dedup(newText, previousText string, previousTimestamp, now time.Time) Result {
	if previousText == "" {
		return Result{Text: newText}
	}
	if d.cfg.TimeWindow > 0 && now.Sub(previousTimestamp) > d.cfg.TimeWindow {
		return Result{Text: newText}
	}

	prevWords := textnorm.Words(previousText)
	newWords := textnorm.Words(newText)
	if len(prevWords) == 0 || len(newWords) == 0 {
		return Result{Text: newText}
	}

	maxCheck := d.cfg.MaxWordsToCheck
	if maxCheck <= 0 || maxCheck > len(prevWords) {
		maxCheck = len(prevWords)
	}
	if maxCheck > len(newWords) {
		maxCheck = len(newWords)
	}

	prevSuffix := foldAll(prevWords[len(prevWords)-maxCheck:])
	newPrefix := foldAll(newWords[:maxCheck])

	overlap := longestMatchingRun(prevSuffix, newPrefix)
	if overlap < d.cfg.MinOverlapWords {
		return Result{Text: newText}
	}

	return Result{Text: rebuildFromWord(newText, newWords, overlap), WordsSkipped: overlap}
}

func foldAll(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = textnorm.Fold(w)
	}
	return out
}

// longestMatchingRun finds the longest k such that the last k entries of prevSuffix
// equal the first k entries of newPrefix.
func longestMatchingRun(prevSuffix, newPrefix []string) int {
	maxK := len(prevSuffix)
	if len(newPrefix) < maxK {
		maxK = len(newPrefix)
	}
	for k := maxK; k >= 1; k-- {
		if equalSlices(prevSuffix[len(prevSuffix)-k:], newPrefix[:k]) {
			return k
		}
	}
	return 0
}

func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// rebuildFromWord strips the first skipWords tokens from text by locating them via
// the original (un-normalized) whitespace-delimited tokenization, preserving the
// original casing/punctuation of whatever remains.
func rebuildFromWord(text string, words []string, skipWords int) string {
	if skipWords >= len(words) {
		return ""
	}
	// Re-split on the same boundaries textnorm.Words used internally is lossy for
	// reconstruction, so instead walk raw whitespace fields and drop the first
	// skipWords that correspond to non-empty tokens.
	raw := splitFieldsPreserving(text)
	skipped := 0
	idx := 0
	for idx < len(raw) && skipped < skipWords {
		if raw[idx] != "" {
			skipped++
		}
		idx++
	}
	remainder := raw[idx:]
	result := joinFields(remainder)
	return result
}

func splitFieldsPreserving(s string) []string {
	// Equivalent to strings.Fields but keeps behavior explicit/local so the
	// skip-count walk above stays in lock-step with textnorm.Words' field count.
	var fields []string
	field := make([]rune, 0, 16)
	flush := func() {
		if len(field) > 0 {
			fields = append(fields, string(field))
			field = field[:0]
		}
	}
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			flush()
			continue
		}
		field = append(field, r)
	}
	flush()
	return fields
}

func joinFields(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += " "
		}
		out += f
	}
	return out
}
