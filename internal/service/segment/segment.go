package segment

import (
	"fmt"
	"sync/atomic"
)

// IDGenerator produces segment ids of the form "<sessionId>-seg-<n>", ordered within
// a session by a monotonic atomic counter. One IDGenerator is shared by all segments
// opened within a single session.
type IDGenerator struct {
	counter uint64
}

// NewIDGenerator creates an IDGenerator starting at zero.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// Next returns the next segment id for sessionId.
func (g *IDGenerator) Next(sessionId string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-seg-%d", sessionId, n)
}

// SeqGenerator produces a strictly increasing, per-session sequence of uint64s,
// starting at 1. It backs both SourceSeqId (assigned at first FINAL_CANDIDATE, spec §3)
// and the global per-session eventSeqId that every published CaptionEvent carries
// (spec §8 P2).
type SeqGenerator struct {
	counter uint64
}

// NewSeqGenerator creates a SeqGenerator starting at zero.
func NewSeqGenerator() *SeqGenerator {
	return &SeqGenerator{}
}

// Next returns the next sequence value, starting at 1.
func (g *SeqGenerator) Next() uint64 {
	return atomic.AddUint64(&g.counter, 1)
}
