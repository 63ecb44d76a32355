package models

// TranscriptRecord is the append-only persistence record for a committed segment.
// It satisfies the persistence contract in spec §6: append(sessionId, seqId, segment).
// Never updated after being written; a correction is published as a new record with a
// new SourceSeqId (invariant 8).
type TranscriptRecord struct {
	EventType     string            `json:"eventType"`
	SessionID     string            `json:"sessionId"`
	SourceSeqId   uint64            `json:"sourceSeqId"`
	OriginalText  string            `json:"originalText"`
	CorrectedText string            `json:"correctedText,omitempty"`
	Translations  map[string]string `json:"translations,omitempty"`
	Forced        bool              `json:"forced"`
	CreatedAt     int64             `json:"createdAt"`
	CommittedAt   int64             `json:"committedAt"`
}

// TranscriptPartialRecord is published to the partial topic for observability/replay;
// it is never read back by the pipeline itself (reads are not on the hot path).
type TranscriptPartialRecord struct {
	EventType   string `json:"eventType"`
	SessionID   string `json:"sessionId"`
	SourceSeqId uint64 `json:"sourceSeqId,omitempty"`
	Text        string `json:"text"`
	Timestamp   int64  `json:"timestamp"`
}
