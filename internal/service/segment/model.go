package segment

import "time"

// Segment is the per-utterance unit of work described in spec §3. It is exclusively
// owned by one SegmentStateMachine; PartialTracker, FinalizationEngine and
// ForcedCommitEngine only ever manipulate it through that owner, never by holding
// their own reference across sessions.
type Segment struct {
	ID        string
	SessionID string
	State     State

	// SourceSeqID is assigned once, at first transition into FINAL_CANDIDATE or
	// FORCED_BUFFERED (spec §3), or at commit for a sentence committed straight from
	// OPEN. Zero means not yet assigned.
	SourceSeqID uint64

	// OriginalText is the committed (or about-to-commit) source-language text.
	// CorrectedText, when non-empty, supersedes OriginalText for display/translation
	// but never mutates history (spec invariant 8). Recovery does not populate this:
	// a recovered tail commits as its own following segment instead (spec §8.4).
	OriginalText  string
	CorrectedText string

	// Translations holds targetLang -> translated text. The Machine never fills it:
	// translated text is published as separate CaptionEvents by supervisor.Session.
	Translations map[string]string

	// PartialSnapshot is the text captured by snapshot isolation at the moment of
	// promotion to FINAL_CANDIDATE/FORCED_BUFFERED (spec invariant 2): later partial
	// mutation never retroactively changes it.
	PartialSnapshot string

	CreatedAt   time.Time
	CandidateAt time.Time
	CommittedAt time.Time

	Forced        bool
	RecoveryEpoch int
}

// Clone performs the deep copy spec invariant 2 requires at promotion time: the
// returned Segment shares no mutable reference with the receiver.
func (s *Segment) Clone() *Segment {
	cp := *s
	if s.Translations != nil {
		cp.Translations = make(map[string]string, len(s.Translations))
		for k, v := range s.Translations {
			cp.Translations[k] = v
		}
	}
	return &cp
}
