// Package models defines the wire-level data structures published to listeners
// and exchanged between the core pipeline components.
package models

// Event type discriminants for the single outbound caption channel.
const (
	EventTypeTranslation  = "translation"
	EventTypeSessionJoin  = "session_joined"
	EventTypeSessionReady = "session_ready"
	EventTypeSessionEnded = "session_ended"
	EventTypeError        = "error"
	EventTypeSessionStats = "session_stats"
)

// CaptionEvent is the published transcription/translation event. Field names are
// the wire contract; they must not be renamed without a corresponding protocol bump.
type CaptionEvent struct {
	Type           string  `json:"type"`
	EventSeqId     uint64  `json:"eventSeqId"`
	SourceSeqId    *uint64 `json:"sourceSeqId,omitempty"`
	IsPartial      bool    `json:"isPartial"`
	ForceFinal     bool    `json:"forceFinal,omitempty"`
	OriginalText   string  `json:"originalText"`
	CorrectedText  *string `json:"correctedText,omitempty"`
	TranslatedText *string `json:"translatedText,omitempty"`
	SourceLang     string  `json:"sourceLang"`
	TargetLang     string  `json:"targetLang"`
	HasTranslation bool    `json:"hasTranslation"`
	HasCorrection  bool    `json:"hasCorrection"`
	Timestamp      int64   `json:"timestamp"`
}

// SessionJoinedEvent acknowledges a listener joining a session.
type SessionJoinedEvent struct {
	Type       string `json:"type"`
	SessionId  string `json:"sessionId"`
	ListenerId string `json:"listenerId"`
	TargetLang string `json:"targetLang"`
}

// SessionReadyEvent signals the session is wired and ready to stream.
type SessionReadyEvent struct {
	Type      string `json:"type"`
	SessionId string `json:"sessionId"`
}

// SessionEndedEvent signals session shutdown to connected listeners.
type SessionEndedEvent struct {
	Type      string `json:"type"`
	SessionId string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// ErrorKind tags an ErrorEvent with a stable, non-vendor-specific category.
type ErrorKind string

const (
	ErrorKindTransient  ErrorKind = "transient"
	ErrorKindPolicy     ErrorKind = "policy"
	ErrorKindProtocol   ErrorKind = "protocol"
	ErrorKindInvariant  ErrorKind = "invariant"
	ErrorKindBackpressure ErrorKind = "backpressure"
)

// ErrorEvent is a listener-facing error notification. It never carries raw vendor
// error strings (see spec §7 propagation rule).
type ErrorEvent struct {
	Type    string    `json:"type"`
	Message string    `json:"message"`
	Code    ErrorKind `json:"code"`
}

// SessionStatsEvent reports periodic session-level telemetry to listeners.
type SessionStatsEvent struct {
	Type          string `json:"type"`
	ListenerCount int    `json:"listenerCount"`
}

func NewSessionJoined(sessionID, listenerID, targetLang string) SessionJoinedEvent {
	return SessionJoinedEvent{Type: EventTypeSessionJoin, SessionId: sessionID, ListenerId: listenerID, TargetLang: targetLang}
}

func NewSessionReady(sessionID string) SessionReadyEvent {
	return SessionReadyEvent{Type: EventTypeSessionReady, SessionId: sessionID}
}

func NewSessionEnded(sessionID, reason string) SessionEndedEvent {
	return SessionEndedEvent{Type: EventTypeSessionEnded, SessionId: sessionID, Reason: reason}
}

func NewError(kind ErrorKind, message string) ErrorEvent {
	return ErrorEvent{Type: EventTypeError, Message: message, Code: kind}
}

func NewSessionStats(listenerCount int) SessionStatsEvent {
	return SessionStatsEvent{Type: EventTypeSessionStats, ListenerCount: listenerCount}
}
