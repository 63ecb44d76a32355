// Package schema validates outbound wire events before they are broadcast, catching
// malformed CaptionEvent values before they reach a listener socket. Other event
// types, TranscriptRecord included, pass unchecked, and Kafka records are not
// validated.
package schema

import (
	"errors"
	"fmt"

	"caption-relay/internal/models"
)

var (
	ErrMissingType       = errors.New("schema: missing event type")
	ErrMissingSourceLang = errors.New("schema: missing sourceLang")
	ErrMissingTargetLang = errors.New("schema: missing targetLang")
	ErrInconsistentFlags = errors.New("schema: hasCorrection/hasTranslation flag does not match payload")
)

// Validator validates events before publishing or broadcasting.
type Validator struct{}

// New creates a new Validator instance.
func New() *Validator {
	return &Validator{}
}

// Validate checks if an event conforms to its wire schema. Only CaptionEvent is
// validated structurally today; other event shapes pass through (reserved for
// future schema additions).
func (v *Validator) Validate(event any) error {
	switch e := event.(type) {
	case models.CaptionEvent:
		return v.validateCaptionEvent(&e)
	case *models.CaptionEvent:
		return v.validateCaptionEvent(e)
	default:
		return nil
	}
}

func (v *Validator) validateCaptionEvent(e *models.CaptionEvent) error {
	if e.Type == "" {
		return ErrMissingType
	}
	if e.SourceLang == "" {
		return ErrMissingSourceLang
	}
	if e.HasTranslation && e.TargetLang == "" {
		return ErrMissingTargetLang
	}
	if e.HasTranslation && e.TranslatedText == nil {
		return fmt.Errorf("%w: hasTranslation=true but translatedText is nil", ErrInconsistentFlags)
	}
	if e.HasCorrection && e.CorrectedText == nil {
		return fmt.Errorf("%w: hasCorrection=true but correctedText is nil", ErrInconsistentFlags)
	}
	if !e.IsPartial && e.SourceSeqId == nil {
		return fmt.Errorf("schema: final caption event missing sourceSeqId")
	}
	return nil
}
