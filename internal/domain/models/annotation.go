package models

import (
	"fmt"
	"time"
)

// AnnotationKind discriminates between annotations bound to a text span
// and general annotations on the note as a whole.
type AnnotationKind string

const (
	AnnotationKindAnchored AnnotationKind = "anchored"
	AnnotationKindGeneral  AnnotationKind = "general"
)

// AnnotationStatus is the lifecycle state of an annotation.
type AnnotationStatus string

const (
	AnnotationStatusActive   AnnotationStatus = "active"
	AnnotationStatusResolved AnnotationStatus = "resolved"
)

// SuggestionType classifies AI-originated annotations.
type SuggestionType string

const (
	SuggestionTypeMissingConcept    SuggestionType = "missing_concept"
	SuggestionTypeRewording         SuggestionType = "rewording"
	SuggestionTypeFactualCorrection SuggestionType = "factual_correction"
	SuggestionTypeStructural        SuggestionType = "structural"
)

// ValidSuggestionType reports whether t is one of the known types.
func ValidSuggestionType(t SuggestionType) bool {
	switch t {
	case SuggestionTypeMissingConcept, SuggestionTypeRewording,
		SuggestionTypeFactualCorrection, SuggestionTypeStructural:
		return true
	}
	return false
}

// Annotation is the single entity underlying both root comments and replies.
//
// A root annotation (ThreadRootID == nil) may carry an anchor: a half-open
// character range [StartOffset, EndOffset) into the owning note's plain-text
// content plus the text believed to occupy it. Replies reference the thread,
// not the note text, so they never carry anchor fields.
type Annotation struct {
	ID         string           `json:"id" db:"id"`
	ResourceID string           `json:"resource_id" db:"resource_id"`
	OwnerID    string           `json:"owner_id" db:"owner_id"`
	Kind       AnnotationKind   `json:"kind" db:"kind"`
	Status     AnnotationStatus `json:"status" db:"status"`
	Body       string           `json:"body" db:"body"`

	// Anchor fields, non-nil only when Kind == anchored.
	StartOffset        *int    `json:"start_offset,omitempty" db:"start_offset"`
	EndOffset          *int    `json:"end_offset,omitempty" db:"end_offset"`
	QuotedText         *string `json:"quoted_text,omitempty" db:"quoted_text"`
	IsStale            bool    `json:"is_stale" db:"is_stale"`
	OriginalQuotedText *string `json:"original_quoted_text,omitempty" db:"original_quoted_text"`

	// Thread chain. ThreadRootID is nil for roots. ThreadPrevID points at
	// the previous reply in the chain, or at the root for the first reply.
	ThreadRootID *string `json:"thread_root_id,omitempty" db:"thread_root_id"`
	ThreadPrevID *string `json:"thread_prev_id,omitempty" db:"thread_prev_id"`

	// AI provenance.
	CreatedByAI      bool           `json:"created_by_ai" db:"created_by_ai"`
	AISuggestionType SuggestionType `json:"ai_suggestion_type,omitempty" db:"ai_suggestion_type"`
	ProcessingLogID  *string        `json:"processing_log_id,omitempty" db:"processing_log_id"`
	RetryCount       int            `json:"retry_count" db:"retry_count"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// IsReply reports whether the annotation belongs to another annotation's thread.
func (a *Annotation) IsReply() bool {
	return a.ThreadRootID != nil
}

// Anchored reports whether the annotation carries usable anchor fields.
func (a *Annotation) Anchored() bool {
	return a.Kind == AnnotationKindAnchored && a.StartOffset != nil && a.EndOffset != nil && a.QuotedText != nil
}

// Validate enforces the structural invariants on a record before it is
// persisted. It does not check the anchor against any document text.
func (a *Annotation) Validate() error {
	if a.ResourceID == "" {
		return fmt.Errorf("annotation missing resource id")
	}
	if a.OwnerID == "" {
		return fmt.Errorf("annotation missing owner id")
	}
	switch a.Kind {
	case AnnotationKindAnchored:
		if a.IsReply() {
			return fmt.Errorf("reply annotations cannot be anchored")
		}
		if a.StartOffset == nil || a.EndOffset == nil || a.QuotedText == nil {
			return fmt.Errorf("anchored annotation missing anchor fields")
		}
		if *a.StartOffset < 0 {
			return fmt.Errorf("start offset %d is negative", *a.StartOffset)
		}
		if *a.EndOffset-*a.StartOffset < 1 {
			return fmt.Errorf("anchor range [%d,%d) is empty", *a.StartOffset, *a.EndOffset)
		}
	case AnnotationKindGeneral:
		if a.StartOffset != nil || a.EndOffset != nil || a.QuotedText != nil {
			return fmt.Errorf("general annotation carries anchor fields")
		}
	default:
		return fmt.Errorf("unknown annotation kind %q", a.Kind)
	}
	if a.IsReply() && a.ThreadPrevID == nil {
		return fmt.Errorf("reply missing thread_prev_id")
	}
	return nil
}
