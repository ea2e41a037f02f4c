package model

import (
	"time"

	"github.com/google/uuid"
)

// WaiverTemplate is a legal acknowledgment document scoped to a program or
// school that a guardian must sign before a child can be enrolled.
type WaiverTemplate struct {
	ID        uuid.UUID  `json:"id"`
	ProgramID *uuid.UUID `json:"program_id,omitempty"`
	SchoolID  *uuid.UUID `json:"school_id,omitempty"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	Required  bool       `json:"required"`
}

// WaiverAcceptance records a signed waiver for a child.
type WaiverAcceptance struct {
	ID         uuid.UUID `json:"id"`
	TemplateID uuid.UUID `json:"template_id"`
	ChildID    int       `json:"child_id"`
	ParentID   int       `json:"parent_id"`
	SignedAt   time.Time `json:"signed_at"`
}

// SignWaiversRequest is the payload for batch waiver signing.
type SignWaiversRequest struct {
	ChildID     int         `json:"child_id" binding:"required"`
	TemplateIDs []uuid.UUID `json:"template_ids" binding:"required,min=1"`
}
