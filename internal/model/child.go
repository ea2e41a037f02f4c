package model

import "time"

// Child represents one child on a parent's account.
type Child struct {
	ID        int        `json:"id"`
	ParentID  int        `json:"parent_id"`
	Name      string     `json:"name"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ChildCandidate is a child as presented inside a checkout: the base record
// plus whether the child already holds a confirmed enrollment in the target
// class. The orchestrator only reads this collection, never mutates it.
type ChildCandidate struct {
	Child
	AlreadyEnrolled bool `json:"already_enrolled"`
}

// CreateChildRequest is the payload for adding a child to the account.
type CreateChildRequest struct {
	Name      string     `json:"name" binding:"required,min=1,max=120"`
	BirthDate *time.Time `json:"birth_date" binding:"omitempty"`
}
