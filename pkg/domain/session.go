package domain

import (
	"time"
)

// Priority is the triage classification of a session.
type Priority string

const (
	PriorityEmergency Priority = "Emergency"
	PriorityHigh      Priority = "High"
	PriorityMedium    Priority = "Medium"
	PriorityLow       Priority = "Low"
	PriorityPending   Priority = "Pending"
)

// ParsePriority recognises an exact priority label (case-sensitive).
// Pending is not a label a terminal node can carry.
func ParsePriority(label string) (Priority, bool) {
	switch p := Priority(label); p {
	case PriorityEmergency, PriorityHigh, PriorityMedium, PriorityLow:
		return p, true
	}
	return "", false
}

// IsResolved reports whether the priority is final.
func (p Priority) IsResolved() bool {
	return p != PriorityPending && p != ""
}

// SessionStatus is the state of the session state machine.
type SessionStatus string

const (
	StatusPending  SessionStatus = "pending"
	StatusResolved SessionStatus = "resolved"
)

// Session is one operator's run through a protocol version.
type Session struct {
	ID         string `json:"id"`
	LocalID    string `json:"localId,omitempty"`
	OperatorID string `json:"operatorId"`
	ProtocolID string `json:"protocolId,omitempty"`
	VersionID  string `json:"versionId"`

	Responses     []Response `json:"responses"`
	TotalScore    int        `json:"totalScore"`
	FinalPriority Priority   `json:"finalPriority"`

	// CurrentNodeID is the node awaiting an answer while pending.
	CurrentNodeID string `json:"currentNodeId,omitempty"`
	// FinalNodeID is the terminal node that resolved the session, if any.
	FinalNodeID string `json:"finalNodeId,omitempty"`
	// EndedUnexpectedly marks a resolution by dead end rather than a terminal node.
	EndedUnexpectedly bool `json:"endedUnexpectedly,omitempty"`

	Synced           bool       `json:"synced"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	OfflineCreatedAt *time.Time `json:"offlineCreatedAt,omitempty"`
}

// Status derives the state machine state from the priority.
func (s *Session) Status() SessionStatus {
	if s.FinalPriority.IsResolved() {
		return StatusResolved
	}
	return StatusPending
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Responses = make([]Response, len(s.Responses))
	copy(c.Responses, s.Responses)
	if s.OfflineCreatedAt != nil {
		t := *s.OfflineCreatedAt
		c.OfflineCreatedAt = &t
	}
	return &c
}
