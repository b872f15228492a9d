package model

import "time"

// ChangeType is the action a proposal performs against the store.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ProposalStatus is the review/apply state of one change proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
	ProposalApplied  ProposalStatus = "applied"
	ProposalFailed   ProposalStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s ProposalStatus) Terminal() bool {
	return s == ProposalRejected || s == ProposalApplied || s == ProposalFailed
}

// CanTransition reports whether moving from s to next is a legal proposal
// state change. A reviewer may still reject an approved proposal up until the
// apply runs; applied/failed are set exactly once by the apply engine and only
// from approved. Rejected, applied and failed are terminal.
func (s ProposalStatus) CanTransition(next ProposalStatus) bool {
	switch s {
	case ProposalPending:
		return next == ProposalApproved || next == ProposalRejected
	case ProposalApproved:
		return next == ProposalRejected || next == ProposalApplied || next == ProposalFailed
	default:
		return false
	}
}

// FieldChange records one differing field in an update proposal.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// ChangeProposal is one row of an extraction session: the unit of review and
// apply. ExistingListingID is set for update/delete, Extracted for
// create/update, FieldDiff only for update.
type ChangeProposal struct {
	ID                string                 `json:"id"`
	SessionID         string                 `json:"session_id"`
	Type              ChangeType             `json:"change_type"`
	Status            ProposalStatus         `json:"status"`
	ExistingListingID string                 `json:"existing_listing_id,omitempty"`
	Extracted         *ExtractedVariant      `json:"extracted,omitempty"`
	FieldDiff         map[string]FieldChange `json:"field_diff,omitempty"`
	Confidence        float64                `json:"confidence"`
	Error             string                 `json:"error,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}
