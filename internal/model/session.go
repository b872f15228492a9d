package model

import "time"

// SessionStatus is the lifecycle state of an extraction session. It is
// derived from the proposals, never set independently.
type SessionStatus string

const (
	SessionDraft            SessionStatus = "draft"
	SessionReviewing        SessionStatus = "reviewing"
	SessionApplied          SessionStatus = "applied"
	SessionPartiallyApplied SessionStatus = "partially_applied"
)

// ExtractionSession groups the change proposals for one document-processing
// run against one seller.
type ExtractionSession struct {
	ID             string        `json:"id"`
	SellerID       string        `json:"seller_id"`
	Status         SessionStatus `json:"status"`
	TotalExtracted int           `json:"total_extracted"`
	CreatedAt      time.Time     `json:"created_at"`
}

// DeriveSessionStatus computes the session status from its proposals:
// applied iff every approved proposal reached applied, partially_applied if
// any approved proposal failed, reviewing otherwise.
func DeriveSessionStatus(proposals []ChangeProposal) SessionStatus {
	var approved, applied, failed int
	for _, p := range proposals {
		switch p.Status {
		case ProposalApproved:
			approved++
		case ProposalApplied:
			applied++
		case ProposalFailed:
			failed++
		}
	}
	switch {
	case failed > 0:
		return SessionPartiallyApplied
	case approved == 0 && applied > 0:
		return SessionApplied
	default:
		return SessionReviewing
	}
}
