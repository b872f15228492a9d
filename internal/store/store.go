// Package store persists listings, pricing, extraction sessions, change
// proposals and the apply audit log. Two drivers implement the same
// interface: Postgres for production and SQLite for local use.
package store

import (
	"context"
	"time"

	"github.com/leasingborsen/lease-ingest/internal/model"
)

// SessionFilter specifies criteria for listing extraction sessions.
type SessionFilter struct {
	SellerID string              `json:"seller_id,omitempty"`
	Status   model.SessionStatus `json:"status,omitempty"`
	Limit    int                 `json:"limit,omitempty"`
	Offset   int                 `json:"offset,omitempty"`
}

// AuditEntry is one row of the apply audit trail: a single attempted change
// with its outcome, attributable to an actor.
type AuditEntry struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	ChangeID  string           `json:"change_id"`
	Action    model.ChangeType `json:"action"`
	Actor     string           `json:"actor"`
	Outcome   string           `json:"outcome"` // "applied" or "failed"
	Reason    string           `json:"reason,omitempty"`
	At        time.Time        `json:"at"`
}

// Store defines the persistence interface for the reconciliation pipeline.
//
// GetListing and GetSession return (nil, nil) when the id does not exist,
// so callers can verify deletions and map misses themselves. Update and
// delete operations return model.ErrNotFound (wrapped) when they affect
// no rows.
type Store interface {
	// Listings
	ListingsBySeller(ctx context.Context, sellerID string) ([]model.StoredListing, error)
	GetListing(ctx context.Context, id string) (*model.StoredListing, error)
	CreateListing(ctx context.Context, sellerID string, v model.ExtractedVariant) (string, error)
	UpdateListing(ctx context.Context, id string, v model.ExtractedVariant) error
	DeleteListing(ctx context.Context, id string) error

	// Sessions
	CreateSession(ctx context.Context, session *model.ExtractionSession, proposals []model.ChangeProposal) error
	GetSession(ctx context.Context, id string) (*model.ExtractionSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.ExtractionSession, error)
	UpdateSessionStatus(ctx context.Context, id string, status model.SessionStatus) error

	// Proposals
	ProposalsBySession(ctx context.Context, sessionID string) ([]model.ChangeProposal, error)
	ProposalsByStatus(ctx context.Context, sessionID string, status model.ProposalStatus) ([]model.ChangeProposal, error)
	// UpdateProposalStatus compare-and-swaps the status from from to to,
	// returning model.ErrInvalidTransition if the row is no longer in from
	// and model.ErrNotFound if the id is unknown.
	UpdateProposalStatus(ctx context.Context, id string, from, to model.ProposalStatus, errMsg string) error

	// Audit trail
	RecordApply(ctx context.Context, entry AuditEntry) error
	AuditBySession(ctx context.Context, sessionID string) ([]AuditEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
