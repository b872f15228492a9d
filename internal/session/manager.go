// Package session owns the lifecycle of one extraction run: it turns a parse
// pass into a persisted proposal set, tracks per-change review status and
// exposes the selective-apply view the review UI works from.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leasingborsen/lease-ingest/internal/dedupe"
	"github.com/leasingborsen/lease-ingest/internal/diff"
	"github.com/leasingborsen/lease-ingest/internal/model"
	"github.com/leasingborsen/lease-ingest/internal/store"
)

// Manager coordinates extraction sessions against the store.
type Manager struct {
	store store.Store
	log   *zap.Logger
}

// NewManager creates a session manager. The store is injected; the manager
// holds no other state.
func NewManager(st store.Store) *Manager {
	return &Manager{
		store: st,
		log:   zap.L().With(zap.String("component", "session")),
	}
}

// StartResult reports what a new session proposes, including the unchanged
// matches that produce no proposals.
type StartResult struct {
	Session   *model.ExtractionSession `json:"session"`
	Proposals []model.ChangeProposal   `json:"proposals"`
	Unchanged []diff.Match             `json:"unchanged"`
}

// Start runs one extraction pass end to end: dedupe the raw variants,
// compare against the seller's current listings and persist the resulting
// session with its proposals in pending state. Stored listings are re-read
// here, never cached, so the diff reflects current state.
func (m *Manager) Start(ctx context.Context, sellerID string, variants []model.ExtractedVariant) (*StartResult, error) {
	if sellerID == "" {
		return nil, eris.Wrap(model.ErrValidation, "seller id required")
	}

	resolved := dedupe.Resolve(variants)

	stored, err := m.store.ListingsBySeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	result := diff.Compare(resolved, stored, sellerID)
	now := time.Now().UTC()

	sess := &model.ExtractionSession{
		ID:             uuid.New().String(),
		SellerID:       sellerID,
		Status:         model.SessionReviewing,
		TotalExtracted: len(resolved),
		CreatedAt:      now,
	}
	for i := range result.Proposals {
		result.Proposals[i].ID = uuid.New().String()
		result.Proposals[i].SessionID = sess.ID
		result.Proposals[i].CreatedAt = now
		result.Proposals[i].UpdatedAt = now
	}

	if err := m.store.CreateSession(ctx, sess, result.Proposals); err != nil {
		return nil, err
	}

	m.log.Info("session started",
		zap.String("session_id", sess.ID),
		zap.String("seller_id", sellerID),
		zap.Int("extracted", len(resolved)),
		zap.Int("proposals", len(result.Proposals)),
		zap.Int("unchanged", len(result.Unchanged)),
	)

	return &StartResult{Session: sess, Proposals: result.Proposals, Unchanged: result.Unchanged}, nil
}

// Review applies reviewer decisions to proposals. Each decision must be a
// legal transition (pending to approved/rejected, approved back to rejected);
// anything else fails fast with model.ErrInvalidTransition and the remaining
// decisions are not attempted.
func (m *Manager) Review(ctx context.Context, sessionID string, approve, reject []string) error {
	byID, err := m.proposalIndex(ctx, sessionID)
	if err != nil {
		return err
	}

	decide := func(ids []string, to model.ProposalStatus) error {
		for _, id := range ids {
			p, ok := byID[id]
			if !ok {
				return eris.Wrapf(model.ErrNotFound, "proposal %s in session %s", id, sessionID)
			}
			if p.Status == to {
				continue
			}
			if !p.Status.CanTransition(to) {
				return eris.Wrapf(model.ErrInvalidTransition, "proposal %s: %s -> %s", id, p.Status, to)
			}
			if err := m.store.UpdateProposalStatus(ctx, id, p.Status, to, ""); err != nil {
				return err
			}
			p.Status = to
		}
		return nil
	}

	if err := decide(approve, model.ProposalApproved); err != nil {
		return err
	}
	return decide(reject, model.ProposalRejected)
}

// SelectForApply returns the proposals that an apply call with the given ids
// would actually attempt: ids in pending or approved state. Unknown ids and
// ids in terminal state are silently ignored so the caller can preview the
// batch before committing. An empty id list selects every approved proposal.
func (m *Manager) SelectForApply(ctx context.Context, sessionID string, changeIDs []string) ([]model.ChangeProposal, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, eris.Wrapf(model.ErrNotFound, "session %s", sessionID)
	}

	proposals, err := m.store.ProposalsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if len(changeIDs) == 0 {
		var approved []model.ChangeProposal
		for _, p := range proposals {
			if p.Status == model.ProposalApproved {
				approved = append(approved, p)
			}
		}
		return approved, nil
	}

	wanted := make(map[string]bool, len(changeIDs))
	for _, id := range changeIDs {
		wanted[id] = true
	}
	var selected []model.ChangeProposal
	for _, p := range proposals {
		if !wanted[p.ID] {
			continue
		}
		if p.Status != model.ProposalPending && p.Status != model.ProposalApproved {
			continue
		}
		selected = append(selected, p)
	}
	return selected, nil
}

// RefreshStatus recomputes the derived session status from its proposals
// and persists it. Returns the new status.
func (m *Manager) RefreshStatus(ctx context.Context, sessionID string) (model.SessionStatus, error) {
	proposals, err := m.store.ProposalsBySession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	status := model.DeriveSessionStatus(proposals)
	if err := m.store.UpdateSessionStatus(ctx, sessionID, status); err != nil {
		return "", err
	}
	return status, nil
}

func (m *Manager) proposalIndex(ctx context.Context, sessionID string) (map[string]*model.ChangeProposal, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, eris.Wrapf(model.ErrNotFound, "session %s", sessionID)
	}
	proposals, err := m.store.ProposalsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.ChangeProposal, len(proposals))
	for i := range proposals {
		byID[proposals[i].ID] = &proposals[i]
	}
	return byID, nil
}
