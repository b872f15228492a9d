// Package apply commits a reviewer-selected subset of change proposals to
// the store as a best-effort batch. Every item is attempted independently:
// one failure is recorded and never aborts the rest of the batch.
package apply

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leasingborsen/lease-ingest/internal/model"
	"github.com/leasingborsen/lease-ingest/internal/session"
	"github.com/leasingborsen/lease-ingest/internal/store"
)

// Failure reasons recorded per item. The review UI keys on these to explain
// why a specific change did not land.
const (
	ReasonTimeout            = "Timeout"
	ReasonNotFound           = "NotFound"
	ReasonConstraint         = "ConstraintViolation"
	ReasonDeleteNotEffective = "DeleteDidNotTakeEffect"
	ReasonStoreError         = "StoreError"
	ReasonMissingPayload     = "MissingPayload"
)

// ItemError describes one failed change in an apply batch.
type ItemError struct {
	ChangeID string `json:"change_id"`
	Reason   string `json:"reason"`
}

// Result aggregates the outcome of one apply call.
type Result struct {
	AppliedCreates int                 `json:"applied_creates"`
	AppliedUpdates int                 `json:"applied_updates"`
	AppliedDeletes int                 `json:"applied_deletes"`
	Skipped        int                 `json:"skipped"`
	Errors         []ItemError         `json:"errors,omitempty"`
	SessionStatus  model.SessionStatus `json:"session_status"`
}

// Options tunes the engine.
type Options struct {
	// ItemTimeout bounds every individual store call. Zero means 30s.
	ItemTimeout time.Duration
	// CreateConcurrency bounds parallel creates. Creates touch ids that do
	// not exist yet, so they are safe to run alongside each other; updates
	// and deletes stay sequential because they may touch the same listing.
	// Zero means 4.
	CreateConcurrency int
}

// Engine applies approved proposals. The caller serializes apply requests
// per session; the engine does no cross-process locking.
type Engine struct {
	store    store.Store
	sessions *session.Manager

	itemTimeout       time.Duration
	createConcurrency int
	log               *zap.Logger
}

// New creates an apply engine over the given store.
func New(st store.Store, sessions *session.Manager, opts Options) *Engine {
	if opts.ItemTimeout <= 0 {
		opts.ItemTimeout = 30 * time.Second
	}
	if opts.CreateConcurrency <= 0 {
		opts.CreateConcurrency = 4
	}
	return &Engine{
		store:             st,
		sessions:          sessions,
		itemTimeout:       opts.ItemTimeout,
		createConcurrency: opts.CreateConcurrency,
		log:               zap.L().With(zap.String("component", "apply")),
	}
}

// Apply commits the selected changes: creates first, then updates, then
// deletes, so a delete can never remove a listing an update in the same
// batch still references. Selecting a pending proposal approves it; already
// terminal proposals are skipped, which makes re-running an apply with the
// same ids a no-op for those ids. Cancelling ctx stops the batch between
// items; the item in flight runs to completion under its own timeout.
func (e *Engine) Apply(ctx context.Context, sessionID string, changeIDs []string, actor string) (*Result, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, eris.Wrapf(model.ErrNotFound, "session %s", sessionID)
	}

	selected, err := e.sessions.SelectForApply(ctx, sessionID, changeIDs)
	if err != nil {
		return nil, err
	}

	// Count the terminal ids the caller named so the skip is visible.
	res := &Result{}
	if len(changeIDs) > 0 {
		res.Skipped = e.countTerminal(ctx, sessionID, changeIDs)
	}

	// Selection is approval: a pending proposal picked for apply moves to
	// approved before the store mutation, keeping applied/failed reachable
	// only from approved.
	attempt := selected[:0]
	for _, p := range selected {
		if p.Status == model.ProposalPending {
			if err := e.store.UpdateProposalStatus(ctx, p.ID, model.ProposalPending, model.ProposalApproved, ""); err != nil {
				if errors.Is(err, model.ErrInvalidTransition) {
					res.Skipped++
					continue
				}
				return nil, err
			}
			p.Status = model.ProposalApproved
		}
		attempt = append(attempt, p)
	}

	var creates, updates, deletes []model.ChangeProposal
	for _, p := range attempt {
		switch p.Type {
		case model.ChangeCreate:
			creates = append(creates, p)
		case model.ChangeUpdate:
			updates = append(updates, p)
		case model.ChangeDelete:
			deletes = append(deletes, p)
		}
	}

	var mu sync.Mutex
	record := func(p model.ChangeProposal, applyErr error, reason string) {
		outcome := "applied"
		to := model.ProposalApplied
		errMsg := ""
		if applyErr != nil || reason != "" {
			outcome = "failed"
			to = model.ProposalFailed
			if reason == "" {
				reason = classifyReason(applyErr)
			}
			errMsg = reason
			if applyErr != nil {
				errMsg = reason + ": " + applyErr.Error()
			}
		}

		// Outcome bookkeeping must land even when the batch was cancelled
		// after this item started, so it runs on a detached context.
		rctx, cancel := e.itemContext(ctx)
		defer cancel()
		if err := e.store.UpdateProposalStatus(rctx, p.ID, model.ProposalApproved, to, errMsg); err != nil {
			e.log.Error("proposal status update failed",
				zap.String("change_id", p.ID), zap.Error(err))
		}
		if err := e.store.RecordApply(rctx, store.AuditEntry{
			SessionID: sessionID,
			ChangeID:  p.ID,
			Action:    p.Type,
			Actor:     actor,
			Outcome:   outcome,
			Reason:    reason,
		}); err != nil {
			e.log.Error("audit record failed",
				zap.String("change_id", p.ID), zap.Error(err))
		}

		mu.Lock()
		defer mu.Unlock()
		if outcome == "failed" {
			res.Errors = append(res.Errors, ItemError{ChangeID: p.ID, Reason: reason})
			return
		}
		switch p.Type {
		case model.ChangeCreate:
			res.AppliedCreates++
		case model.ChangeUpdate:
			res.AppliedUpdates++
		case model.ChangeDelete:
			res.AppliedDeletes++
		}
	}

	cancelled := e.applyCreates(ctx, sess.SellerID, creates, record)
	if !cancelled {
		cancelled = e.applyUpdates(ctx, updates, record)
	}
	if !cancelled {
		e.applyDeletes(ctx, deletes, record)
	}

	refreshCtx, cancelRefresh := e.itemContext(ctx)
	defer cancelRefresh()
	status, err := e.sessions.RefreshStatus(refreshCtx, sessionID)
	if err != nil {
		return nil, err
	}
	res.SessionStatus = status

	e.log.Info("apply finished",
		zap.String("session_id", sessionID),
		zap.String("actor", actor),
		zap.Int("creates", res.AppliedCreates),
		zap.Int("updates", res.AppliedUpdates),
		zap.Int("deletes", res.AppliedDeletes),
		zap.Int("failed", len(res.Errors)),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (e *Engine) applyCreates(ctx context.Context, sellerID string, creates []model.ChangeProposal, record func(model.ChangeProposal, error, string)) bool {
	g := new(errgroup.Group)
	g.SetLimit(e.createConcurrency)

	cancelled := false
	for _, p := range creates {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		g.Go(func() error {
			if p.Extracted == nil {
				record(p, nil, ReasonMissingPayload)
				return nil
			}
			itemCtx, cancel := e.itemContext(ctx)
			defer cancel()
			_, err := e.store.CreateListing(itemCtx, sellerID, *p.Extracted)
			record(p, err, "")
			return nil
		})
	}
	g.Wait()
	return cancelled || ctx.Err() != nil
}

func (e *Engine) applyUpdates(ctx context.Context, updates []model.ChangeProposal, record func(model.ChangeProposal, error, string)) bool {
	for _, p := range updates {
		if ctx.Err() != nil {
			return true
		}
		if p.Extracted == nil || p.ExistingListingID == "" {
			record(p, nil, ReasonMissingPayload)
			continue
		}
		itemCtx, cancel := e.itemContext(ctx)
		err := e.store.UpdateListing(itemCtx, p.ExistingListingID, *p.Extracted)
		cancel()
		record(p, err, "")
	}
	return false
}

// applyDeletes removes listings and verifies every deletion by re-reading
// the target id. A delete whose target is still readable is marked failed
// with DeleteDidNotTakeEffect; a successful-looking store call is never
// trusted on its own. This is the fix for deletions historically reported
// as applied while blocked by referential integrity.
func (e *Engine) applyDeletes(ctx context.Context, deletes []model.ChangeProposal, record func(model.ChangeProposal, error, string)) {
	for _, p := range deletes {
		if ctx.Err() != nil {
			return
		}
		if p.ExistingListingID == "" {
			record(p, nil, ReasonMissingPayload)
			continue
		}

		itemCtx, cancel := e.itemContext(ctx)
		err := e.store.DeleteListing(itemCtx, p.ExistingListingID)
		if err != nil {
			cancel()
			record(p, err, "")
			continue
		}

		remaining, verifyErr := e.store.GetListing(itemCtx, p.ExistingListingID)
		cancel()
		switch {
		case verifyErr != nil:
			record(p, verifyErr, "")
		case remaining != nil:
			record(p, nil, ReasonDeleteNotEffective)
		default:
			record(p, nil, "")
		}
	}
}

// itemContext bounds a single store call. It is detached from the parent's
// cancellation so an in-flight item always runs to completion or timeout;
// the batch honors cancellation between items only.
func (e *Engine) itemContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.itemTimeout)
}

func (e *Engine) countTerminal(ctx context.Context, sessionID string, changeIDs []string) int {
	proposals, err := e.store.ProposalsBySession(ctx, sessionID)
	if err != nil {
		return 0
	}
	byID := make(map[string]model.ProposalStatus, len(proposals))
	for _, p := range proposals {
		byID[p.ID] = p.Status
	}
	n := 0
	for _, id := range changeIDs {
		if status, ok := byID[id]; ok && status.Terminal() {
			n++
		}
	}
	return n
}

// classifyReason maps a store error to a stable failure reason. String
// matching covers both drivers' constraint messages; typed errors cover the
// rest.
func classifyReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, model.ErrNotFound):
		return ReasonNotFound
	}
	msg := strings.ToLower(eris.Cause(err).Error())
	if strings.Contains(msg, "constraint") || strings.Contains(msg, "foreign key") {
		return ReasonConstraint
	}
	return ReasonStoreError
}
