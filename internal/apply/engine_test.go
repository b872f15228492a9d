package apply

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasingborsen/lease-ingest/internal/model"
	"github.com/leasingborsen/lease-ingest/internal/session"
	"github.com/leasingborsen/lease-ingest/internal/store"
)

// fakeStore is an in-memory store.Store with per-call failure hooks, so
// tests can force exactly one item of a batch to fail.
type fakeStore struct {
	mu        sync.Mutex
	listings  map[string]model.StoredListing
	sessions  map[string]*model.ExtractionSession
	proposals map[string]*model.ChangeProposal
	audit     []store.AuditEntry

	failCreate   error
	failUpdateID string
	updateErr    error
	deleteNoop   bool
	deleteErrID  string
	deleteErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		listings:  map[string]model.StoredListing{},
		sessions:  map[string]*model.ExtractionSession{},
		proposals: map[string]*model.ChangeProposal{},
	}
}

func (f *fakeStore) ListingsBySeller(_ context.Context, sellerID string) ([]model.StoredListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.StoredListing
	for _, l := range f.listings {
		if l.SellerID == sellerID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) GetListing(_ context.Context, id string) (*model.StoredListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (f *fakeStore) CreateListing(_ context.Context, sellerID string, v model.ExtractedVariant) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return "", f.failCreate
	}
	id := uuid.New().String()
	f.listings[id] = model.StoredListing{
		ID:             id,
		SellerID:       sellerID,
		Make:           v.Make,
		Model:          v.Model,
		VariantName:    v.VariantName,
		Powertrain:     v.Powertrain,
		PricingRecords: v.PricingOptions,
	}
	return id, nil
}

func (f *fakeStore) UpdateListing(_ context.Context, id string, v model.ExtractedVariant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == f.failUpdateID {
		return f.updateErr
	}
	l, ok := f.listings[id]
	if !ok {
		return eris.Wrapf(model.ErrNotFound, "listing %s", id)
	}
	l.Make, l.Model, l.VariantName = v.Make, v.Model, v.VariantName
	l.PricingRecords = v.PricingOptions
	f.listings[id] = l
	return nil
}

func (f *fakeStore) DeleteListing(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == f.deleteErrID {
		return f.deleteErr
	}
	if _, ok := f.listings[id]; !ok {
		return eris.Wrapf(model.ErrNotFound, "listing %s", id)
	}
	if f.deleteNoop {
		return nil
	}
	delete(f.listings, id)
	return nil
}

func (f *fakeStore) CreateSession(_ context.Context, sess *model.ExtractionSession, proposals []model.ChangeProposal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sess.ID] = sess
	for i := range proposals {
		p := proposals[i]
		f.proposals[p.ID] = &p
	}
	return nil
}

func (f *fakeStore) GetSession(_ context.Context, id string) (*model.ExtractionSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	return s, nil
}

func (f *fakeStore) ListSessions(_ context.Context, _ store.SessionFilter) ([]model.ExtractionSession, error) {
	return nil, nil
}

func (f *fakeStore) UpdateSessionStatus(_ context.Context, id string, status model.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return eris.Wrapf(model.ErrNotFound, "session %s", id)
	}
	s.Status = status
	return nil
}

func (f *fakeStore) ProposalsBySession(_ context.Context, sessionID string) ([]model.ChangeProposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ChangeProposal
	for _, p := range f.proposals {
		if p.SessionID == sessionID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) ProposalsByStatus(_ context.Context, sessionID string, status model.ProposalStatus) ([]model.ChangeProposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ChangeProposal
	for _, p := range f.proposals {
		if p.SessionID == sessionID && p.Status == status {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateProposalStatus(_ context.Context, id string, from, to model.ProposalStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.proposals[id]
	if !ok {
		return eris.Wrapf(model.ErrNotFound, "proposal %s", id)
	}
	if p.Status != from {
		return eris.Wrapf(model.ErrInvalidTransition, "proposal %s is %s, not %s", id, p.Status, from)
	}
	p.Status = to
	p.Error = errMsg
	return nil
}

func (f *fakeStore) RecordApply(_ context.Context, entry store.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = uuid.New().String()
	entry.At = time.Now()
	f.audit = append(f.audit, entry)
	return nil
}

func (f *fakeStore) AuditBySession(_ context.Context, sessionID string) ([]store.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.AuditEntry
	for _, e := range f.audit {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Close() error                  { return nil }

func seed(f *fakeStore, proposals ...model.ChangeProposal) *model.ExtractionSession {
	sess := &model.ExtractionSession{
		ID:             "sess-1",
		SellerID:       "seller-1",
		Status:         model.SessionReviewing,
		TotalExtracted: len(proposals),
		CreatedAt:      time.Now(),
	}
	for i := range proposals {
		proposals[i].SessionID = sess.ID
	}
	_ = f.CreateSession(context.Background(), sess, proposals)
	return sess
}

func approvedCreate(id, modelName string) model.ChangeProposal {
	return model.ChangeProposal{
		ID:     id,
		Type:   model.ChangeCreate,
		Status: model.ProposalApproved,
		Extracted: &model.ExtractedVariant{
			Make:        "Toyota",
			Model:       modelName,
			VariantName: "Active",
			Powertrain:  model.PowertrainGasoline,
		},
		Confidence: 1,
	}
}

func newEngine(f *fakeStore) *Engine {
	return New(f, session.NewManager(f), Options{
		ItemTimeout:       2 * time.Second,
		CreateConcurrency: 2,
	})
}

func TestApplyAllSucceed(t *testing.T) {
	f := newFakeStore()
	seed(f,
		approvedCreate("c1", "Yaris"),
		approvedCreate("c2", "Corolla"),
	)

	res, err := newEngine(f).Apply(context.Background(), "sess-1", nil, "tester")
	require.NoError(t, err)

	assert.Equal(t, 2, res.AppliedCreates)
	assert.Empty(t, res.Errors)
	assert.Equal(t, model.SessionApplied, res.SessionStatus)
	assert.Len(t, f.listings, 2)
	assert.Len(t, f.audit, 2)
	for _, p := range f.proposals {
		assert.Equal(t, model.ProposalApplied, p.Status)
	}
}

func TestApplyPartialFailureIsolation(t *testing.T) {
	f := newFakeStore()
	f.failUpdateID = "missing-listing"
	f.updateErr = eris.Wrap(model.ErrNotFound, "listing gone")

	update := model.ChangeProposal{
		ID:                "u1",
		Type:              model.ChangeUpdate,
		Status:            model.ProposalApproved,
		ExistingListingID: "missing-listing",
		Extracted:         approvedCreate("", "Yaris").Extracted,
	}
	seed(f,
		approvedCreate("c1", "Yaris"),
		approvedCreate("c2", "Corolla"),
		approvedCreate("c3", "bZ4X"),
		approvedCreate("c4", "Aygo"),
		update,
	)

	res, err := newEngine(f).Apply(context.Background(), "sess-1", nil, "tester")
	require.NoError(t, err)

	assert.Equal(t, 4, res.AppliedCreates)
	assert.Equal(t, 0, res.AppliedUpdates)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "u1", res.Errors[0].ChangeID)
	assert.Equal(t, ReasonNotFound, res.Errors[0].Reason)
	assert.Equal(t, model.SessionPartiallyApplied, res.SessionStatus)

	assert.Equal(t, model.ProposalFailed, f.proposals["u1"].Status)
	assert.Contains(t, f.proposals["u1"].Error, ReasonNotFound)
}

func TestApplyReRunSkipsSettled(t *testing.T) {
	f := newFakeStore()
	seed(f, approvedCreate("c1", "Yaris"))
	engine := newEngine(f)

	res, err := engine.Apply(context.Background(), "sess-1", []string{"c1"}, "tester")
	require.NoError(t, err)
	assert.Equal(t, 1, res.AppliedCreates)

	// Second run with the same id: nothing to do, no duplicate listing.
	res, err = engine.Apply(context.Background(), "sess-1", []string{"c1"}, "tester")
	require.NoError(t, err)
	assert.Equal(t, 0, res.AppliedCreates)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, f.listings, 1)
}

func TestApplySelectionApprovesPending(t *testing.T) {
	f := newFakeStore()
	p := approvedCreate("c1", "Yaris")
	p.Status = model.ProposalPending
	seed(f, p)

	res, err := newEngine(f).Apply(context.Background(), "sess-1", []string{"c1"}, "tester")
	require.NoError(t, err)
	assert.Equal(t, 1, res.AppliedCreates)
	assert.Equal(t, model.ProposalApplied, f.proposals["c1"].Status)
}

func TestApplyEmptySelectionIgnoresPending(t *testing.T) {
	f := newFakeStore()
	p := approvedCreate("c1", "Yaris")
	p.Status = model.ProposalPending
	seed(f, p)

	res, err := newEngine(f).Apply(context.Background(), "sess-1", nil, "tester")
	require.NoError(t, err)
	assert.Equal(t, 0, res.AppliedCreates)
	assert.Equal(t, model.ProposalPending, f.proposals["c1"].Status)
	assert.Empty(t, f.listings)
}

func TestApplyDeleteVerifiesRemoval(t *testing.T) {
	f := newFakeStore()
	f.listings["l1"] = model.StoredListing{ID: "l1", SellerID: "seller-1"}
	f.deleteNoop = true

	seed(f, model.ChangeProposal{
		ID:                "d1",
		Type:              model.ChangeDelete,
		Status:            model.ProposalApproved,
		ExistingListingID: "l1",
	})

	res, err := newEngine(f).Apply(context.Background(), "sess-1", nil, "tester")
	require.NoError(t, err)

	assert.Equal(t, 0, res.AppliedDeletes)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ReasonDeleteNotEffective, res.Errors[0].Reason)
	assert.Equal(t, model.SessionPartiallyApplied, res.SessionStatus)
}

func TestApplyDeleteSucceeds(t *testing.T) {
	f := newFakeStore()
	f.listings["l1"] = model.StoredListing{ID: "l1", SellerID: "seller-1"}

	seed(f, model.ChangeProposal{
		ID:                "d1",
		Type:              model.ChangeDelete,
		Status:            model.ProposalApproved,
		ExistingListingID: "l1",
	})

	res, err := newEngine(f).Apply(context.Background(), "sess-1", nil, "tester")
	require.NoError(t, err)
	assert.Equal(t, 1, res.AppliedDeletes)
	assert.Empty(t, res.Errors)
	assert.Empty(t, f.listings)
}

func TestApplyDeleteMissingListingFails(t *testing.T) {
	f := newFakeStore()
	seed(f, model.ChangeProposal{
		ID:                "d1",
		Type:              model.ChangeDelete,
		Status:            model.ProposalApproved,
		ExistingListingID: "never-existed",
	})

	res, err := newEngine(f).Apply(context.Background(), "sess-1", nil, "tester")
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ReasonNotFound, res.Errors[0].Reason)
}

func TestApplyMissingPayload(t *testing.T) {
	f := newFakeStore()
	seed(f, model.ChangeProposal{
		ID:     "c1",
		Type:   model.ChangeCreate,
		Status: model.ProposalApproved,
		// Extracted deliberately nil.
	})

	res, err := newEngine(f).Apply(context.Background(), "sess-1", nil, "tester")
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ReasonMissingPayload, res.Errors[0].Reason)
}

func TestApplyUnknownSession(t *testing.T) {
	f := newFakeStore()
	_, err := newEngine(f).Apply(context.Background(), "nope", nil, "tester")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestApplyAuditTrail(t *testing.T) {
	f := newFakeStore()
	f.listings["l1"] = model.StoredListing{ID: "l1", SellerID: "seller-1"}
	seed(f,
		approvedCreate("c1", "Yaris"),
		model.ChangeProposal{
			ID:                "d1",
			Type:              model.ChangeDelete,
			Status:            model.ProposalApproved,
			ExistingListingID: "l1",
		},
	)

	_, err := newEngine(f).Apply(context.Background(), "sess-1", nil, "reviewer@example.dk")
	require.NoError(t, err)

	entries, err := f.AuditBySession(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "reviewer@example.dk", e.Actor)
		assert.Equal(t, "applied", e.Outcome)
	}
}

func TestClassifyReason(t *testing.T) {
	assert.Equal(t, "", classifyReason(nil))
	assert.Equal(t, ReasonTimeout, classifyReason(context.DeadlineExceeded))
	assert.Equal(t, ReasonNotFound, classifyReason(eris.Wrap(model.ErrNotFound, "x")))
	assert.Equal(t, ReasonConstraint, classifyReason(errors.New("FOREIGN KEY constraint failed")))
	assert.Equal(t, ReasonConstraint, classifyReason(errors.New(`violates foreign key constraint "pricing_listing_id_fkey"`)))
	assert.Equal(t, ReasonStoreError, classifyReason(errors.New("connection reset")))
}
