package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leasingborsen/lease-ingest/internal/apply"
	"github.com/leasingborsen/lease-ingest/internal/model"
	"github.com/leasingborsen/lease-ingest/internal/session"
	"github.com/leasingborsen/lease-ingest/internal/store"
)

func newTestAPI(t *testing.T) (*reviewAPI, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	api := newAPI(st, apply.Options{
		ItemTimeout:       5 * time.Second,
		CreateConcurrency: 2,
	})
	return api, st
}

func seedSession(t *testing.T, st store.Store, sellerID string) *session.StartResult {
	t.Helper()
	mgr := session.NewManager(st)
	result, err := mgr.Start(context.Background(), sellerID, []model.ExtractedVariant{
		{
			Make:        "Toyota",
			Model:       "Yaris",
			VariantName: "Active",
			Powertrain:  model.PowertrainGasoline,
			Horsepower:  116,
			Drivetrain:  model.DrivetrainFWD,
			PricingOptions: []model.PricingOption{
				{MonthlyPrice: 299900, FirstPayment: 499500, PeriodMonths: 24, AnnualKm: 10000},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Proposals, 1)
	return result
}

func doRequest(t *testing.T, api *reviewAPI, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	api.router().ServeHTTP(rec, req)
	return rec
}

func TestAPIHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doRequest(t, api, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestAPIListSessions(t *testing.T) {
	api, st := newTestAPI(t)
	seedSession(t, st, "seller-1")

	rec := doRequest(t, api, http.MethodGet, "/api/sessions?seller=seller-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Sessions []model.ExtractionSession `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, "seller-1", resp.Sessions[0].SellerID)
	assert.Equal(t, model.SessionReviewing, resp.Sessions[0].Status)
}

func TestAPIGetSession_NotFound(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doRequest(t, api, http.MethodGet, "/api/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIListProposals(t *testing.T) {
	api, st := newTestAPI(t)
	result := seedSession(t, st, "seller-1")

	rec := doRequest(t, api, http.MethodGet, "/api/sessions/"+result.Session.ID+"/proposals", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Proposals []model.ChangeProposal `json:"proposals"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Proposals, 1)
	assert.Equal(t, model.ChangeCreate, resp.Proposals[0].Type)
	assert.Equal(t, model.ProposalPending, resp.Proposals[0].Status)
}

func TestAPIReviewAndApply(t *testing.T) {
	api, st := newTestAPI(t)
	result := seedSession(t, st, "seller-1")
	changeID := result.Proposals[0].ID

	rec := doRequest(t, api, http.MethodPost,
		"/api/sessions/"+result.Session.ID+"/review",
		`{"approve":["`+changeID+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, api, http.MethodPost,
		"/api/sessions/"+result.Session.ID+"/apply",
		`{"actor":"tester"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var applied apply.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &applied))
	assert.Equal(t, 1, applied.AppliedCreates)
	assert.Empty(t, applied.Errors)
	assert.Equal(t, model.SessionApplied, applied.SessionStatus)

	// The created listing is now visible.
	rec = doRequest(t, api, http.MethodGet, "/api/listings?seller=seller-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listResp struct {
		Listings []model.StoredListing `json:"listings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listResp))
	require.Len(t, listResp.Listings, 1)
	assert.Equal(t, "Yaris", listResp.Listings[0].Model)

	// And the audit trail recorded the apply.
	rec = doRequest(t, api, http.MethodGet, "/api/sessions/"+result.Session.ID+"/audit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"applied"`)
}

func TestAPIReview_BadRequest(t *testing.T) {
	api, st := newTestAPI(t)
	result := seedSession(t, st, "seller-1")

	rec := doRequest(t, api, http.MethodPost,
		"/api/sessions/"+result.Session.ID+"/review", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, api, http.MethodPost,
		"/api/sessions/"+result.Session.ID+"/review", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIReview_SessionNotFound(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doRequest(t, api, http.MethodPost, "/api/sessions/nope/review", `{"approve":["x"]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIListListings_RequiresSeller(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := doRequest(t, api, http.MethodGet, "/api/listings", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
