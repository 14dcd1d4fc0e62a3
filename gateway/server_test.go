package gateway

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/rentauction/core"
	"github.com/cloudx-io/rentauction/marketapi"
	"github.com/cloudx-io/rentauction/validation"
)

func TestHealth(t *testing.T) {
	env := newTestEnv(t, time.Hour, 1)
	var body map[string]string
	check.Equal(t, http.StatusOK, env.do(t, core.Principal{}, http.MethodGet, "/health", nil, &body))
	check.Equal(t, "ok", body["status"])
}

func TestBidding(t *testing.T) {
	env := newTestEnv(t, time.Hour, 1)
	property := env.listProperty(t, "100")
	path := "/api/properties/" + property.ID

	var bid core.Bid
	code := env.do(t, tenantA, http.MethodPost, path+"/bids", map[string]string{"amount": "150", "currency": "USD"}, &bid)
	assert.Equal(t, http.StatusCreated, code)
	check.Equal(t, "tenant_a", bid.Bidder)

	var rejection marketapi.ErrorResponse
	code = env.do(t, tenantB, http.MethodPost, path+"/bids", map[string]string{"amount": "120", "currency": "USD"}, &rejection)
	check.Equal(t, http.StatusUnprocessableEntity, code)
	check.Equal(t, "bid_too_low", rejection.Code)

	code = env.do(t, tenantB, http.MethodPost, path+"/bids", map[string]string{"amount": "200", "currency": "USD"}, &bid)
	assert.Equal(t, http.StatusCreated, code)

	var snap marketapi.PropertyResponse
	assert.Equal(t, http.StatusOK, env.do(t, tenantA, http.MethodGet, path, nil, &snap))
	check.Equal(t, core.WindowOpen, snap.Property.Window.State)
	check.Equal(t, 2, snap.BidCount)
	assert.NotNil(t, snap.HighestBid)
	check.Equal(t, "200", snap.HighestBid.Amount.String())
}

func TestBidding_RequestValidation(t *testing.T) {
	env := newTestEnv(t, time.Hour, 1)
	property := env.listProperty(t, "100")
	path := "/api/properties/" + property.ID + "/bids"

	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing amount", map[string]string{"currency": "USD"}},
		{"non-numeric amount", map[string]string{"amount": "lots", "currency": "USD"}},
		{"unsupported currency", map[string]string{"amount": "150", "currency": "EUR"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body marketapi.ErrorResponse
			check.Equal(t, http.StatusBadRequest, env.do(t, tenantA, http.MethodPost, path, tt.body, &body))
			check.Equal(t, "validation_failed", body.Code)
		})
	}

	var body marketapi.ErrorResponse
	code := env.do(t, tenantA, http.MethodPost, "/api/properties/missing/bids", map[string]string{"amount": "150", "currency": "USD"}, &body)
	check.Equal(t, http.StatusNotFound, code)
	check.Equal(t, "property_not_found", body.Code)
}

func TestActivationAndRelist(t *testing.T) {
	env := newTestEnv(t, time.Hour, 1)
	property := env.listProperty(t, "100")
	path := "/api/properties/" + property.ID

	other := core.Principal{ID: "landlord_2", Role: core.RoleLandlord}
	var body marketapi.ErrorResponse
	check.Equal(t, http.StatusForbidden, env.do(t, other, http.MethodPost, path+"/activate", nil, &body))

	var window core.Window
	assert.Equal(t, http.StatusOK, env.do(t, landlordP, http.MethodPost, path+"/activate", nil, &window))
	check.Equal(t, core.WindowOpen, window.State)

	check.Equal(t, http.StatusBadRequest, env.do(t, landlordP, http.MethodPost, path+"/relist", nil, &body))
}

func TestScoringAndRanking(t *testing.T) {
	env := newTestEnv(t, time.Hour, 1)
	p1 := env.listProperty(t, "100")
	p2 := env.listProperty(t, "200")
	env.listProperty(t, "300") // never rated

	var score marketapi.ScoreResponse
	code := env.do(t, tenantA, http.MethodPut, "/api/properties/"+p1.ID+"/criteria", map[string]any{"ratings": allRatings(5)}, &score)
	assert.Equal(t, http.StatusOK, code)
	check.Equal(t, 1.0, score.Score)

	code = env.do(t, tenantA, http.MethodPut, "/api/properties/"+p2.ID+"/criteria", map[string]any{"ratings": allRatings(1)}, &score)
	assert.Equal(t, http.StatusOK, code)
	check.Equal(t, 0.2, score.Score)

	assert.Equal(t, http.StatusOK, env.do(t, tenantA, http.MethodGet, "/api/properties/"+p2.ID+"/score", nil, &score))
	check.Equal(t, 0.2, score.Score)

	var ranking marketapi.RankingResponse
	assert.Equal(t, http.StatusOK, env.do(t, tenantA, http.MethodGet, "/api/rankings", nil, &ranking))
	assert.Equal(t, 2, len(ranking.Properties))
	check.Equal(t, p1.ID, ranking.Properties[0].Property.ID)
	check.Equal(t, p2.ID, ranking.Properties[1].Property.ID)

	// Another tenant has rated nothing
	assert.Equal(t, http.StatusOK, env.do(t, tenantB, http.MethodGet, "/api/rankings", nil, &ranking))
	check.Equal(t, 0, len(ranking.Properties))

	var body marketapi.ErrorResponse
	check.Equal(t, http.StatusNotFound, env.do(t, tenantB, http.MethodGet, "/api/properties/"+p1.ID+"/score", nil, &body))
	check.Equal(t, "criteria_not_found", body.Code)
}

func TestSaveCriteria_Incomplete(t *testing.T) {
	env := newTestEnv(t, time.Hour, 1)
	p := env.listProperty(t, "100")

	partial := allRatings(4)
	delete(partial, string(core.CriterionBathrooms))

	var body marketapi.ErrorResponse
	code := env.do(t, tenantA, http.MethodPut, "/api/properties/"+p.ID+"/criteria", map[string]any{"ratings": partial}, &body)
	check.Equal(t, http.StatusUnprocessableEntity, code)
	check.Equal(t, "missing_criteria", body.Code)

	outOfRange := allRatings(4)
	outOfRange[string(core.CriterionRooms)] = 9
	code = env.do(t, tenantA, http.MethodPut, "/api/properties/"+p.ID+"/criteria", map[string]any{"ratings": outOfRange}, &body)
	check.Equal(t, http.StatusBadRequest, code)
}

func TestSettlementFlow(t *testing.T) {
	env := newTestEnv(t, 50*time.Millisecond, 1)
	property := env.listProperty(t, "100")
	path := "/api/properties/" + property.ID

	var body marketapi.ErrorResponse
	check.Equal(t, http.StatusNotFound, env.do(t, operatorP, http.MethodGet, path+"/settlement", nil, &body))

	var bid core.Bid
	assert.Equal(t, http.StatusCreated, env.do(t, tenantA, http.MethodPost, path+"/bids", map[string]string{"amount": "150", "currency": "AVAX"}, &bid))

	var resp marketapi.SettlementResponse
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if env.do(t, tenantA, http.MethodGet, path+"/settlement", nil, &resp) == http.StatusOK && resp.Record.Status == core.SettlementConfirmed {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, core.SettlementConfirmed, resp.Record.Status)
	check.Equal(t, "6", resp.Record.SettledAmount.String())
	check.Equal(t, core.CurrencyAVAX, resp.Record.SettledCurrency)
	check.True(t, resp.Proof != "")

	var key marketapi.PublicKeyResponse
	assert.Equal(t, http.StatusOK, env.do(t, core.Principal{}, http.MethodGet, "/api/settlement/public-key", nil, &key))

	result, err := validation.ValidateSettlementProof(&validation.SettlementValidationInput{
		Proof:        resp.Proof,
		PublicKeyPEM: key.PublicKey,
		Record:       resp.Record,
		BidID:        bid.ID,
		BidAmount:    bid.Amount,
		BidCurrency:  bid.Currency,
	})
	assert.Nil(t, err)
	check.True(t, result.IsValid())

	// CONFIRMED is terminal
	check.Equal(t, http.StatusConflict, env.do(t, operatorP, http.MethodPost, path+"/settlement/retry", nil, &body))
	check.Equal(t, "not_retryable", body.Code)
	check.Equal(t, http.StatusForbidden, env.do(t, tenantA, http.MethodPost, path+"/settlement/retry", nil, &body))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{core.ErrWindowClosed, http.StatusConflict, "window_closed"},
		{core.ErrBidTooLow, http.StatusUnprocessableEntity, "bid_too_low"},
		{errors.Join(errors.New("wrapped"), core.ErrRateUnavailable), http.StatusBadGateway, "rate_unavailable"},
		{context.DeadlineExceeded, http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		status, code := classify(tt.err)
		check.Equal(t, tt.status, status)
		check.Equal(t, tt.code, code)
	}
}

func TestRentNow(t *testing.T) {
	env := newTestEnv(t, time.Hour, 1)
	property := env.listProperty(t, "100")
	path := "/api/properties/" + property.ID

	var body marketapi.ErrorResponse
	check.Equal(t, http.StatusForbidden, env.do(t, landlordP, http.MethodPost, path+"/rent-now", map[string]string{"currency": "USD"}, &body))
	check.Equal(t, http.StatusBadRequest, env.do(t, tenantA, http.MethodPost, path+"/rent-now", map[string]string{"currency": "EUR"}, &body))

	var resp marketapi.RentNowResponse
	code := env.do(t, tenantA, http.MethodPost, path+"/rent-now", map[string]string{"currency": "AVAX"}, &resp)
	assert.Equal(t, http.StatusCreated, code)
	check.Equal(t, "100", resp.Bid.Amount.String())
	check.Equal(t, resp.Bid.ID, resp.Settlement.Record.WinningBidID)
	check.Equal(t, core.SettlementConfirmed, resp.Settlement.Record.Status)
	check.Equal(t, "4", resp.Settlement.Record.SettledAmount.String())
	check.Equal(t, core.CurrencyAVAX, resp.Settlement.Record.SettledCurrency)
	check.True(t, resp.Settlement.Proof != "")

	var snap marketapi.PropertyResponse
	assert.Equal(t, http.StatusOK, env.do(t, tenantB, http.MethodGet, path, nil, &snap))
	check.Equal(t, core.WindowSettled, snap.Property.Window.State)

	code = env.do(t, tenantB, http.MethodPost, path+"/bids", map[string]string{"amount": "500", "currency": "USD"}, &body)
	check.Equal(t, http.StatusConflict, code)
	check.Equal(t, "window_closed", body.Code)
}

func TestRentNow_AfterBidding(t *testing.T) {
	env := newTestEnv(t, time.Hour, 1)
	property := env.listProperty(t, "100")
	path := "/api/properties/" + property.ID

	var bid core.Bid
	assert.Equal(t, http.StatusCreated, env.do(t, tenantB, http.MethodPost, path+"/bids", map[string]string{"amount": "150", "currency": "USD"}, &bid))

	var body marketapi.ErrorResponse
	check.Equal(t, http.StatusUnprocessableEntity, env.do(t, tenantA, http.MethodPost, path+"/rent-now", map[string]string{"currency": "USD"}, &body))
	check.Equal(t, "bid_too_low", body.Code)
}

func TestClassify_AlreadySettled(t *testing.T) {
	status, code := classify(core.ErrAlreadySettled)
	check.Equal(t, http.StatusConflict, status)
	check.Equal(t, "already_settled", code)
}
