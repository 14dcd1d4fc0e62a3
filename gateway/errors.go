package gateway

import (
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cloudx-io/rentauction/core"
	"github.com/cloudx-io/rentauction/marketapi"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorTable is checked in order; the first sentinel matched by errors.Is wins.
var errorTable = []errorMapping{
	{core.ErrWindowClosed, http.StatusConflict, "window_closed"},
	{core.ErrBidTooLow, http.StatusUnprocessableEntity, "bid_too_low"},
	{core.ErrMissingCriteria, http.StatusUnprocessableEntity, "missing_criteria"},
	{core.ErrValidation, http.StatusBadRequest, "validation_failed"},
	{core.ErrForbidden, http.StatusForbidden, "forbidden"},
	{core.ErrPropertyNotFound, http.StatusNotFound, "property_not_found"},
	{core.ErrCriteriaNotFound, http.StatusNotFound, "criteria_not_found"},
	{core.ErrRecordNotFound, http.StatusNotFound, "settlement_not_found"},
	{core.ErrPropertyExists, http.StatusConflict, "property_exists"},
	{core.ErrWindowNotClosed, http.StatusConflict, "window_not_closed"},
	{core.ErrNoBids, http.StatusConflict, "no_bids"},
	{core.ErrSettlementInProgress, http.StatusConflict, "settlement_in_progress"},
	{core.ErrAlreadySettled, http.StatusConflict, "already_settled"},
	{core.ErrNotRetryable, http.StatusConflict, "not_retryable"},
	{core.ErrRateUnavailable, http.StatusBadGateway, "rate_unavailable"},
	{core.ErrPaymentFailed, http.StatusBadGateway, "payment_failed"},
}

func classify(err error) (int, string) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

// respondError writes the {error, code} body for err. Only unmapped errors
// and upstream failures are logged; rule rejections are the caller's problem.
func respondError(c echo.Context, err error) error {
	status, code := classify(err)
	switch {
	case status == http.StatusInternalServerError:
		log.Printf("ERROR: %s %s failed: %v", c.Request().Method, c.Path(), err)
		return c.JSON(status, errorBody("internal error", code))
	case status == http.StatusBadGateway:
		log.Printf("WARNING: %s %s upstream failure: %v", c.Request().Method, c.Path(), err)
	}
	return c.JSON(status, errorBody(err.Error(), code))
}

func errorBody(msg, code string) marketapi.ErrorResponse {
	return marketapi.ErrorResponse{Error: msg, Code: code}
}
