package gateway

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/cloudx-io/rentauction/attest"
	"github.com/cloudx-io/rentauction/core"
	"github.com/cloudx-io/rentauction/marketapi"
)

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) publicKey(c echo.Context) error {
	if s.cfg.PublicKeyPEM == "" {
		return c.JSON(http.StatusServiceUnavailable, errorBody("settlement proofs are disabled", "proofs_disabled"))
	}
	return c.JSON(http.StatusOK, marketapi.PublicKeyResponse{
		Algorithm: attest.Algorithm,
		PublicKey: s.cfg.PublicKeyPEM,
	})
}

func (s *Server) createProperty(c echo.Context) error {
	var req marketapi.CreatePropertyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, err)
	}
	basePrice, err := parseAmount(req.BasePrice)
	if err != nil {
		return respondError(c, err)
	}

	property, err := s.market.Register(c.Request().Context(), principalFrom(c), core.Property{
		Name:      req.Name,
		Address:   req.Address,
		BasePrice: basePrice,
		Currency:  core.Currency(req.Currency),
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, property)
}

func (s *Server) getProperty(c echo.Context) error {
	snap, err := s.market.Snapshot(c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, marketapi.PropertyResponse{
		Property:   snap.Property,
		Bids:       snap.Bids,
		HighestBid: snap.Summary.Winner,
		BidCount:   snap.Summary.Count,
	})
}

func (s *Server) activate(c echo.Context) error {
	window, err := s.market.Activate(c.Request().Context(), principalFrom(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, window)
}

func (s *Server) relist(c echo.Context) error {
	window, err := s.market.Relist(c.Request().Context(), principalFrom(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, window)
}

func (s *Server) submitBid(c echo.Context) error {
	var req marketapi.SubmitBidRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, err)
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return respondError(c, err)
	}

	bid, err := s.market.SubmitBid(c.Request().Context(), c.Param("id"), principalFrom(c), amount, core.Currency(req.Currency))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, bid)
}

// rentNow closes bidding with the caller's purchase and settles it in the
// same request. A failed payment still answers with the error; the FAILED
// record is available from the settlement endpoint.
func (s *Server) rentNow(c echo.Context) error {
	var req marketapi.RentNowRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, err)
	}

	ctx := c.Request().Context()
	propertyID := c.Param("id")
	bid, err := s.market.RentNow(ctx, propertyID, principalFrom(c), core.Currency(req.Currency))
	if err != nil {
		return respondError(c, err)
	}

	rec, err := s.settlements.Settle(ctx, propertyID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, marketapi.RentNowResponse{Bid: bid, Settlement: settlementResponse(rec)})
}

func (s *Server) saveCriteria(c echo.Context) error {
	var req marketapi.CriteriaRequest
	if err := bindAndValidate(c, &req); err != nil {
		return respondError(c, err)
	}

	propertyID := c.Param("id")
	if _, err := s.market.Snapshot(propertyID); err != nil {
		return respondError(c, err)
	}

	weights := make(core.CriteriaWeights, len(req.Ratings))
	for name, rating := range req.Ratings {
		weights[core.Criterion(name)] = rating
	}
	if err := weights.Validate(); err != nil {
		return respondError(c, err)
	}

	tenant := principalFrom(c)
	if err := s.criteria.SaveCriteria(c.Request().Context(), tenant.ID, propertyID, weights); err != nil {
		return respondError(c, err)
	}

	score, err := core.Score(weights)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, marketapi.ScoreResponse{PropertyID: propertyID, Score: score})
}

func (s *Server) score(c echo.Context) error {
	propertyID := c.Param("id")
	if _, err := s.market.Snapshot(propertyID); err != nil {
		return respondError(c, err)
	}

	score, err := core.ScoreProperty(c.Request().Context(), principalFrom(c).ID, propertyID, s.criteria)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, marketapi.ScoreResponse{PropertyID: propertyID, Score: score})
}

func (s *Server) rankings(c echo.Context) error {
	tenant := principalFrom(c)
	ranked, err := core.RankProperties(c.Request().Context(), tenant.ID, s.market.Properties(), s.criteria)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, marketapi.RankingResponse{TenantID: tenant.ID, Properties: ranked})
}

func (s *Server) settlement(c echo.Context) error {
	rec, err := s.settlements.Record(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, settlementResponse(rec))
}

func (s *Server) retrySettlement(c echo.Context) error {
	rec, err := s.settlements.Retry(c.Request().Context(), principalFrom(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, settlementResponse(rec))
}

func settlementResponse(rec core.SettlementRecord) marketapi.SettlementResponse {
	resp := marketapi.SettlementResponse{Record: rec}
	if len(rec.Proof) > 0 {
		resp.Proof = marketapi.SettlementProof(rec.Proof).EncodeBase64()
	}
	return resp
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: invalid amount %q", core.ErrValidation, s)
	}
	return d, nil
}
