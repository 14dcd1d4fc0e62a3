package core

import "errors"

var (
	ErrValidation           = errors.New("validation failed")
	ErrForbidden            = errors.New("forbidden")
	ErrPropertyNotFound     = errors.New("property not found")
	ErrPropertyExists       = errors.New("property already listed")
	ErrWindowClosed         = errors.New("bidding window is not open")
	ErrWindowNotClosed      = errors.New("bidding window has not closed")
	ErrBidTooLow            = errors.New("bid does not exceed current highest bid")
	ErrNoBids               = errors.New("no bids for property")
	ErrMissingCriteria      = errors.New("missing criteria")
	ErrCriteriaNotFound     = errors.New("no criteria found for this tenant and property")
	ErrRateUnavailable      = errors.New("exchange rate unavailable")
	ErrPaymentFailed        = errors.New("payment settlement failed")
	ErrSettlementInProgress = errors.New("settlement already started")
	ErrAlreadySettled       = errors.New("property already settled")
	ErrNotRetryable         = errors.New("settlement is not in a retryable state")
	ErrRecordNotFound       = errors.New("settlement record not found")
)

// IsBusinessRejection reports whether err is an expected rule rejection
// that callers surface without treating it as a failure.
func IsBusinessRejection(err error) bool {
	return errors.Is(err, ErrWindowClosed) || errors.Is(err, ErrBidTooLow)
}
