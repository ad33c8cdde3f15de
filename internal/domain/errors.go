package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the engine wraps exactly one of them.
var (
	ErrValidation    = errors.New("validation failed")
	ErrIntegrity     = errors.New("integrity violation")
	ErrAuthorization = errors.New("not authorized")
	ErrSystem        = errors.New("system failure")
	ErrNotFound      = errors.New("not found")
)

var (
	ErrEmptyCart          = fmt.Errorf("%w: cart is empty", ErrValidation)
	ErrNoOpenShift        = fmt.Errorf("%w: no open shift", ErrValidation)
	ErrShiftAlreadyOpen   = fmt.Errorf("%w: a shift is already open", ErrValidation)
	ErrShiftNotClosing    = fmt.Errorf("%w: shift is not closing", ErrValidation)
	ErrUnauthenticated    = fmt.Errorf("%w: authenticated actor required", ErrValidation)
	ErrUnderpaid          = fmt.Errorf("%w: payments do not cover the total", ErrValidation)
	ErrInvalidPayment     = fmt.Errorf("%w: invalid payment", ErrValidation)
	ErrCreditNeedsClient  = fmt.Errorf("%w: credit payment requires a client", ErrValidation)
	ErrInvalidQuantity    = fmt.Errorf("%w: quantity must be positive", ErrValidation)
	ErrInvalidRule        = fmt.Errorf("%w: invalid pricing rule", ErrValidation)
	ErrRuleOverlap        = fmt.Errorf("%w: pricing rule overlaps an active rule", ErrValidation)
	ErrInvalidOffer       = fmt.Errorf("%w: invalid offer", ErrValidation)
	ErrInvalidCoupon      = fmt.Errorf("%w: invalid coupon", ErrValidation)
	ErrInvalidCurrency    = fmt.Errorf("%w: invalid currency", ErrValidation)
	ErrRefundExceedsSold  = fmt.Errorf("%w: refund quantity exceeds sold quantity", ErrValidation)
	ErrInvalidRefund      = fmt.Errorf("%w: invalid refund", ErrValidation)
	ErrLimitReached       = fmt.Errorf("%w: plan limit reached", ErrValidation)
	ErrFeatureUnavailable = fmt.Errorf("%w: feature not available on current plan", ErrValidation)

	ErrCouponSuspended       = fmt.Errorf("%w: coupon is suspended", ErrValidation)
	ErrCouponOutsideWindow   = fmt.Errorf("%w: coupon is not valid at this time", ErrValidation)
	ErrCouponExhausted       = fmt.Errorf("%w: coupon usage limit reached", ErrValidation)
	ErrCouponMinInvoice      = fmt.Errorf("%w: cart subtotal below coupon minimum", ErrValidation)
	ErrCouponTargetMismatch  = fmt.Errorf("%w: coupon not valid for this client", ErrValidation)
	ErrCouponProductMismatch = fmt.Errorf("%w: coupon does not apply to any cart product", ErrValidation)

	ErrInsufficientCash = fmt.Errorf("%w: insufficient cash on hand", ErrIntegrity)

	ErrElevationRequired = fmt.Errorf("%w: elevated role required", ErrAuthorization)
	ErrInvalidPIN        = fmt.Errorf("%w: invalid pin", ErrAuthorization)
)

// DiscrepancyError blocks a shift close while counted amounts differ from
// the expected ones.
type DiscrepancyError struct {
	ShiftID string
	Buckets []Bucket
}

func (e *DiscrepancyError) Error() string {
	return fmt.Sprintf("cash count mismatch in %d bucket(s)", len(e.Buckets))
}

func (e *DiscrepancyError) Unwrap() error {
	return ErrValidation
}
