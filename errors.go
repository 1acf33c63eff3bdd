package tally

import (
	"errors"
	"fmt"

	"github.com/xraph/tally/coupon"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/pricing"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/subscription"
)

// Authorization errors. These are surfaced verbatim and never retried.
var (
	ErrNotOrgAdmin   = errors.New("Not an admin of the organization") //nolint:staticcheck // surfaced verbatim to callers
	ErrNotOrgOwner   = errors.New("tally: not an owner of the organization")
	ErrMissingRole   = errors.New("tally: caller lacks required role")
	ErrNotSubscriber = errors.New("tally: caller is not the subscriber")
	ErrNoCaller      = errors.New("tally: no caller in context")
)

// General errors
var (
	ErrInvalidInput         = errors.New("tally: invalid input")
	ErrAlreadyExists        = store.ErrAlreadyExists
	ErrOrganizationNotFound = errors.New("tally: organization not found")
)

// Pricing errors
var (
	ErrPricingNotFound         = pricing.ErrNotFound
	ErrNoTiersFound            = pricing.ErrNoTiersFound
	ErrInvalidTiers            = pricing.ErrInvalidTiers
	ErrTiersNotContiguous      = pricing.ErrTiersNotContiguous
	ErrInvalidLowerBound       = pricing.ErrInvalidLowerBound
	ErrInvalidUpperBound       = pricing.ErrInvalidUpperBound
	ErrInvalidChargeStyle      = pricing.ErrInvalidChargeStyle
	ErrInvalidFrequency        = pricing.ErrInvalidFrequency
	ErrInvalidQuantity         = pricing.ErrInvalidQuantity
	ErrInvalidPrice            = pricing.ErrInvalidPrice
	ErrMeterRequired           = pricing.ErrMeterRequired
	ErrAmountOverflow          = pricing.ErrAmountOverflow
	ErrAssetRequired           = pricing.ErrAssetRequired
	ErrPricingNotAuthorized    = errors.New("tally: pricing not authorized for organization")
	ErrPricingInactive         = errors.New("tally: pricing inactive")
	ErrPricingRestrictedAccess = errors.New("tally: pricing restricted")
	ErrPricingTokensMismatch   = errors.New("tally: pricing assets mismatch")
)

// Coupon and discount errors
var (
	ErrCouponNotFound            = coupon.ErrNotFound
	ErrCouponInactive            = coupon.ErrInactive
	ErrCouponExpired             = coupon.ErrExpired
	ErrCouponInitialPurchaseOnly = coupon.ErrInitialPurchaseOnly
	ErrCouponRestricted          = coupon.ErrRestricted
	ErrCouponAlreadyRedeemed     = coupon.ErrAlreadyRedeemed
	ErrCouponExhausted           = coupon.ErrExhausted
	ErrInvalidCouponCode         = coupon.ErrInvalidCode
	ErrCouponCodeTaken           = coupon.ErrCodeTaken
	ErrInvalidCouponDiscount     = coupon.ErrInvalidDiscount

	ErrDiscountNotFound   = discount.ErrNotFound
	ErrDiscountInactive   = discount.ErrInactive
	ErrDiscountRestricted = discount.ErrRestricted
	ErrDiscountExhausted  = discount.ErrExhausted
	ErrDiscountNameTaken  = discount.ErrNameTaken
	ErrInvalidDiscount    = discount.ErrInvalidDiscount
)

// Metering errors
var (
	ErrMeterNotFound      = meter.ErrNotFound
	ErrInvalidAggregation = meter.ErrInvalidAggregation
	ErrMeterInactive      = meter.ErrInactive
	ErrInvalidUsageDelta  = meter.ErrInvalidDelta
	ErrInvalidUsageValue  = meter.ErrInvalidValue
)

// Escrow errors
var (
	ErrInsufficientBalance = escrow.ErrInsufficientBalance
	ErrInvalidFeeReducer   = escrow.ErrInvalidFeeReducer
	ErrInvalidFeeRate      = escrow.ErrInvalidFeeRate
	ErrAssetNotWhitelisted = escrow.ErrAssetNotWhitelisted
)

// Subscription errors
var (
	ErrSubscriptionNotFound    = subscription.ErrNotFound
	ErrInvalidTransition       = subscription.ErrInvalidTransition
	ErrNotReady                = errors.New("tally: subscription not ready for renewal")
	ErrSubscriptionCancelled   = errors.New("tally: subscription cancelled")
	ErrSubscriptionPaused      = errors.New("tally: subscription paused")
	ErrPaymentFailed           = errors.New("tally: payment failed")
	ErrNotPausable             = errors.New("tally: organization does not allow pausing")
	ErrPricingChangeNotAllowed = errors.New("tally: pricing change not allowed")
	ErrInvoiceNotFound         = invoice.ErrNotFound
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("tally: validation failed for %s: %s", e.Field, e.Message)
}

// Unwrap exposes the sentinel behind the failure.
func (e ValidationError) Unwrap() error { return e.Err }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "tally: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("tally: %d errors occurred", len(e.Errors))
}

// Unwrap lets errors.Is match any of the collected errors.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrOrNil returns e when it holds errors, nil otherwise.
func (e MultiError) ErrOrNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// IsAuthorization reports whether err is an authorization failure.
func IsAuthorization(err error) bool {
	return errors.Is(err, ErrNotOrgAdmin) ||
		errors.Is(err, ErrNotOrgOwner) ||
		errors.Is(err, ErrMissingRole) ||
		errors.Is(err, ErrNotSubscriber) ||
		errors.Is(err, ErrNoCaller)
}

// IsNotFound reports whether err is a missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrganizationNotFound) ||
		errors.Is(err, ErrPricingNotFound) ||
		errors.Is(err, ErrCouponNotFound) ||
		errors.Is(err, ErrDiscountNotFound) ||
		errors.Is(err, ErrMeterNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrInvoiceNotFound)
}

var validationErrors = []error{
	ErrInvalidInput, ErrOrganizationNotFound,
	ErrNoTiersFound, ErrInvalidTiers, ErrTiersNotContiguous, ErrInvalidLowerBound,
	ErrInvalidUpperBound, ErrInvalidChargeStyle, ErrInvalidFrequency, ErrInvalidQuantity,
	ErrInvalidPrice, ErrMeterRequired, ErrAmountOverflow, ErrAssetRequired,
	ErrPricingNotAuthorized, ErrPricingInactive, ErrPricingRestrictedAccess, ErrPricingTokensMismatch,
	ErrCouponNotFound, ErrCouponInactive, ErrCouponExpired, ErrCouponInitialPurchaseOnly,
	ErrCouponRestricted, ErrCouponAlreadyRedeemed, ErrCouponExhausted, ErrInvalidCouponCode, ErrCouponCodeTaken,
	ErrInvalidCouponDiscount,
	ErrDiscountNotFound, ErrDiscountInactive, ErrDiscountRestricted, ErrDiscountExhausted, ErrDiscountNameTaken,
	ErrInvalidDiscount,
	ErrInvalidAggregation, ErrMeterInactive, ErrInvalidUsageDelta, ErrInvalidUsageValue,
	ErrInsufficientBalance, ErrInvalidFeeReducer, ErrInvalidFeeRate, ErrAssetNotWhitelisted,
	ErrInvalidTransition, ErrNotReady, ErrSubscriptionCancelled, ErrSubscriptionPaused,
	ErrPaymentFailed, ErrNotPausable, ErrPricingChangeNotAllowed,
}

// IsValidation reports whether err is a named domain validation failure.
func IsValidation(err error) bool {
	var ve ValidationError
	if errors.As(err, &ve) {
		return true
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
