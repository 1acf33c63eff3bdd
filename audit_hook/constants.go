package audithook

// Action constants for audit events.
const (
	// Catalog actions
	ActionPricingCreated  = "pricing.created"
	ActionPricingUpdated  = "pricing.updated"
	ActionCouponCreated   = "coupon.created"
	ActionCouponUpdated   = "coupon.updated"
	ActionCouponRedeemed  = "coupon.redeemed"
	ActionDiscountCreated = "discount.created"
	ActionDiscountMinted  = "discount.minted"

	// Metering actions
	ActionMeterCreated  = "meter.created"
	ActionMeterUsageSet = "meter.usage_set"

	// Subscription actions
	ActionSubscriptionCreated       = "subscription.created"
	ActionSubscriptionCycleUpdated  = "subscription.cycle_updated"
	ActionSubscriptionStatusChanged = "subscription.status_changed"
	ActionRenewalProcessed          = "renewal.processed"
	ActionCheckoutCompleted         = "checkout.completed"

	// Escrow actions
	ActionBalanceCredited  = "balance.credited"
	ActionBalanceWithdrawn = "balance.withdrawn"
	ActionFeeWithdrawn     = "fee.withdrawn"
	ActionFeeSet           = "fee.set"
	ActionAssetWhitelisted = "asset.whitelisted"
)

// Resource constants for audit events.
const (
	ResourcePricing      = "pricing"
	ResourceCoupon       = "coupon"
	ResourceDiscount     = "discount"
	ResourceMeter        = "meter"
	ResourceSubscription = "subscription"
	ResourceInvoice      = "invoice"
	ResourceBalance      = "balance"
	ResourceFeeSchedule  = "fee_schedule"
)

// Category constants for audit events.
const (
	CategoryCatalog      = "catalog"
	CategoryUsage        = "usage"
	CategorySubscription = "subscription"
	CategoryPayment      = "payment"
	CategoryEscrow       = "escrow"
	CategoryAdmin        = "admin"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)
