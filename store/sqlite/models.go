package sqlite

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/tally/coupon"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/org"
	"github.com/xraph/tally/pricing"
	"github.com/xraph/tally/subscription"
	"github.com/xraph/tally/types"
)

// ==================== Pricing models ====================

type pricingModel struct {
	grove.BaseModel `grove:"table:tally_pricing"`

	ID              string          `grove:"id,pk"`
	OrgID           string          `grove:"org_id"`
	Name            string          `grove:"name"`
	ChargeStyle     string          `grove:"charge_style"`
	ChargeFrequency string          `grove:"charge_frequency"`
	Tiers           json.RawMessage `grove:"tiers"`
	Asset           string          `grove:"asset"`
	FlatPrice       int64           `grove:"flat_price"`
	UsageMeterID    string          `grove:"usage_meter_id"`
	IsActive        bool            `grove:"is_active"`
	IsRestricted    bool            `grove:"is_restricted"`
	CreatedAt       time.Time       `grove:"created_at"`
	UpdatedAt       time.Time       `grove:"updated_at"`
}

func toPricingModel(p *pricing.Pricing) *pricingModel {
	tiers, _ := json.Marshal(p.Tiers) //nolint:errcheck // plain struct slice

	return &pricingModel{
		ID:              p.ID.String(),
		OrgID:           p.OrgID,
		Name:            p.Name,
		ChargeStyle:     string(p.ChargeStyle),
		ChargeFrequency: string(p.ChargeFrequency),
		Tiers:           tiers,
		Asset:           p.Asset,
		FlatPrice:       p.FlatPrice,
		UsageMeterID:    p.UsageMeterID.String(),
		IsActive:        p.IsActive,
		IsRestricted:    p.IsRestricted,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func fromPricingModel(m *pricingModel) (*pricing.Pricing, error) {
	pricingID, err := id.ParsePricingID(m.ID)
	if err != nil {
		return nil, err
	}
	meterID, err := parseOptionalID(m.UsageMeterID)
	if err != nil {
		return nil, err
	}

	var tiers []pricing.Tier
	if len(m.Tiers) > 0 && string(m.Tiers) != "null" {
		if err := json.Unmarshal(m.Tiers, &tiers); err != nil {
			return nil, err
		}
	}

	return &pricing.Pricing{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              pricingID,
		OrgID:           m.OrgID,
		Name:            m.Name,
		ChargeStyle:     pricing.ChargeStyle(m.ChargeStyle),
		ChargeFrequency: pricing.Frequency(m.ChargeFrequency),
		Tiers:           tiers,
		Asset:           m.Asset,
		FlatPrice:       m.FlatPrice,
		UsageMeterID:    meterID,
		IsActive:        m.IsActive,
		IsRestricted:    m.IsRestricted,
	}, nil
}

// ==================== Coupon models ====================

type couponModel struct {
	grove.BaseModel `grove:"table:tally_coupons"`

	ID                    string     `grove:"id,pk"`
	OrgID                 string     `grove:"org_id"`
	Code                  string     `grove:"code"`
	DiscountBps           int64      `grove:"discount_bps"`
	Expiration            *time.Time `grove:"expiration"`
	MaxTotalRedemptions   int64      `grove:"max_total_redemptions"`
	TotalRedemptions      int64      `grove:"total_redemptions"`
	IsInitialPurchaseOnly bool       `grove:"is_initial_purchase_only"`
	IsActive              bool       `grove:"is_active"`
	IsRestricted          bool       `grove:"is_restricted"`
	IsOneTimeUse          bool       `grove:"is_one_time_use"`
	CreatedAt             time.Time  `grove:"created_at"`
	UpdatedAt             time.Time  `grove:"updated_at"`
}

func toCouponModel(c *coupon.Coupon) *couponModel {
	return &couponModel{
		ID:                    c.ID.String(),
		OrgID:                 c.OrgID,
		Code:                  c.Code,
		DiscountBps:           c.DiscountBps,
		Expiration:            optionalTime(c.Expiration),
		MaxTotalRedemptions:   c.MaxTotalRedemptions,
		TotalRedemptions:      c.TotalRedemptions,
		IsInitialPurchaseOnly: c.IsInitialPurchaseOnly,
		IsActive:              c.IsActive,
		IsRestricted:          c.IsRestricted,
		IsOneTimeUse:          c.IsOneTimeUse,
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
}

func fromCouponModel(m *couponModel) (*coupon.Coupon, error) {
	couponID, err := id.ParseCouponID(m.ID)
	if err != nil {
		return nil, err
	}
	return &coupon.Coupon{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                    couponID,
		OrgID:                 m.OrgID,
		Code:                  m.Code,
		DiscountBps:           m.DiscountBps,
		Expiration:            derefTime(m.Expiration),
		MaxTotalRedemptions:   m.MaxTotalRedemptions,
		TotalRedemptions:      m.TotalRedemptions,
		IsInitialPurchaseOnly: m.IsInitialPurchaseOnly,
		IsActive:              m.IsActive,
		IsRestricted:          m.IsRestricted,
		IsOneTimeUse:          m.IsOneTimeUse,
	}, nil
}

type redemptionModel struct {
	grove.BaseModel `grove:"table:tally_coupon_redemptions"`

	CouponID   string    `grove:"coupon_id,pk"`
	Subscriber string    `grove:"subscriber,pk"`
	OrgID      string    `grove:"org_id"`
	Count      int64     `grove:"count"`
	LastAt     time.Time `grove:"last_at"`
}

func fromRedemptionModel(m *redemptionModel) (*coupon.Redemption, error) {
	couponID, err := id.ParseCouponID(m.CouponID)
	if err != nil {
		return nil, err
	}
	return &coupon.Redemption{
		CouponID:   couponID,
		OrgID:      m.OrgID,
		Subscriber: m.Subscriber,
		Count:      m.Count,
		LastAt:     m.LastAt,
	}, nil
}

type standingCouponModel struct {
	grove.BaseModel `grove:"table:tally_standing_coupons"`

	OrgID      string    `grove:"org_id,pk"`
	Subscriber string    `grove:"subscriber,pk"`
	CouponID   string    `grove:"coupon_id"`
	UpdatedAt  time.Time `grove:"updated_at"`
}

// ==================== Discount models ====================

type discountModel struct {
	grove.BaseModel `grove:"table:tally_discounts"`

	ID           string    `grove:"id,pk"`
	OrgID        string    `grove:"org_id"`
	Name         string    `grove:"name"`
	DiscountBps  int64     `grove:"discount_bps"`
	TotalMints   int64     `grove:"total_mints"`
	MaxMints     int64     `grove:"max_mints"`
	IsActive     bool      `grove:"is_active"`
	IsRestricted bool      `grove:"is_restricted"`
	CreatedAt    time.Time `grove:"created_at"`
	UpdatedAt    time.Time `grove:"updated_at"`
}

func toDiscountModel(d *discount.Discount) *discountModel {
	return &discountModel{
		ID:           d.ID.String(),
		OrgID:        d.OrgID,
		Name:         d.Name,
		DiscountBps:  d.DiscountBps,
		TotalMints:   d.TotalMints,
		MaxMints:     d.MaxMints,
		IsActive:     d.IsActive,
		IsRestricted: d.IsRestricted,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func fromDiscountModel(m *discountModel) (*discount.Discount, error) {
	discountID, err := id.ParseDiscountID(m.ID)
	if err != nil {
		return nil, err
	}
	return &discount.Discount{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           discountID,
		OrgID:        m.OrgID,
		Name:         m.Name,
		DiscountBps:  m.DiscountBps,
		TotalMints:   m.TotalMints,
		MaxMints:     m.MaxMints,
		IsActive:     m.IsActive,
		IsRestricted: m.IsRestricted,
	}, nil
}

// ==================== Access models ====================

type accessModel struct {
	grove.BaseModel `grove:"table:tally_access"`

	ResourceID string    `grove:"resource_id,pk"`
	Subscriber string    `grove:"subscriber,pk"`
	GrantedAt  time.Time `grove:"granted_at"`
}

// ==================== Meter models ====================

type meterModel struct {
	grove.BaseModel `grove:"table:tally_meters"`

	ID                string    `grove:"id,pk"`
	OrgID             string    `grove:"org_id"`
	Name              string    `grove:"name"`
	AggregationMethod string    `grove:"aggregation_method"`
	IsActive          bool      `grove:"is_active"`
	CreatedAt         time.Time `grove:"created_at"`
	UpdatedAt         time.Time `grove:"updated_at"`
}

func toMeterModel(m *meter.Meter) *meterModel {
	return &meterModel{
		ID:                m.ID.String(),
		OrgID:             m.OrgID,
		Name:              m.Name,
		AggregationMethod: string(m.AggregationMethod),
		IsActive:          m.IsActive,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func fromMeterModel(m *meterModel) (*meter.Meter, error) {
	meterID, err := id.ParseMeterID(m.ID)
	if err != nil {
		return nil, err
	}
	return &meter.Meter{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                meterID,
		OrgID:             m.OrgID,
		Name:              m.Name,
		AggregationMethod: meter.Aggregation(m.AggregationMethod),
		IsActive:          m.IsActive,
	}, nil
}

type usageModel struct {
	grove.BaseModel `grove:"table:tally_meter_usage"`

	MeterID    string    `grove:"meter_id,pk"`
	Subscriber string    `grove:"subscriber,pk"`
	Value      int64     `grove:"value"`
	UpdatedAt  time.Time `grove:"updated_at"`
}

// ==================== Escrow models ====================

type orgBalanceModel struct {
	grove.BaseModel `grove:"table:tally_org_balances"`

	OrgID     string    `grove:"org_id,pk"`
	Asset     string    `grove:"asset,pk"`
	Amount    int64     `grove:"amount"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func fromOrgBalanceModel(m *orgBalanceModel) *escrow.Balance {
	return &escrow.Balance{
		OrgID:     m.OrgID,
		Asset:     m.Asset,
		Amount:    m.Amount,
		UpdatedAt: m.UpdatedAt,
	}
}

type feeBalanceModel struct {
	grove.BaseModel `grove:"table:tally_fee_balances"`

	Asset     string    `grove:"asset,pk"`
	Amount    int64     `grove:"amount"`
	UpdatedAt time.Time `grove:"updated_at"`
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:tally_subscriptions"`

	ID                string          `grove:"id,pk"`
	OrgID             string          `grove:"org_id"`
	Subscriber        string          `grove:"subscriber"`
	ProductID         string          `grove:"product_id"`
	PricingID         string          `grove:"pricing_id"`
	PendingPricingID  string          `grove:"pending_pricing_id"`
	DiscountIDs       json.RawMessage `grove:"discount_ids"`
	CheckoutID        string          `grove:"checkout_id"`
	Status            string          `grove:"status"`
	StartDate         time.Time       `grove:"start_date"`
	EndDate           time.Time       `grove:"end_date"`
	CommittedQuantity int64           `grove:"committed_quantity"`
	CreatedAt         time.Time       `grove:"created_at"`
	UpdatedAt         time.Time       `grove:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	discountIDs, _ := json.Marshal(nonNilIDs(s.DiscountIDs)) //nolint:errcheck // ids marshal as text

	return &subscriptionModel{
		ID:                s.ID.String(),
		OrgID:             s.OrgID,
		Subscriber:        s.Subscriber,
		ProductID:         s.ProductID,
		PricingID:         s.PricingID.String(),
		PendingPricingID:  s.PendingPricingID.String(),
		DiscountIDs:       discountIDs,
		CheckoutID:        s.CheckoutID.String(),
		Status:            string(s.Status),
		StartDate:         s.StartDate,
		EndDate:           s.EndDate,
		CommittedQuantity: s.CommittedQuantity,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	pricingID, err := id.ParsePricingID(m.PricingID)
	if err != nil {
		return nil, err
	}
	pendingID, err := parseOptionalID(m.PendingPricingID)
	if err != nil {
		return nil, err
	}
	checkoutID, err := parseOptionalID(m.CheckoutID)
	if err != nil {
		return nil, err
	}
	discountIDs, err := decodeIDs(m.DiscountIDs)
	if err != nil {
		return nil, err
	}

	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:                subID,
		OrgID:             m.OrgID,
		Subscriber:        m.Subscriber,
		ProductID:         m.ProductID,
		PricingID:         pricingID,
		PendingPricingID:  pendingID,
		DiscountIDs:       discountIDs,
		CheckoutID:        checkoutID,
		Status:            subscription.Status(m.Status),
		StartDate:         m.StartDate,
		EndDate:           m.EndDate,
		CommittedQuantity: m.CommittedQuantity,
	}, nil
}

// ==================== Org models ====================

type settingsModel struct {
	grove.BaseModel `grove:"table:tally_org_settings"`

	OrgID                       string    `grove:"org_id,pk"`
	Pausable                    bool      `grove:"pausable"`
	SubscriberChangeablePricing bool      `grove:"subscriber_changeable_pricing"`
	UpdatedAt                   time.Time `grove:"updated_at"`
}

func toSettingsModel(s *org.Settings) *settingsModel {
	return &settingsModel{
		OrgID:                       s.OrgID,
		Pausable:                    s.Pausable,
		SubscriberChangeablePricing: s.SubscriberChangeablePricing,
		UpdatedAt:                   s.UpdatedAt,
	}
}

func fromSettingsModel(m *settingsModel) *org.Settings {
	return &org.Settings{
		OrgID:                       m.OrgID,
		Pausable:                    m.Pausable,
		SubscriberChangeablePricing: m.SubscriberChangeablePricing,
		UpdatedAt:                   m.UpdatedAt,
	}
}

// ==================== Invoice models ====================

type invoiceModel struct {
	grove.BaseModel `grove:"table:tally_invoices"`

	ID             string          `grove:"id,pk"`
	OrgID          string          `grove:"org_id"`
	Subscriber     string          `grove:"subscriber"`
	CheckoutID     string          `grove:"checkout_id"`
	SubscriptionID string          `grove:"subscription_id"`
	Kind           string          `grove:"kind"`
	Asset          string          `grove:"asset"`
	Subtotal       int64           `grove:"subtotal"`
	DiscountAmount int64           `grove:"discount_amount"`
	Total          int64           `grove:"total"`
	Fee            int64           `grove:"fee"`
	Net            int64           `grove:"net"`
	CouponID       string          `grove:"coupon_id"`
	DiscountIDs    json.RawMessage `grove:"discount_ids"`
	LineItems      json.RawMessage `grove:"line_items"`
	PeriodStart    *time.Time      `grove:"period_start"`
	PeriodEnd      *time.Time      `grove:"period_end"`
	PaidAt         time.Time       `grove:"paid_at"`
	CreatedAt      time.Time       `grove:"created_at"`
	UpdatedAt      time.Time       `grove:"updated_at"`
}

func toInvoiceModel(inv *invoice.Invoice) *invoiceModel {
	discountIDs, _ := json.Marshal(nonNilIDs(inv.DiscountIDs)) //nolint:errcheck // ids marshal as text
	lineItems, _ := json.Marshal(inv.LineItems)                //nolint:errcheck // plain struct slice

	return &invoiceModel{
		ID:             inv.ID.String(),
		OrgID:          inv.OrgID,
		Subscriber:     inv.Subscriber,
		CheckoutID:     inv.CheckoutID.String(),
		SubscriptionID: inv.SubscriptionID.String(),
		Kind:           string(inv.Kind),
		Asset:          inv.Asset,
		Subtotal:       inv.Subtotal,
		DiscountAmount: inv.DiscountAmount,
		Total:          inv.Total,
		Fee:            inv.Fee,
		Net:            inv.Net,
		CouponID:       inv.CouponID.String(),
		DiscountIDs:    discountIDs,
		LineItems:      lineItems,
		PeriodStart:    optionalTime(inv.PeriodStart),
		PeriodEnd:      optionalTime(inv.PeriodEnd),
		PaidAt:         inv.PaidAt,
		CreatedAt:      inv.CreatedAt,
		UpdatedAt:      inv.UpdatedAt,
	}
}

func fromInvoiceModel(m *invoiceModel) (*invoice.Invoice, error) {
	invID, err := id.ParseInvoiceID(m.ID)
	if err != nil {
		return nil, err
	}
	checkoutID, err := parseOptionalID(m.CheckoutID)
	if err != nil {
		return nil, err
	}
	subID, err := parseOptionalID(m.SubscriptionID)
	if err != nil {
		return nil, err
	}
	couponID, err := parseOptionalID(m.CouponID)
	if err != nil {
		return nil, err
	}
	discountIDs, err := decodeIDs(m.DiscountIDs)
	if err != nil {
		return nil, err
	}

	var lineItems []invoice.LineItem
	if len(m.LineItems) > 0 && string(m.LineItems) != "null" {
		if err := json.Unmarshal(m.LineItems, &lineItems); err != nil {
			return nil, err
		}
	}

	return &invoice.Invoice{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             invID,
		OrgID:          m.OrgID,
		Subscriber:     m.Subscriber,
		CheckoutID:     checkoutID,
		SubscriptionID: subID,
		Kind:           invoice.Kind(m.Kind),
		Asset:          m.Asset,
		Subtotal:       m.Subtotal,
		DiscountAmount: m.DiscountAmount,
		Total:          m.Total,
		Fee:            m.Fee,
		Net:            m.Net,
		CouponID:       couponID,
		DiscountIDs:    discountIDs,
		LineItems:      lineItems,
		PeriodStart:    derefTime(m.PeriodStart),
		PeriodEnd:      derefTime(m.PeriodEnd),
		PaidAt:         m.PaidAt,
	}, nil
}

// ==================== Conversion helpers ====================

// parseOptionalID parses s, mapping "" to id.Nil.
func parseOptionalID(s string) (id.ID, error) {
	var out id.ID
	if err := out.UnmarshalText([]byte(s)); err != nil {
		return id.Nil, err
	}
	return out, nil
}

func nonNilIDs(ids []id.ID) []id.ID {
	if ids == nil {
		return []id.ID{}
	}
	return ids
}

func decodeIDs(raw json.RawMessage) ([]id.ID, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var ids []id.ID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
