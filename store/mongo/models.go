package mongo

import (
	"strings"
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

	ID              string      `grove:"id,pk"            bson:"_id"`
	OrgID           string      `grove:"org_id"           bson:"org_id"`
	Name            string      `grove:"name"             bson:"name"`
	ChargeStyle     string      `grove:"charge_style"     bson:"charge_style"`
	ChargeFrequency string      `grove:"charge_frequency" bson:"charge_frequency"`
	Tiers           []tierModel `grove:"tiers"            bson:"tiers"`
	Asset           string      `grove:"asset"            bson:"asset"`
	FlatPrice       int64       `grove:"flat_price"       bson:"flat_price"`
	UsageMeterID    string      `grove:"usage_meter_id"   bson:"usage_meter_id"`
	IsActive        bool        `grove:"is_active"        bson:"is_active"`
	IsRestricted    bool        `grove:"is_restricted"    bson:"is_restricted"`
	CreatedAt       time.Time   `grove:"created_at"       bson:"created_at"`
	UpdatedAt       time.Time   `grove:"updated_at"       bson:"updated_at"`
}

type tierModel struct {
	LowerBound    int64 `bson:"lower_bound"`
	UpperBound    int64 `bson:"upper_bound"`
	PricePerUnit  int64 `bson:"price_per_unit"`
	PriceFlatRate int64 `bson:"price_flat_rate"`
}

func toPricingModel(p *pricing.Pricing) *pricingModel {
	tiers := make([]tierModel, len(p.Tiers))
	for i, t := range p.Tiers {
		tiers[i] = tierModel(t)
	}

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
	if len(m.Tiers) > 0 {
		tiers = make([]pricing.Tier, len(m.Tiers))
		for i, t := range m.Tiers {
			tiers[i] = pricing.Tier(t)
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

	ID                    string     `grove:"id,pk"                    bson:"_id"`
	OrgID                 string     `grove:"org_id"                   bson:"org_id"`
	Code                  string     `grove:"code"                     bson:"code"`
	DiscountBps           int64      `grove:"discount_bps"             bson:"discount_bps"`
	Expiration            *time.Time `grove:"expiration"               bson:"expiration,omitempty"`
	MaxTotalRedemptions   int64      `grove:"max_total_redemptions"    bson:"max_total_redemptions"`
	TotalRedemptions      int64      `grove:"total_redemptions"        bson:"total_redemptions"`
	IsInitialPurchaseOnly bool       `grove:"is_initial_purchase_only" bson:"is_initial_purchase_only"`
	IsActive              bool       `grove:"is_active"                bson:"is_active"`
	IsRestricted          bool       `grove:"is_restricted"            bson:"is_restricted"`
	IsOneTimeUse          bool       `grove:"is_one_time_use"          bson:"is_one_time_use"`
	CreatedAt             time.Time  `grove:"created_at"               bson:"created_at"`
	UpdatedAt             time.Time  `grove:"updated_at"               bson:"updated_at"`
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

// redemptionModel is keyed by "couponID:subscriber".
type redemptionModel struct {
	grove.BaseModel `grove:"table:tally_coupon_redemptions"`

	Key        string    `grove:"key,pk"     bson:"_id"`
	CouponID   string    `grove:"coupon_id"  bson:"coupon_id"`
	Subscriber string    `grove:"subscriber" bson:"subscriber"`
	OrgID      string    `grove:"org_id"     bson:"org_id"`
	Count      int64     `grove:"count"      bson:"count"`
	LastAt     time.Time `grove:"last_at"    bson:"last_at"`
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

// standingCouponModel is keyed by "orgID:subscriber".
type standingCouponModel struct {
	grove.BaseModel `grove:"table:tally_standing_coupons"`

	Key        string    `grove:"key,pk"     bson:"_id"`
	OrgID      string    `grove:"org_id"     bson:"org_id"`
	Subscriber string    `grove:"subscriber" bson:"subscriber"`
	CouponID   string    `grove:"coupon_id"  bson:"coupon_id"`
	UpdatedAt  time.Time `grove:"updated_at" bson:"updated_at"`
}

// ==================== Discount models ====================

type discountModel struct {
	grove.BaseModel `grove:"table:tally_discounts"`

	ID           string    `grove:"id,pk"         bson:"_id"`
	OrgID        string    `grove:"org_id"        bson:"org_id"`
	Name         string    `grove:"name"          bson:"name"`
	DiscountBps  int64     `grove:"discount_bps"  bson:"discount_bps"`
	TotalMints   int64     `grove:"total_mints"   bson:"total_mints"`
	MaxMints     int64     `grove:"max_mints"     bson:"max_mints"`
	IsActive     bool      `grove:"is_active"     bson:"is_active"`
	IsRestricted bool      `grove:"is_restricted" bson:"is_restricted"`
	CreatedAt    time.Time `grove:"created_at"    bson:"created_at"`
	UpdatedAt    time.Time `grove:"updated_at"    bson:"updated_at"`
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

// accessModel is keyed by "resourceID:subscriber".
type accessModel struct {
	grove.BaseModel `grove:"table:tally_access"`

	Key        string    `grove:"key,pk"      bson:"_id"`
	ResourceID string    `grove:"resource_id" bson:"resource_id"`
	Subscriber string    `grove:"subscriber"  bson:"subscriber"`
	GrantedAt  time.Time `grove:"granted_at"  bson:"granted_at"`
}

// ==================== Meter models ====================

type meterModel struct {
	grove.BaseModel `grove:"table:tally_meters"`

	ID                string    `grove:"id,pk"              bson:"_id"`
	OrgID             string    `grove:"org_id"             bson:"org_id"`
	Name              string    `grove:"name"               bson:"name"`
	AggregationMethod string    `grove:"aggregation_method" bson:"aggregation_method"`
	IsActive          bool      `grove:"is_active"          bson:"is_active"`
	CreatedAt         time.Time `grove:"created_at"         bson:"created_at"`
	UpdatedAt         time.Time `grove:"updated_at"         bson:"updated_at"`
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

// usageModel is keyed by "meterID:subscriber".
type usageModel struct {
	grove.BaseModel `grove:"table:tally_meter_usage"`

	Key        string    `grove:"key,pk"     bson:"_id"`
	MeterID    string    `grove:"meter_id"   bson:"meter_id"`
	Subscriber string    `grove:"subscriber" bson:"subscriber"`
	Value      int64     `grove:"value"      bson:"value"`
	UpdatedAt  time.Time `grove:"updated_at" bson:"updated_at"`
}

// ==================== Escrow models ====================

// orgBalanceModel is keyed by "orgID:asset".
type orgBalanceModel struct {
	grove.BaseModel `grove:"table:tally_org_balances"`

	Key       string    `grove:"key,pk"     bson:"_id"`
	OrgID     string    `grove:"org_id"     bson:"org_id"`
	Asset     string    `grove:"asset"      bson:"asset"`
	Amount    int64     `grove:"amount"     bson:"amount"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
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

	Asset     string    `grove:"asset,pk"   bson:"_id"`
	Amount    int64     `grove:"amount"     bson:"amount"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:tally_subscriptions"`

	ID                string    `grove:"id,pk"              bson:"_id"`
	OrgID             string    `grove:"org_id"             bson:"org_id"`
	Subscriber        string    `grove:"subscriber"         bson:"subscriber"`
	ProductID         string    `grove:"product_id"         bson:"product_id"`
	PricingID         string    `grove:"pricing_id"         bson:"pricing_id"`
	PendingPricingID  string    `grove:"pending_pricing_id" bson:"pending_pricing_id"`
	DiscountIDs       []string  `grove:"discount_ids"       bson:"discount_ids"`
	CheckoutID        string    `grove:"checkout_id"        bson:"checkout_id"`
	Status            string    `grove:"status"             bson:"status"`
	StartDate         time.Time `grove:"start_date"         bson:"start_date"`
	EndDate           time.Time `grove:"end_date"           bson:"end_date"`
	CommittedQuantity int64     `grove:"committed_quantity" bson:"committed_quantity"`
	CreatedAt         time.Time `grove:"created_at"         bson:"created_at"`
	UpdatedAt         time.Time `grove:"updated_at"         bson:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                s.ID.String(),
		OrgID:             s.OrgID,
		Subscriber:        s.Subscriber,
		ProductID:         s.ProductID,
		PricingID:         s.PricingID.String(),
		PendingPricingID:  s.PendingPricingID.String(),
		DiscountIDs:       idStrings(s.DiscountIDs),
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
	discountIDs, err := parseIDs(m.DiscountIDs)
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

	OrgID                       string    `grove:"org_id,pk"                     bson:"_id"`
	Pausable                    bool      `grove:"pausable"                      bson:"pausable"`
	SubscriberChangeablePricing bool      `grove:"subscriber_changeable_pricing" bson:"subscriber_changeable_pricing"`
	UpdatedAt                   time.Time `grove:"updated_at"                    bson:"updated_at"`
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

	ID             string          `grove:"id,pk"           bson:"_id"`
	OrgID          string          `grove:"org_id"          bson:"org_id"`
	Subscriber     string          `grove:"subscriber"      bson:"subscriber"`
	CheckoutID     string          `grove:"checkout_id"     bson:"checkout_id"`
	SubscriptionID string          `grove:"subscription_id" bson:"subscription_id"`
	Kind           string          `grove:"kind"            bson:"kind"`
	Asset          string          `grove:"asset"           bson:"asset"`
	Subtotal       int64           `grove:"subtotal"        bson:"subtotal"`
	DiscountAmount int64           `grove:"discount_amount" bson:"discount_amount"`
	Total          int64           `grove:"total"           bson:"total"`
	Fee            int64           `grove:"fee"             bson:"fee"`
	Net            int64           `grove:"net"             bson:"net"`
	CouponID       string          `grove:"coupon_id"       bson:"coupon_id"`
	DiscountIDs    []string        `grove:"discount_ids"    bson:"discount_ids"`
	LineItems      []lineItemModel `grove:"line_items"      bson:"line_items"`
	PeriodStart    *time.Time      `grove:"period_start"    bson:"period_start,omitempty"`
	PeriodEnd      *time.Time      `grove:"period_end"      bson:"period_end,omitempty"`
	PaidAt         time.Time       `grove:"paid_at"         bson:"paid_at"`
	CreatedAt      time.Time       `grove:"created_at"      bson:"created_at"`
	UpdatedAt      time.Time       `grove:"updated_at"      bson:"updated_at"`
}

type lineItemModel struct {
	ID             string `bson:"id"`
	PricingID      string `bson:"pricing_id"`
	ProductID      string `bson:"product_id"`
	SubscriptionID string `bson:"subscription_id"`
	ChargeStyle    string `bson:"charge_style"`
	Quantity       int64  `bson:"quantity"`
	Amount         int64  `bson:"amount"`
}

func toInvoiceModel(inv *invoice.Invoice) *invoiceModel {
	items := make([]lineItemModel, len(inv.LineItems))
	for i, li := range inv.LineItems {
		items[i] = lineItemModel{
			ID:             li.ID.String(),
			PricingID:      li.PricingID.String(),
			ProductID:      li.ProductID,
			SubscriptionID: li.SubscriptionID.String(),
			ChargeStyle:    li.ChargeStyle,
			Quantity:       li.Quantity,
			Amount:         li.Amount,
		}
	}

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
		DiscountIDs:    idStrings(inv.DiscountIDs),
		LineItems:      items,
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
	discountIDs, err := parseIDs(m.DiscountIDs)
	if err != nil {
		return nil, err
	}

	items := make([]invoice.LineItem, len(m.LineItems))
	for i, li := range m.LineItems {
		itemID, err := parseOptionalID(li.ID)
		if err != nil {
			return nil, err
		}
		pricingID, err := parseOptionalID(li.PricingID)
		if err != nil {
			return nil, err
		}
		lineSubID, err := parseOptionalID(li.SubscriptionID)
		if err != nil {
			return nil, err
		}
		items[i] = invoice.LineItem{
			ID:             itemID,
			PricingID:      pricingID,
			ProductID:      li.ProductID,
			SubscriptionID: lineSubID,
			ChargeStyle:    li.ChargeStyle,
			Quantity:       li.Quantity,
			Amount:         li.Amount,
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
		LineItems:      items,
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

func idStrings(ids []id.ID) []string {
	out := make([]string, len(ids))
	for i, v := range ids {
		out[i] = v.String()
	}
	return out
}

func parseIDs(ss []string) ([]id.ID, error) {
	if len(ss) == 0 {
		return nil, nil
	}
	out := make([]id.ID, len(ss))
	for i, s := range ss {
		v, err := id.Parse(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
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

// compositeKey joins the parts of a natural key into a document _id.
func compositeKey(parts ...string) string {
	return strings.Join(parts, ":")
}
