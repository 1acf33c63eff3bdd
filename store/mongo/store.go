package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/tally/coupon"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/org"
	"github.com/xraph/tally/pricing"
	tallystore "github.com/xraph/tally/store"
	"github.com/xraph/tally/subscription"
)

// Collection name constants.
const (
	colPricing         = "tally_pricing"
	colCoupons         = "tally_coupons"
	colRedemptions     = "tally_coupon_redemptions"
	colStandingCoupons = "tally_standing_coupons"
	colDiscounts       = "tally_discounts"
	colAccess          = "tally_access"
	colMeters          = "tally_meters"
	colUsage           = "tally_meter_usage"
	colOrgBalances     = "tally_org_balances"
	colFeeBalances     = "tally_fee_balances"
	colSubscriptions   = "tally_subscriptions"
	colSettings        = "tally_org_settings"
	colInvoices        = "tally_invoices"
)

// compile-time interface check
var _ tallystore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all tally collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("tally/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Pricing Store ====================

func (s *Store) CreatePricing(ctx context.Context, p *pricing.Pricing) error {
	_, err := s.mdb.NewInsert(toPricingModel(p)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: create pricing: %w", err)
	}
	return nil
}

func (s *Store) GetPricing(ctx context.Context, pricingID id.PricingID) (*pricing.Pricing, error) {
	var m pricingModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": pricingID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, pricing.ErrNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get pricing: %w", err)
	}
	return fromPricingModel(&m)
}

func (s *Store) GetPricingBatch(ctx context.Context, ids []id.PricingID) ([]*pricing.Pricing, error) {
	if len(ids) == 0 {
		return []*pricing.Pricing{}, nil
	}

	var models []pricingModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"_id": bson.M{"$in": idStrings(ids)}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: get pricing batch: %w", err)
	}

	byID := make(map[string]*pricing.Pricing, len(models))
	for i := range models {
		p, err := fromPricingModel(&models[i])
		if err != nil {
			return nil, err
		}
		byID[models[i].ID] = p
	}

	result := make([]*pricing.Pricing, len(ids))
	for i, pid := range ids {
		p, ok := byID[pid.String()]
		if !ok {
			return nil, pricing.ErrNotFound
		}
		cp := *p
		result[i] = &cp
	}
	return result, nil
}

func (s *Store) ListPricing(ctx context.Context, orgID string, opts pricing.ListOpts) ([]*pricing.Pricing, error) {
	var models []pricingModel

	filter := bson.M{"org_id": orgID}
	if opts.ActiveOnly {
		filter["is_active"] = true
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list pricing: %w", err)
	}

	result := make([]*pricing.Pricing, len(models))
	for i := range models {
		p, err := fromPricingModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) UpdatePricing(ctx context.Context, p *pricing.Pricing) error {
	m := toPricingModel(p)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: update pricing: %w", err)
	}
	if res.MatchedCount() == 0 {
		return pricing.ErrNotFound
	}
	return nil
}

// ==================== Coupon Store ====================

func (s *Store) CreateCoupon(ctx context.Context, c *coupon.Coupon) error {
	_, err := s.mdb.NewInsert(toCouponModel(c)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return coupon.ErrCodeTaken
		}
		return fmt.Errorf("tally/mongo: create coupon: %w", err)
	}
	return nil
}

func (s *Store) GetCoupon(ctx context.Context, couponID id.CouponID) (*coupon.Coupon, error) {
	var m couponModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": couponID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get coupon: %w", err)
	}
	return fromCouponModel(&m)
}

func (s *Store) GetCouponByCode(ctx context.Context, orgID, code string) (*coupon.Coupon, error) {
	var m couponModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"org_id": orgID, "code": code}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get coupon by code: %w", err)
	}
	return fromCouponModel(&m)
}

func (s *Store) ListCoupons(ctx context.Context, orgID string, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	var models []couponModel

	filter := bson.M{"org_id": orgID}
	if opts.ActiveOnly {
		filter["is_active"] = true
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list coupons: %w", err)
	}

	result := make([]*coupon.Coupon, len(models))
	for i := range models {
		c, err := fromCouponModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

// UpdateCoupon leaves total_redemptions to the counter methods.
func (s *Store) UpdateCoupon(ctx context.Context, c *coupon.Coupon) error {
	m := toCouponModel(c)
	res, err := s.mdb.NewUpdate((*couponModel)(nil)).
		Filter(bson.M{"_id": m.ID}).
		Set("discount_bps", m.DiscountBps).
		Set("expiration", m.Expiration).
		Set("max_total_redemptions", m.MaxTotalRedemptions).
		Set("is_initial_purchase_only", m.IsInitialPurchaseOnly).
		Set("is_active", m.IsActive).
		Set("is_restricted", m.IsRestricted).
		Set("is_one_time_use", m.IsOneTimeUse).
		Set("updated_at", m.UpdatedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: update coupon: %w", err)
	}
	if res.MatchedCount() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementRedemptions(ctx context.Context, couponID id.CouponID) error {
	res, err := s.mdb.Collection(colCoupons).UpdateOne(ctx,
		bson.M{
			"_id": couponID.String(),
			"$or": bson.A{
				bson.M{"max_total_redemptions": 0},
				bson.M{"$expr": bson.M{"$lt": bson.A{"$total_redemptions", "$max_total_redemptions"}}},
			},
		},
		bson.M{"$inc": bson.M{"total_redemptions": 1}},
	)
	if err != nil {
		return fmt.Errorf("tally/mongo: increment redemptions: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetCoupon(ctx, couponID); err != nil {
			return err
		}
		return coupon.ErrExhausted
	}
	return nil
}

func (s *Store) DecrementRedemptions(ctx context.Context, couponID id.CouponID) error {
	_, err := s.mdb.Collection(colCoupons).UpdateOne(ctx,
		bson.M{"_id": couponID.String(), "total_redemptions": bson.M{"$gt": 0}},
		bson.M{"$inc": bson.M{"total_redemptions": -1}},
	)
	if err != nil {
		return fmt.Errorf("tally/mongo: decrement redemptions: %w", err)
	}
	return nil
}

func (s *Store) RecordRedemption(ctx context.Context, r *coupon.Redemption) error {
	_, err := s.mdb.Collection(colRedemptions).UpdateOne(ctx,
		bson.M{"_id": compositeKey(r.CouponID.String(), r.Subscriber)},
		bson.M{
			"$inc": bson.M{"count": 1},
			"$set": bson.M{
				"coupon_id":  r.CouponID.String(),
				"subscriber": r.Subscriber,
				"org_id":     r.OrgID,
				"last_at":    r.LastAt,
			},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("tally/mongo: record redemption: %w", err)
	}
	return nil
}

func (s *Store) RevertRedemption(ctx context.Context, couponID id.CouponID, subscriber string) error {
	key := compositeKey(couponID.String(), subscriber)
	res, err := s.mdb.Collection(colRedemptions).UpdateOne(ctx,
		bson.M{"_id": key, "count": bson.M{"$gt": 1}},
		bson.M{"$inc": bson.M{"count": -1}},
	)
	if err != nil {
		return fmt.Errorf("tally/mongo: revert redemption: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	_, err = s.mdb.NewDelete((*redemptionModel)(nil)).
		Filter(bson.M{"_id": key}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: revert redemption: %w", err)
	}
	return nil
}

func (s *Store) GetRedemption(ctx context.Context, couponID id.CouponID, subscriber string) (*coupon.Redemption, error) {
	var m redemptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": compositeKey(couponID.String(), subscriber)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get redemption: %w", err)
	}
	return fromRedemptionModel(&m)
}

func (s *Store) ListRedemptions(ctx context.Context, orgID, subscriber string) ([]*coupon.Redemption, error) {
	var models []redemptionModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"org_id": orgID, "subscriber": subscriber}).
		Sort(bson.D{{Key: "coupon_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: list redemptions: %w", err)
	}

	result := make([]*coupon.Redemption, len(models))
	for i := range models {
		r, err := fromRedemptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = r
	}
	return result, nil
}

func (s *Store) SetStandingCoupon(ctx context.Context, orgID, subscriber string, couponID id.CouponID, at time.Time) error {
	key := compositeKey(orgID, subscriber)
	if couponID.IsNil() {
		_, err := s.mdb.NewDelete((*standingCouponModel)(nil)).
			Filter(bson.M{"_id": key}).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("tally/mongo: clear standing coupon: %w", err)
		}
		return nil
	}

	m := &standingCouponModel{Key: key, OrgID: orgID, Subscriber: subscriber, CouponID: couponID.String(), UpdatedAt: at}
	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": key}).
		SetUpdate(bson.M{"$set": bson.M{
			"org_id":     m.OrgID,
			"subscriber": m.Subscriber,
			"coupon_id":  m.CouponID,
			"updated_at": m.UpdatedAt,
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: set standing coupon: %w", err)
	}
	return nil
}

func (s *Store) GetStandingCoupon(ctx context.Context, orgID, subscriber string) (id.CouponID, error) {
	var m standingCouponModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": compositeKey(orgID, subscriber)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return id.Nil, nil
		}
		return id.Nil, fmt.Errorf("tally/mongo: get standing coupon: %w", err)
	}
	return id.ParseCouponID(m.CouponID)
}

// ==================== Discount Store ====================

func (s *Store) CreateDiscount(ctx context.Context, d *discount.Discount) error {
	_, err := s.mdb.NewInsert(toDiscountModel(d)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return discount.ErrNameTaken
		}
		return fmt.Errorf("tally/mongo: create discount: %w", err)
	}
	return nil
}

func (s *Store) GetDiscount(ctx context.Context, discountID id.DiscountID) (*discount.Discount, error) {
	var m discountModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": discountID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get discount: %w", err)
	}
	return fromDiscountModel(&m)
}

func (s *Store) GetDiscountByName(ctx context.Context, orgID, name string) (*discount.Discount, error) {
	var m discountModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"org_id": orgID, "name": name}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get discount by name: %w", err)
	}
	return fromDiscountModel(&m)
}

func (s *Store) ListDiscounts(ctx context.Context, orgID string) ([]*discount.Discount, error) {
	var models []discountModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"org_id": orgID}).
		Sort(bson.D{{Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: list discounts: %w", err)
	}

	result := make([]*discount.Discount, len(models))
	for i := range models {
		d, err := fromDiscountModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}

func (s *Store) UpdateDiscount(ctx context.Context, d *discount.Discount) error {
	m := toDiscountModel(d)
	res, err := s.mdb.NewUpdate((*discountModel)(nil)).
		Filter(bson.M{"_id": m.ID}).
		Set("discount_bps", m.DiscountBps).
		Set("max_mints", m.MaxMints).
		Set("is_active", m.IsActive).
		Set("is_restricted", m.IsRestricted).
		Set("updated_at", m.UpdatedAt).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: update discount: %w", err)
	}
	if res.MatchedCount() == 0 {
		return discount.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementMints(ctx context.Context, discountID id.DiscountID) error {
	res, err := s.mdb.Collection(colDiscounts).UpdateOne(ctx,
		bson.M{
			"_id": discountID.String(),
			"$or": bson.A{
				bson.M{"max_mints": 0},
				bson.M{"$expr": bson.M{"$lt": bson.A{"$total_mints", "$max_mints"}}},
			},
		},
		bson.M{"$inc": bson.M{"total_mints": 1}},
	)
	if err != nil {
		return fmt.Errorf("tally/mongo: increment mints: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetDiscount(ctx, discountID); err != nil {
			return err
		}
		return discount.ErrExhausted
	}
	return nil
}

func (s *Store) DecrementMints(ctx context.Context, discountID id.DiscountID) error {
	_, err := s.mdb.Collection(colDiscounts).UpdateOne(ctx,
		bson.M{"_id": discountID.String(), "total_mints": bson.M{"$gt": 0}},
		bson.M{"$inc": bson.M{"total_mints": -1}},
	)
	if err != nil {
		return fmt.Errorf("tally/mongo: decrement mints: %w", err)
	}
	return nil
}

// ==================== Access Store ====================

func (s *Store) GrantAccess(ctx context.Context, resourceID id.ID, subscribers []string, at time.Time) error {
	for _, sub := range subscribers {
		m := &accessModel{
			Key:        compositeKey(resourceID.String(), sub),
			ResourceID: resourceID.String(),
			Subscriber: sub,
			GrantedAt:  at,
		}
		_, err := s.mdb.NewInsert(m).Exec(ctx)
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			return fmt.Errorf("tally/mongo: grant access: %w", err)
		}
	}
	return nil
}

func (s *Store) RevokeAccess(ctx context.Context, resourceID id.ID, subscribers []string) error {
	if len(subscribers) == 0 {
		return nil
	}
	_, err := s.mdb.NewDelete((*accessModel)(nil)).
		Filter(bson.M{"resource_id": resourceID.String(), "subscriber": bson.M{"$in": subscribers}}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: revoke access: %w", err)
	}
	return nil
}

func (s *Store) HasAccess(ctx context.Context, resourceID id.ID, subscriber string) (bool, error) {
	var m accessModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": compositeKey(resourceID.String(), subscriber)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return false, nil
		}
		return false, fmt.Errorf("tally/mongo: has access: %w", err)
	}
	return true, nil
}

func (s *Store) ListAccess(ctx context.Context, resourceID id.ID) ([]string, error) {
	var models []accessModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"resource_id": resourceID.String()}).
		Sort(bson.D{{Key: "subscriber", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: list access: %w", err)
	}
	result := make([]string, len(models))
	for i := range models {
		result[i] = models[i].Subscriber
	}
	return result, nil
}

// ==================== Meter Store ====================

func (s *Store) CreateMeter(ctx context.Context, m *meter.Meter) error {
	_, err := s.mdb.NewInsert(toMeterModel(m)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: create meter: %w", err)
	}
	return nil
}

func (s *Store) GetMeter(ctx context.Context, meterID id.MeterID) (*meter.Meter, error) {
	var m meterModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": meterID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, meter.ErrNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get meter: %w", err)
	}
	return fromMeterModel(&m)
}

func (s *Store) ListMeters(ctx context.Context, orgID string) ([]*meter.Meter, error) {
	var models []meterModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"org_id": orgID}).
		Sort(bson.D{{Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: list meters: %w", err)
	}

	result := make([]*meter.Meter, len(models))
	for i := range models {
		m, err := fromMeterModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = m
	}
	return result, nil
}

func (s *Store) UpdateMeter(ctx context.Context, m *meter.Meter) error {
	mm := toMeterModel(m)
	res, err := s.mdb.NewUpdate(mm).
		Filter(bson.M{"_id": mm.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: update meter: %w", err)
	}
	if res.MatchedCount() == 0 {
		return meter.ErrNotFound
	}
	return nil
}

func (s *Store) GetUsage(ctx context.Context, meterID id.MeterID, subscriber string) (int64, error) {
	var m usageModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": compositeKey(meterID.String(), subscriber)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("tally/mongo: get usage: %w", err)
	}
	return m.Value, nil
}

func (s *Store) AddUsage(ctx context.Context, meterID id.MeterID, subscriber string, delta int64, at time.Time) (int64, error) {
	var m usageModel
	err := s.mdb.Collection(colUsage).FindOneAndUpdate(ctx,
		bson.M{"_id": compositeKey(meterID.String(), subscriber)},
		bson.M{
			"$inc": bson.M{"value": delta},
			"$set": bson.M{
				"meter_id":   meterID.String(),
				"subscriber": subscriber,
				"updated_at": at,
			},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		return 0, fmt.Errorf("tally/mongo: add usage: %w", err)
	}
	return m.Value, nil
}

func (s *Store) SetUsage(ctx context.Context, meterID id.MeterID, subscriber string, value int64, at time.Time) error {
	m := &usageModel{
		Key:        compositeKey(meterID.String(), subscriber),
		MeterID:    meterID.String(),
		Subscriber: subscriber,
		Value:      value,
		UpdatedAt:  at,
	}
	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.Key}).
		SetUpdate(bson.M{"$set": bson.M{
			"meter_id":   m.MeterID,
			"subscriber": m.Subscriber,
			"value":      m.Value,
			"updated_at": m.UpdatedAt,
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: set usage: %w", err)
	}
	return nil
}

// ==================== Escrow Store ====================

func (s *Store) CreditBalance(ctx context.Context, orgID, asset string, net, fee int64, at time.Time) error {
	_, err := s.mdb.Collection(colOrgBalances).UpdateOne(ctx,
		bson.M{"_id": compositeKey(orgID, asset)},
		bson.M{
			"$inc": bson.M{"amount": net},
			"$set": bson.M{"org_id": orgID, "asset": asset, "updated_at": at},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("tally/mongo: credit org balance: %w", err)
	}
	if fee == 0 {
		return nil
	}
	return s.CreditFeeBalance(ctx, asset, fee, at)
}

func (s *Store) CreditFeeBalance(ctx context.Context, asset string, amount int64, at time.Time) error {
	_, err := s.mdb.Collection(colFeeBalances).UpdateOne(ctx,
		bson.M{"_id": asset},
		bson.M{
			"$inc": bson.M{"amount": amount},
			"$set": bson.M{"updated_at": at},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("tally/mongo: credit fee balance: %w", err)
	}
	return nil
}

func (s *Store) DebitOrgBalance(ctx context.Context, orgID, asset string, amount int64, at time.Time) error {
	res, err := s.mdb.Collection(colOrgBalances).UpdateOne(ctx,
		bson.M{"_id": compositeKey(orgID, asset), "amount": bson.M{"$gte": amount}},
		bson.M{
			"$inc": bson.M{"amount": -amount},
			"$set": bson.M{"updated_at": at},
		},
	)
	if err != nil {
		return fmt.Errorf("tally/mongo: debit org balance: %w", err)
	}
	if res.MatchedCount == 0 {
		return escrow.ErrInsufficientBalance
	}
	return nil
}

func (s *Store) GetOrgBalance(ctx context.Context, orgID, asset string) (int64, error) {
	var m orgBalanceModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": compositeKey(orgID, asset)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("tally/mongo: get org balance: %w", err)
	}
	return m.Amount, nil
}

func (s *Store) ListOrgBalances(ctx context.Context, orgID string) ([]*escrow.Balance, error) {
	var models []orgBalanceModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"org_id": orgID}).
		Sort(bson.D{{Key: "asset", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: list org balances: %w", err)
	}
	result := make([]*escrow.Balance, len(models))
	for i := range models {
		result[i] = fromOrgBalanceModel(&models[i])
	}
	return result, nil
}

func (s *Store) GetFeeBalance(ctx context.Context, asset string) (int64, error) {
	var m feeBalanceModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": asset}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("tally/mongo: get fee balance: %w", err)
	}
	return m.Amount, nil
}

func (s *Store) DebitFeeBalance(ctx context.Context, asset string, amount int64, at time.Time) error {
	res, err := s.mdb.Collection(colFeeBalances).UpdateOne(ctx,
		bson.M{"_id": asset, "amount": bson.M{"$gte": amount}},
		bson.M{
			"$inc": bson.M{"amount": -amount},
			"$set": bson.M{"updated_at": at},
		},
	)
	if err != nil {
		return fmt.Errorf("tally/mongo: debit fee balance: %w", err)
	}
	if res.MatchedCount == 0 {
		return escrow.ErrInsufficientBalance
	}
	return nil
}

// ==================== Subscription Store ====================

// CreateSubscriptions inserts each document and removes the ones already
// written if a later insert fails.
func (s *Store) CreateSubscriptions(ctx context.Context, subs []*subscription.Subscription) error {
	inserted := make([]string, 0, len(subs))
	for _, sub := range subs {
		m := toSubscriptionModel(sub)
		if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
			if len(inserted) > 0 {
				//nolint:errcheck // best-effort rollback
				_, _ = s.mdb.NewDelete((*subscriptionModel)(nil)).
					Filter(bson.M{"_id": bson.M{"$in": inserted}}).
					Exec(ctx)
			}
			if mongo.IsDuplicateKeyError(err) {
				return tallystore.ErrAlreadyExists
			}
			return fmt.Errorf("tally/mongo: create subscriptions: %w", err)
		}
		inserted = append(inserted, m.ID)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, subscription.ErrNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	filter := bson.M{}
	if opts.OrgID != "" {
		filter["org_id"] = opts.OrgID
	}
	if opts.Subscriber != "" {
		filter["subscriber"] = opts.Subscriber
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list subscriptions: %w", err)
	}
	return fromSubscriptionModels(models)
}

func (s *Store) ListSubscriptionRange(ctx context.Context, orgID string, from, to id.SubscriptionID) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	filter := bson.M{"org_id": orgID}
	bounds := bson.M{}
	if !from.IsNil() {
		bounds["$gte"] = from.String()
	}
	if !to.IsNil() {
		bounds["$lte"] = to.String()
	}
	if len(bounds) > 0 {
		filter["_id"] = bounds
	}

	err := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tally/mongo: list subscription range: %w", err)
	}
	return fromSubscriptionModels(models)
}

func (s *Store) ListDueSubscriptions(ctx context.Context, before time.Time, limit int) ([]*subscription.Subscription, error) {
	active, err := s.listDue(ctx, subscription.StatusActive, before, "end_date", limit)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(active) >= limit {
		return fromSubscriptionModels(active)
	}
	if limit > 0 {
		limit -= len(active)
	}
	// Past-due subscriptions are retried least recently attempted first.
	pastDue, err := s.listDue(ctx, subscription.StatusPastDue, before, "updated_at", limit)
	if err != nil {
		return nil, err
	}
	return fromSubscriptionModels(append(active, pastDue...))
}

func (s *Store) listDue(ctx context.Context, status subscription.Status, before time.Time, sortKey string, limit int) ([]subscriptionModel, error) {
	var models []subscriptionModel

	q := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status":   string(status),
			"end_date": bson.M{"$lte": before},
		}).
		Sort(bson.D{{Key: sortKey, Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list due subscriptions: %w", err)
	}
	return models, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: update subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
		return subscription.ErrNotFound
	}
	return nil
}

func (s *Store) HasSubscription(ctx context.Context, orgID, subscriber string) (bool, error) {
	var models []subscriptionModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"org_id": orgID, "subscriber": subscriber}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return false, fmt.Errorf("tally/mongo: has subscription: %w", err)
	}
	return len(models) > 0, nil
}

func fromSubscriptionModels(models []subscriptionModel) ([]*subscription.Subscription, error) {
	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

// ==================== Org Store ====================

func (s *Store) GetSettings(ctx context.Context, orgID string) (*org.Settings, error) {
	var m settingsModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": orgID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return &org.Settings{OrgID: orgID}, nil
		}
		return nil, fmt.Errorf("tally/mongo: get settings: %w", err)
	}
	return fromSettingsModel(&m), nil
}

func (s *Store) SaveSettings(ctx context.Context, st *org.Settings) error {
	m := &settingsModel{
		OrgID:                       st.OrgID,
		Pausable:                    st.Pausable,
		SubscriberChangeablePricing: st.SubscriberChangeablePricing,
		UpdatedAt:                   st.UpdatedAt,
	}
	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.OrgID}).
		SetUpdate(bson.M{"$set": bson.M{
			"pausable":                      m.Pausable,
			"subscriber_changeable_pricing": m.SubscriberChangeablePricing,
			"updated_at":                    m.UpdatedAt,
		}}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: save settings: %w", err)
	}
	return nil
}

// ==================== Invoice Store ====================

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	_, err := s.mdb.NewInsert(toInvoiceModel(inv)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("tally/mongo: create invoice: %w", err)
	}
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	var m invoiceModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": invID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, invoice.ErrNotFound
		}
		return nil, fmt.Errorf("tally/mongo: get invoice: %w", err)
	}
	return fromInvoiceModel(&m)
}

func (s *Store) ListInvoices(ctx context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var models []invoiceModel

	filter := bson.M{}
	if opts.OrgID != "" {
		filter["org_id"] = opts.OrgID
	}
	if opts.Subscriber != "" {
		filter["subscriber"] = opts.Subscriber
	}
	if !opts.SubscriptionID.IsNil() {
		filter["subscription_id"] = opts.SubscriptionID.String()
	}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tally/mongo: list invoices: %w", err)
	}

	result := make([]*invoice.Invoice, len(models))
	for i := range models {
		inv, err := fromInvoiceModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = inv
	}
	return result, nil
}

// ==================== Helpers ====================

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all tally collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colPricing: {
			{Keys: bson.D{{Key: "org_id", Value: 1}, {Key: "is_active", Value: 1}}},
		},
		colCoupons: {
			{
				Keys:    bson.D{{Key: "org_id", Value: 1}, {Key: "code", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colRedemptions: {
			{Keys: bson.D{{Key: "org_id", Value: 1}, {Key: "subscriber", Value: 1}}},
		},
		colDiscounts: {
			{
				Keys:    bson.D{{Key: "org_id", Value: 1}, {Key: "name", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colAccess: {
			{Keys: bson.D{{Key: "resource_id", Value: 1}, {Key: "subscriber", Value: 1}}},
		},
		colMeters: {
			{Keys: bson.D{{Key: "org_id", Value: 1}}},
		},
		colOrgBalances: {
			{Keys: bson.D{{Key: "org_id", Value: 1}, {Key: "asset", Value: 1}}},
		},
		colSubscriptions: {
			{Keys: bson.D{{Key: "org_id", Value: 1}, {Key: "subscriber", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "end_date", Value: 1}}},
		},
		colInvoices: {
			{Keys: bson.D{{Key: "org_id", Value: 1}, {Key: "subscriber", Value: 1}}},
			{Keys: bson.D{{Key: "subscription_id", Value: 1}}},
		},
	}
}
