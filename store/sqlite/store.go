package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

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

// compile-time interface check
var _ tallystore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("tally/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("tally/sqlite: migration failed: %w", err)
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
	_, err := s.sdb.NewInsert(toPricingModel(p)).Exec(ctx)
	return err
}

func (s *Store) GetPricing(ctx context.Context, pricingID id.PricingID) (*pricing.Pricing, error) {
	m := new(pricingModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", pricingID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, pricing.ErrNotFound
		}
		return nil, err
	}
	return fromPricingModel(m)
}

func (s *Store) GetPricingBatch(ctx context.Context, ids []id.PricingID) ([]*pricing.Pricing, error) {
	if len(ids) == 0 {
		return []*pricing.Pricing{}, nil
	}
	args := make([]any, len(ids))
	for i, pid := range ids {
		args[i] = pid.String()
	}

	var models []pricingModel
	err := s.sdb.NewSelect(&models).
		Where("id IN ("+placeholders(len(ids))+")", args...).
		Scan(ctx)
	if err != nil {
		return nil, err
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
		// Repeated ids get their own copy.
		cp := *p
		result[i] = &cp
	}
	return result, nil
}

func (s *Store) ListPricing(ctx context.Context, orgID string, opts pricing.ListOpts) ([]*pricing.Pricing, error) {
	var models []pricingModel
	q := s.sdb.NewSelect(&models).Where("org_id = ?", orgID)

	if opts.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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
	res, err := s.sdb.NewUpdate(toPricingModel(p)).WherePK().Exec(ctx)
	return affected(res, err, pricing.ErrNotFound)
}

// ==================== Coupon Store ====================

func (s *Store) CreateCoupon(ctx context.Context, c *coupon.Coupon) error {
	if _, err := s.GetCouponByCode(ctx, c.OrgID, c.Code); err == nil {
		return coupon.ErrCodeTaken
	} else if !errors.Is(err, coupon.ErrNotFound) {
		return err
	}
	_, err := s.sdb.NewInsert(toCouponModel(c)).Exec(ctx)
	return err
}

func (s *Store) GetCoupon(ctx context.Context, couponID id.CouponID) (*coupon.Coupon, error) {
	m := new(couponModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", couponID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, coupon.ErrNotFound
		}
		return nil, err
	}
	return fromCouponModel(m)
}

func (s *Store) GetCouponByCode(ctx context.Context, orgID, code string) (*coupon.Coupon, error) {
	m := new(couponModel)
	err := s.sdb.NewSelect(m).
		Where("org_id = ?", orgID).
		Where("code = ?", code).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, coupon.ErrNotFound
		}
		return nil, err
	}
	return fromCouponModel(m)
}

func (s *Store) ListCoupons(ctx context.Context, orgID string, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	var models []couponModel
	q := s.sdb.NewSelect(&models).Where("org_id = ?", orgID)

	if opts.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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

// UpdateCoupon writes every column except total_redemptions, which only
// moves through IncrementRedemptions and DecrementRedemptions.
func (s *Store) UpdateCoupon(ctx context.Context, c *coupon.Coupon) error {
	m := toCouponModel(c)
	res, err := s.sdb.NewUpdate((*couponModel)(nil)).
		Set("discount_bps = ?", m.DiscountBps).
		Set("expiration = ?", m.Expiration).
		Set("max_total_redemptions = ?", m.MaxTotalRedemptions).
		Set("is_initial_purchase_only = ?", m.IsInitialPurchaseOnly).
		Set("is_active = ?", m.IsActive).
		Set("is_restricted = ?", m.IsRestricted).
		Set("is_one_time_use = ?", m.IsOneTimeUse).
		Set("updated_at = ?", m.UpdatedAt).
		Where("id = ?", m.ID).
		Exec(ctx)
	return affected(res, err, coupon.ErrNotFound)
}

func (s *Store) IncrementRedemptions(ctx context.Context, couponID id.CouponID) error {
	res, err := s.sdb.NewUpdate((*couponModel)(nil)).
		Set("total_redemptions = total_redemptions + 1").
		Where("id = ?", couponID.String()).
		Where("(max_total_redemptions = 0 OR total_redemptions < max_total_redemptions)").
		Exec(ctx)
	if err := affected(res, err, coupon.ErrExhausted); err != nil {
		if errors.Is(err, coupon.ErrExhausted) {
			if _, getErr := s.GetCoupon(ctx, couponID); getErr != nil {
				return getErr
			}
		}
		return err
	}
	return nil
}

func (s *Store) DecrementRedemptions(ctx context.Context, couponID id.CouponID) error {
	_, err := s.sdb.NewUpdate((*couponModel)(nil)).
		Set("total_redemptions = total_redemptions - 1").
		Where("id = ?", couponID.String()).
		Where("total_redemptions > 0").
		Exec(ctx)
	return err
}

func (s *Store) RecordRedemption(ctx context.Context, r *coupon.Redemption) error {
	m := &redemptionModel{
		CouponID:   r.CouponID.String(),
		Subscriber: r.Subscriber,
		OrgID:      r.OrgID,
		Count:      1,
		LastAt:     r.LastAt,
	}
	_, err := s.sdb.NewInsert(m).
		OnConflict("(coupon_id, subscriber) DO UPDATE").
		Set("count = tally_coupon_redemptions.count + 1").
		Set("last_at = EXCLUDED.last_at").
		Exec(ctx)
	return err
}

func (s *Store) RevertRedemption(ctx context.Context, couponID id.CouponID, subscriber string) error {
	res, err := s.sdb.NewUpdate((*redemptionModel)(nil)).
		Set("count = count - 1").
		Where("coupon_id = ?", couponID.String()).
		Where("subscriber = ?", subscriber).
		Where("count > 1").
		Exec(ctx)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err != nil || rows > 0 {
		return err
	}
	_, err = s.sdb.NewDelete((*redemptionModel)(nil)).
		Where("coupon_id = ?", couponID.String()).
		Where("subscriber = ?", subscriber).
		Exec(ctx)
	return err
}

func (s *Store) GetRedemption(ctx context.Context, couponID id.CouponID, subscriber string) (*coupon.Redemption, error) {
	m := new(redemptionModel)
	err := s.sdb.NewSelect(m).
		Where("coupon_id = ?", couponID.String()).
		Where("subscriber = ?", subscriber).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, coupon.ErrNotFound
		}
		return nil, err
	}
	return fromRedemptionModel(m)
}

func (s *Store) ListRedemptions(ctx context.Context, orgID, subscriber string) ([]*coupon.Redemption, error) {
	var models []redemptionModel
	err := s.sdb.NewSelect(&models).
		Where("org_id = ?", orgID).
		Where("subscriber = ?", subscriber).
		OrderExpr("coupon_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
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
	if couponID.IsNil() {
		_, err := s.sdb.NewDelete((*standingCouponModel)(nil)).
			Where("org_id = ?", orgID).
			Where("subscriber = ?", subscriber).
			Exec(ctx)
		return err
	}
	m := &standingCouponModel{
		OrgID:      orgID,
		Subscriber: subscriber,
		CouponID:   couponID.String(),
		UpdatedAt:  at,
	}
	_, err := s.sdb.NewInsert(m).
		OnConflict("(org_id, subscriber) DO UPDATE").
		Set("coupon_id = EXCLUDED.coupon_id").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) GetStandingCoupon(ctx context.Context, orgID, subscriber string) (id.CouponID, error) {
	m := new(standingCouponModel)
	err := s.sdb.NewSelect(m).
		Where("org_id = ?", orgID).
		Where("subscriber = ?", subscriber).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return id.Nil, nil
		}
		return id.Nil, err
	}
	return id.ParseCouponID(m.CouponID)
}

// ==================== Discount Store ====================

func (s *Store) CreateDiscount(ctx context.Context, d *discount.Discount) error {
	if _, err := s.GetDiscountByName(ctx, d.OrgID, d.Name); err == nil {
		return discount.ErrNameTaken
	} else if !errors.Is(err, discount.ErrNotFound) {
		return err
	}
	_, err := s.sdb.NewInsert(toDiscountModel(d)).Exec(ctx)
	return err
}

func (s *Store) GetDiscount(ctx context.Context, discountID id.DiscountID) (*discount.Discount, error) {
	m := new(discountModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", discountID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, discount.ErrNotFound
		}
		return nil, err
	}
	return fromDiscountModel(m)
}

func (s *Store) GetDiscountByName(ctx context.Context, orgID, name string) (*discount.Discount, error) {
	m := new(discountModel)
	err := s.sdb.NewSelect(m).
		Where("org_id = ?", orgID).
		Where("name = ?", name).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, discount.ErrNotFound
		}
		return nil, err
	}
	return fromDiscountModel(m)
}

func (s *Store) ListDiscounts(ctx context.Context, orgID string) ([]*discount.Discount, error) {
	var models []discountModel
	err := s.sdb.NewSelect(&models).
		Where("org_id = ?", orgID).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
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

// UpdateDiscount leaves total_mints to IncrementMints and DecrementMints.
func (s *Store) UpdateDiscount(ctx context.Context, d *discount.Discount) error {
	m := toDiscountModel(d)
	res, err := s.sdb.NewUpdate((*discountModel)(nil)).
		Set("discount_bps = ?", m.DiscountBps).
		Set("max_mints = ?", m.MaxMints).
		Set("is_active = ?", m.IsActive).
		Set("is_restricted = ?", m.IsRestricted).
		Set("updated_at = ?", m.UpdatedAt).
		Where("id = ?", m.ID).
		Exec(ctx)
	return affected(res, err, discount.ErrNotFound)
}

func (s *Store) IncrementMints(ctx context.Context, discountID id.DiscountID) error {
	res, err := s.sdb.NewUpdate((*discountModel)(nil)).
		Set("total_mints = total_mints + 1").
		Where("id = ?", discountID.String()).
		Where("(max_mints = 0 OR total_mints < max_mints)").
		Exec(ctx)
	if err := affected(res, err, discount.ErrExhausted); err != nil {
		if errors.Is(err, discount.ErrExhausted) {
			if _, getErr := s.GetDiscount(ctx, discountID); getErr != nil {
				return getErr
			}
		}
		return err
	}
	return nil
}

func (s *Store) DecrementMints(ctx context.Context, discountID id.DiscountID) error {
	_, err := s.sdb.NewUpdate((*discountModel)(nil)).
		Set("total_mints = total_mints - 1").
		Where("id = ?", discountID.String()).
		Where("total_mints > 0").
		Exec(ctx)
	return err
}

// ==================== Access Store ====================

func (s *Store) GrantAccess(ctx context.Context, resourceID id.ID, subscribers []string, at time.Time) error {
	if len(subscribers) == 0 {
		return nil
	}
	models := make([]accessModel, len(subscribers))
	for i, sub := range subscribers {
		models[i] = accessModel{ResourceID: resourceID.String(), Subscriber: sub, GrantedAt: at}
	}
	_, err := s.sdb.NewInsert(&models).
		OnConflict("(resource_id, subscriber) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *Store) RevokeAccess(ctx context.Context, resourceID id.ID, subscribers []string) error {
	if len(subscribers) == 0 {
		return nil
	}
	args := make([]any, len(subscribers))
	for i, sub := range subscribers {
		args[i] = sub
	}
	_, err := s.sdb.NewDelete((*accessModel)(nil)).
		Where("resource_id = ?", resourceID.String()).
		Where("subscriber IN ("+placeholders(len(subscribers))+")", args...).
		Exec(ctx)
	return err
}

func (s *Store) HasAccess(ctx context.Context, resourceID id.ID, subscriber string) (bool, error) {
	m := new(accessModel)
	err := s.sdb.NewSelect(m).
		Where("resource_id = ?", resourceID.String()).
		Where("subscriber = ?", subscriber).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) ListAccess(ctx context.Context, resourceID id.ID) ([]string, error) {
	var models []accessModel
	err := s.sdb.NewSelect(&models).
		Where("resource_id = ?", resourceID.String()).
		OrderExpr("subscriber ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]string, len(models))
	for i := range models {
		result[i] = models[i].Subscriber
	}
	return result, nil
}

// ==================== Meter Store ====================

func (s *Store) CreateMeter(ctx context.Context, m *meter.Meter) error {
	_, err := s.sdb.NewInsert(toMeterModel(m)).Exec(ctx)
	return err
}

func (s *Store) GetMeter(ctx context.Context, meterID id.MeterID) (*meter.Meter, error) {
	m := new(meterModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", meterID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, meter.ErrNotFound
		}
		return nil, err
	}
	return fromMeterModel(m)
}

func (s *Store) ListMeters(ctx context.Context, orgID string) ([]*meter.Meter, error) {
	var models []meterModel
	err := s.sdb.NewSelect(&models).
		Where("org_id = ?", orgID).
		OrderExpr("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
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
	res, err := s.sdb.NewUpdate(toMeterModel(m)).WherePK().Exec(ctx)
	return affected(res, err, meter.ErrNotFound)
}

func (s *Store) GetUsage(ctx context.Context, meterID id.MeterID, subscriber string) (int64, error) {
	m := new(usageModel)
	err := s.sdb.NewSelect(m).
		Where("meter_id = ?", meterID.String()).
		Where("subscriber = ?", subscriber).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, err
	}
	return m.Value, nil
}

func (s *Store) AddUsage(ctx context.Context, meterID id.MeterID, subscriber string, delta int64, at time.Time) (int64, error) {
	var value int64
	err := s.sdb.NewRaw(`
		INSERT INTO tally_meter_usage (meter_id, subscriber, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (meter_id, subscriber) DO UPDATE
		SET value = tally_meter_usage.value + EXCLUDED.value, updated_at = EXCLUDED.updated_at
		RETURNING value
	`, meterID.String(), subscriber, delta, at).Scan(ctx, &value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func (s *Store) SetUsage(ctx context.Context, meterID id.MeterID, subscriber string, value int64, at time.Time) error {
	m := &usageModel{
		MeterID:    meterID.String(),
		Subscriber: subscriber,
		Value:      value,
		UpdatedAt:  at,
	}
	_, err := s.sdb.NewInsert(m).
		OnConflict("(meter_id, subscriber) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// ==================== Escrow Store ====================

// CreditBalance upserts the org balance, then the fee balance. SQLite
// serializes writers, so the pair never interleaves with another credit.
func (s *Store) CreditBalance(ctx context.Context, orgID, asset string, net, fee int64, at time.Time) error {
	ob := &orgBalanceModel{OrgID: orgID, Asset: asset, Amount: net, UpdatedAt: at}
	_, err := s.sdb.NewInsert(ob).
		OnConflict("(org_id, asset) DO UPDATE").
		Set("amount = tally_org_balances.amount + EXCLUDED.amount").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil || fee == 0 {
		return err
	}
	return s.CreditFeeBalance(ctx, asset, fee, at)
}

func (s *Store) CreditFeeBalance(ctx context.Context, asset string, amount int64, at time.Time) error {
	fb := &feeBalanceModel{Asset: asset, Amount: amount, UpdatedAt: at}
	_, err := s.sdb.NewInsert(fb).
		OnConflict("(asset) DO UPDATE").
		Set("amount = tally_fee_balances.amount + EXCLUDED.amount").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) DebitOrgBalance(ctx context.Context, orgID, asset string, amount int64, at time.Time) error {
	res, err := s.sdb.NewUpdate((*orgBalanceModel)(nil)).
		Set("amount = amount - ?", amount).
		Set("updated_at = ?", at).
		Where("org_id = ?", orgID).
		Where("asset = ?", asset).
		Where("amount >= ?", amount).
		Exec(ctx)
	return affected(res, err, escrow.ErrInsufficientBalance)
}

func (s *Store) GetOrgBalance(ctx context.Context, orgID, asset string) (int64, error) {
	m := new(orgBalanceModel)
	err := s.sdb.NewSelect(m).
		Where("org_id = ?", orgID).
		Where("asset = ?", asset).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, err
	}
	return m.Amount, nil
}

func (s *Store) ListOrgBalances(ctx context.Context, orgID string) ([]*escrow.Balance, error) {
	var models []orgBalanceModel
	err := s.sdb.NewSelect(&models).
		Where("org_id = ?", orgID).
		OrderExpr("asset ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]*escrow.Balance, len(models))
	for i := range models {
		result[i] = fromOrgBalanceModel(&models[i])
	}
	return result, nil
}

func (s *Store) GetFeeBalance(ctx context.Context, asset string) (int64, error) {
	m := new(feeBalanceModel)
	err := s.sdb.NewSelect(m).
		Where("asset = ?", asset).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return 0, nil
		}
		return 0, err
	}
	return m.Amount, nil
}

func (s *Store) DebitFeeBalance(ctx context.Context, asset string, amount int64, at time.Time) error {
	res, err := s.sdb.NewUpdate((*feeBalanceModel)(nil)).
		Set("amount = amount - ?", amount).
		Set("updated_at = ?", at).
		Where("asset = ?", asset).
		Where("amount >= ?", amount).
		Exec(ctx)
	return affected(res, err, escrow.ErrInsufficientBalance)
}

// ==================== Subscription Store ====================

// CreateSubscriptions inserts every row in a single multi-row statement.
func (s *Store) CreateSubscriptions(ctx context.Context, subs []*subscription.Subscription) error {
	if len(subs) == 0 {
		return nil
	}
	models := make([]subscriptionModel, len(subs))
	for i, sub := range subs {
		models[i] = *toSubscriptionModel(sub)
	}
	_, err := s.sdb.NewInsert(&models).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, subscription.ErrNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models)

	if opts.OrgID != "" {
		q = q.Where("org_id = ?", opts.OrgID)
	}
	if opts.Subscriber != "" {
		q = q.Where("subscriber = ?", opts.Subscriber)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func (s *Store) ListSubscriptionRange(ctx context.Context, orgID string, from, to id.SubscriptionID) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models).Where("org_id = ?", orgID)

	if !from.IsNil() {
		q = q.Where("id >= ?", from.String())
	}
	if !to.IsNil() {
		q = q.Where("id <= ?", to.String())
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func (s *Store) ListDueSubscriptions(ctx context.Context, before time.Time, limit int) ([]*subscription.Subscription, error) {
	active, err := s.listDue(ctx, subscription.StatusActive, before, "end_date ASC, id ASC", limit)
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
	pastDue, err := s.listDue(ctx, subscription.StatusPastDue, before, "updated_at ASC, id ASC", limit)
	if err != nil {
		return nil, err
	}
	return fromSubscriptionModels(append(active, pastDue...))
}

func (s *Store) listDue(ctx context.Context, status subscription.Status, before time.Time, order string, limit int) ([]subscriptionModel, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models).
		Where("status = ?", string(status)).
		Where("end_date <= ?", before).
		OrderExpr(order)
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return models, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	res, err := s.sdb.NewUpdate(toSubscriptionModel(sub)).WherePK().Exec(ctx)
	return affected(res, err, subscription.ErrNotFound)
}

func (s *Store) HasSubscription(ctx context.Context, orgID, subscriber string) (bool, error) {
	var models []subscriptionModel
	err := s.sdb.NewSelect(&models).
		Where("org_id = ?", orgID).
		Where("subscriber = ?", subscriber).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return false, err
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
	m := new(settingsModel)
	err := s.sdb.NewSelect(m).
		Where("org_id = ?", orgID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return &org.Settings{OrgID: orgID}, nil
		}
		return nil, err
	}
	return fromSettingsModel(m), nil
}

func (s *Store) SaveSettings(ctx context.Context, st *org.Settings) error {
	_, err := s.sdb.NewInsert(toSettingsModel(st)).
		OnConflict("(org_id) DO UPDATE").
		Set("pausable = EXCLUDED.pausable").
		Set("subscriber_changeable_pricing = EXCLUDED.subscriber_changeable_pricing").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// ==================== Invoice Store ====================

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	_, err := s.sdb.NewInsert(toInvoiceModel(inv)).Exec(ctx)
	return err
}

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	m := new(invoiceModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", invID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, invoice.ErrNotFound
		}
		return nil, err
	}
	return fromInvoiceModel(m)
}

func (s *Store) ListInvoices(ctx context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var models []invoiceModel
	q := s.sdb.NewSelect(&models)

	if opts.OrgID != "" {
		q = q.Where("org_id = ?", opts.OrgID)
	}
	if opts.Subscriber != "" {
		q = q.Where("subscriber = ?", opts.Subscriber)
	}
	if !opts.SubscriptionID.IsNil() {
		q = q.Where("subscription_id = ?", opts.SubscriptionID.String())
	}
	if opts.Kind != "" {
		q = q.Where("kind = ?", string(opts.Kind))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
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

type execResult interface {
	RowsAffected() (int64, error)
}

// affected maps a zero-row write to notFound.
func affected(res execResult, err error, notFound error) error {
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
