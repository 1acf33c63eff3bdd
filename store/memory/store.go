// Package memory provides an in-memory store for tests and single-process
// deployments. Records are copied on the way in and out so callers never
// share state with the store.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xraph/tally/coupon"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/escrow"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/org"
	"github.com/xraph/tally/pricing"
	"github.com/xraph/tally/store"
	"github.com/xraph/tally/subscription"
)

var _ store.Store = (*Store)(nil)

// Store is a map-backed store.Store guarded by one RWMutex.
type Store struct {
	mu sync.RWMutex

	pricings map[string]*pricing.Pricing

	coupons     map[string]*coupon.Coupon
	couponCodes map[string]string
	redemptions map[string]*coupon.Redemption
	standing    map[string]id.CouponID

	discounts     map[string]*discount.Discount
	discountNames map[string]string

	grants map[string]map[string]time.Time

	meters map[string]*meter.Meter
	usage  map[string]*meter.Usage

	orgBalances map[string]*escrow.Balance
	feeBalances map[string]*escrow.Balance

	subscriptions map[string]*subscription.Subscription
	settings      map[string]*org.Settings
	invoices      map[string]*invoice.Invoice
}

// New returns an empty store.
func New() *Store {
	return &Store{
		pricings:      make(map[string]*pricing.Pricing),
		coupons:       make(map[string]*coupon.Coupon),
		couponCodes:   make(map[string]string),
		redemptions:   make(map[string]*coupon.Redemption),
		standing:      make(map[string]id.CouponID),
		discounts:     make(map[string]*discount.Discount),
		discountNames: make(map[string]string),
		grants:        make(map[string]map[string]time.Time),
		meters:        make(map[string]*meter.Meter),
		usage:         make(map[string]*meter.Usage),
		orgBalances:   make(map[string]*escrow.Balance),
		feeBalances:   make(map[string]*escrow.Balance),
		subscriptions: make(map[string]*subscription.Subscription),
		settings:      make(map[string]*org.Settings),
		invoices:      make(map[string]*invoice.Invoice),
	}
}

func key(parts ...string) string {
	n := 0
	for _, p := range parts {
		n += len(p) + 1
	}
	b := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			b = append(b, 0)
		}
		b = append(b, p...)
	}
	return string(b)
}

func page[T any](items []T, limit, offset int) []T {
	start := min(max(offset, 0), len(items))
	end := len(items)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return items[start:end]
}

func sortByID[T any](items []T, idOf func(T) id.ID) {
	slices.SortFunc(items, func(a, b T) int { return idOf(a).Compare(idOf(b)) })
}

// Core

func (s *Store) Migrate(context.Context) error { return nil }
func (s *Store) Ping(context.Context) error    { return nil }
func (s *Store) Close() error                  { return nil }

// ──────────────────────────────────────────────────
// Pricing
// ──────────────────────────────────────────────────

func clonePricing(p *pricing.Pricing) *pricing.Pricing {
	cp := *p
	cp.Tiers = slices.Clone(p.Tiers)
	return &cp
}

func (s *Store) CreatePricing(_ context.Context, p *pricing.Pricing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pricings[p.ID.String()]; ok {
		return store.ErrAlreadyExists
	}
	s.pricings[p.ID.String()] = clonePricing(p)
	return nil
}

func (s *Store) GetPricing(_ context.Context, pricingID id.PricingID) (*pricing.Pricing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pricings[pricingID.String()]
	if !ok {
		return nil, pricing.ErrNotFound
	}
	return clonePricing(p), nil
}

func (s *Store) GetPricingBatch(_ context.Context, ids []id.PricingID) ([]*pricing.Pricing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*pricing.Pricing, 0, len(ids))
	for _, pid := range ids {
		p, ok := s.pricings[pid.String()]
		if !ok {
			return nil, pricing.ErrNotFound
		}
		out = append(out, clonePricing(p))
	}
	return out, nil
}

func (s *Store) ListPricing(_ context.Context, orgID string, opts pricing.ListOpts) ([]*pricing.Pricing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*pricing.Pricing, 0)
	for _, p := range s.pricings {
		if p.OrgID != orgID || (opts.ActiveOnly && !p.IsActive) {
			continue
		}
		out = append(out, clonePricing(p))
	}
	sortByID(out, func(p *pricing.Pricing) id.ID { return p.ID })
	return page(out, opts.Limit, opts.Offset), nil
}

func (s *Store) UpdatePricing(_ context.Context, p *pricing.Pricing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pricings[p.ID.String()]; !ok {
		return pricing.ErrNotFound
	}
	s.pricings[p.ID.String()] = clonePricing(p)
	return nil
}

// ──────────────────────────────────────────────────
// Coupons
// ──────────────────────────────────────────────────

func (s *Store) CreateCoupon(_ context.Context, c *coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	codeKey := key(c.OrgID, c.Code)
	if _, ok := s.coupons[c.ID.String()]; ok {
		return store.ErrAlreadyExists
	}
	if _, ok := s.couponCodes[codeKey]; ok {
		return coupon.ErrCodeTaken
	}
	cp := *c
	s.coupons[c.ID.String()] = &cp
	s.couponCodes[codeKey] = c.ID.String()
	return nil
}

func (s *Store) GetCoupon(_ context.Context, couponID id.CouponID) (*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.coupons[couponID.String()]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) GetCouponByCode(_ context.Context, orgID, code string) (*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cid, ok := s.couponCodes[key(orgID, code)]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := *s.coupons[cid]
	return &cp, nil
}

func (s *Store) ListCoupons(_ context.Context, orgID string, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*coupon.Coupon, 0)
	for _, c := range s.coupons {
		if c.OrgID != orgID || (opts.ActiveOnly && !c.IsActive) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sortByID(out, func(c *coupon.Coupon) id.ID { return c.ID })
	return page(out, opts.Limit, opts.Offset), nil
}

func (s *Store) UpdateCoupon(_ context.Context, c *coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.coupons[c.ID.String()]
	if !ok {
		return coupon.ErrNotFound
	}
	cp := *c
	// The counter only moves through Increment/DecrementRedemptions.
	cp.TotalRedemptions = existing.TotalRedemptions
	s.coupons[c.ID.String()] = &cp
	return nil
}

func (s *Store) IncrementRedemptions(_ context.Context, couponID id.CouponID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[couponID.String()]
	if !ok {
		return coupon.ErrNotFound
	}
	if c.Exhausted() {
		return coupon.ErrExhausted
	}
	c.TotalRedemptions++
	return nil
}

func (s *Store) DecrementRedemptions(_ context.Context, couponID id.CouponID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[couponID.String()]
	if !ok {
		return coupon.ErrNotFound
	}
	if c.TotalRedemptions > 0 {
		c.TotalRedemptions--
	}
	return nil
}

func (s *Store) RecordRedemption(_ context.Context, r *coupon.Redemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(r.CouponID.String(), r.Subscriber)
	if existing, ok := s.redemptions[k]; ok {
		existing.Count++
		existing.LastAt = r.LastAt
		return nil
	}
	cp := *r
	cp.Count = 1
	s.redemptions[k] = &cp
	return nil
}

func (s *Store) RevertRedemption(_ context.Context, couponID id.CouponID, subscriber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(couponID.String(), subscriber)
	r, ok := s.redemptions[k]
	if !ok {
		return nil
	}
	if r.Count <= 1 {
		delete(s.redemptions, k)
		return nil
	}
	r.Count--
	return nil
}

func (s *Store) GetRedemption(_ context.Context, couponID id.CouponID, subscriber string) (*coupon.Redemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.redemptions[key(couponID.String(), subscriber)]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) ListRedemptions(_ context.Context, orgID, subscriber string) ([]*coupon.Redemption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*coupon.Redemption, 0)
	for _, r := range s.redemptions {
		if r.OrgID == orgID && r.Subscriber == subscriber {
			cp := *r
			out = append(out, &cp)
		}
	}
	sortByID(out, func(r *coupon.Redemption) id.ID { return r.CouponID })
	return out, nil
}

func (s *Store) SetStandingCoupon(_ context.Context, orgID, subscriber string, couponID id.CouponID, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(orgID, subscriber)
	if couponID.IsNil() {
		delete(s.standing, k)
		return nil
	}
	s.standing[k] = couponID
	return nil
}

func (s *Store) GetStandingCoupon(_ context.Context, orgID, subscriber string) (id.CouponID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.standing[key(orgID, subscriber)], nil
}

// ──────────────────────────────────────────────────
// Discounts
// ──────────────────────────────────────────────────

func (s *Store) CreateDiscount(_ context.Context, d *discount.Discount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nameKey := key(d.OrgID, d.Name)
	if _, ok := s.discounts[d.ID.String()]; ok {
		return store.ErrAlreadyExists
	}
	if _, ok := s.discountNames[nameKey]; ok {
		return discount.ErrNameTaken
	}
	cp := *d
	s.discounts[d.ID.String()] = &cp
	s.discountNames[nameKey] = d.ID.String()
	return nil
}

func (s *Store) GetDiscount(_ context.Context, discountID id.DiscountID) (*discount.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.discounts[discountID.String()]
	if !ok {
		return nil, discount.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *Store) GetDiscountByName(_ context.Context, orgID, name string) (*discount.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	did, ok := s.discountNames[key(orgID, name)]
	if !ok {
		return nil, discount.ErrNotFound
	}
	cp := *s.discounts[did]
	return &cp, nil
}

func (s *Store) ListDiscounts(_ context.Context, orgID string) ([]*discount.Discount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*discount.Discount, 0)
	for _, d := range s.discounts {
		if d.OrgID == orgID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sortByID(out, func(d *discount.Discount) id.ID { return d.ID })
	return out, nil
}

func (s *Store) UpdateDiscount(_ context.Context, d *discount.Discount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.discounts[d.ID.String()]
	if !ok {
		return discount.ErrNotFound
	}
	cp := *d
	cp.TotalMints = existing.TotalMints
	s.discounts[d.ID.String()] = &cp
	return nil
}

func (s *Store) IncrementMints(_ context.Context, discountID id.DiscountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.discounts[discountID.String()]
	if !ok {
		return discount.ErrNotFound
	}
	if d.Exhausted() {
		return discount.ErrExhausted
	}
	d.TotalMints++
	return nil
}

func (s *Store) DecrementMints(_ context.Context, discountID id.DiscountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.discounts[discountID.String()]
	if !ok {
		return discount.ErrNotFound
	}
	if d.TotalMints > 0 {
		d.TotalMints--
	}
	return nil
}

// ──────────────────────────────────────────────────
// Access
// ──────────────────────────────────────────────────

func (s *Store) GrantAccess(_ context.Context, resourceID id.ID, subscribers []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.grants[resourceID.String()]
	if !ok {
		set = make(map[string]time.Time, len(subscribers))
		s.grants[resourceID.String()] = set
	}
	for _, sub := range subscribers {
		if _, exists := set[sub]; !exists {
			set[sub] = at
		}
	}
	return nil
}

func (s *Store) RevokeAccess(_ context.Context, resourceID id.ID, subscribers []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.grants[resourceID.String()]
	for _, sub := range subscribers {
		delete(set, sub)
	}
	return nil
}

func (s *Store) HasAccess(_ context.Context, resourceID id.ID, subscriber string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.grants[resourceID.String()][subscriber]
	return ok, nil
}

func (s *Store) ListAccess(_ context.Context, resourceID id.ID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.grants[resourceID.String()]))
	for sub := range s.grants[resourceID.String()] {
		out = append(out, sub)
	}
	slices.Sort(out)
	return out, nil
}

// ──────────────────────────────────────────────────
// Meters
// ──────────────────────────────────────────────────

func (s *Store) CreateMeter(_ context.Context, m *meter.Meter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meters[m.ID.String()]; ok {
		return store.ErrAlreadyExists
	}
	cp := *m
	s.meters[m.ID.String()] = &cp
	return nil
}

func (s *Store) GetMeter(_ context.Context, meterID id.MeterID) (*meter.Meter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.meters[meterID.String()]
	if !ok {
		return nil, meter.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *Store) ListMeters(_ context.Context, orgID string) ([]*meter.Meter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*meter.Meter, 0)
	for _, m := range s.meters {
		if m.OrgID == orgID {
			cp := *m
			out = append(out, &cp)
		}
	}
	sortByID(out, func(m *meter.Meter) id.ID { return m.ID })
	return out, nil
}

func (s *Store) UpdateMeter(_ context.Context, m *meter.Meter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.meters[m.ID.String()]; !ok {
		return meter.ErrNotFound
	}
	cp := *m
	s.meters[m.ID.String()] = &cp
	return nil
}

func (s *Store) GetUsage(_ context.Context, meterID id.MeterID, subscriber string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, ok := s.usage[key(meterID.String(), subscriber)]; ok {
		return u.Value, nil
	}
	return 0, nil
}

func (s *Store) AddUsage(_ context.Context, meterID id.MeterID, subscriber string, delta int64, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(meterID.String(), subscriber)
	u, ok := s.usage[k]
	if !ok {
		u = &meter.Usage{MeterID: meterID, Subscriber: subscriber}
		s.usage[k] = u
	}
	u.Value += delta
	u.UpdatedAt = at
	return u.Value, nil
}

func (s *Store) SetUsage(_ context.Context, meterID id.MeterID, subscriber string, value int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usage[key(meterID.String(), subscriber)] = &meter.Usage{
		MeterID: meterID, Subscriber: subscriber, Value: value, UpdatedAt: at,
	}
	return nil
}

// ──────────────────────────────────────────────────
// Escrow balances
// ──────────────────────────────────────────────────

func (s *Store) CreditBalance(_ context.Context, orgID, asset string, net, fee int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ob, ok := s.orgBalances[key(orgID, asset)]
	if !ok {
		ob = &escrow.Balance{OrgID: orgID, Asset: asset}
		s.orgBalances[key(orgID, asset)] = ob
	}
	ob.Amount += net
	ob.UpdatedAt = at

	if fee != 0 {
		s.creditFee(asset, fee, at)
	}
	return nil
}

func (s *Store) CreditFeeBalance(_ context.Context, asset string, amount int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creditFee(asset, amount, at)
	return nil
}

// creditFee requires s.mu held for writing.
func (s *Store) creditFee(asset string, amount int64, at time.Time) {
	fb, ok := s.feeBalances[asset]
	if !ok {
		fb = &escrow.Balance{Asset: asset}
		s.feeBalances[asset] = fb
	}
	fb.Amount += amount
	fb.UpdatedAt = at
}

func (s *Store) DebitOrgBalance(_ context.Context, orgID, asset string, amount int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.orgBalances[key(orgID, asset)]
	if !ok || b.Amount < amount {
		return escrow.ErrInsufficientBalance
	}
	b.Amount -= amount
	b.UpdatedAt = at
	return nil
}

func (s *Store) GetOrgBalance(_ context.Context, orgID, asset string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.orgBalances[key(orgID, asset)]; ok {
		return b.Amount, nil
	}
	return 0, nil
}

func (s *Store) ListOrgBalances(_ context.Context, orgID string) ([]*escrow.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*escrow.Balance, 0)
	for _, b := range s.orgBalances {
		if b.OrgID == orgID {
			cp := *b
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *escrow.Balance) int { return cmp.Compare(a.Asset, b.Asset) })
	return out, nil
}

func (s *Store) GetFeeBalance(_ context.Context, asset string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.feeBalances[asset]; ok {
		return b.Amount, nil
	}
	return 0, nil
}

func (s *Store) DebitFeeBalance(_ context.Context, asset string, amount int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.feeBalances[asset]
	if !ok || b.Amount < amount {
		return escrow.ErrInsufficientBalance
	}
	b.Amount -= amount
	b.UpdatedAt = at
	return nil
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

func cloneSubscription(sub *subscription.Subscription) *subscription.Subscription {
	cp := *sub
	cp.DiscountIDs = slices.Clone(sub.DiscountIDs)
	return &cp
}

func (s *Store) CreateSubscriptions(_ context.Context, subs []*subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range subs {
		if _, ok := s.subscriptions[sub.ID.String()]; ok {
			return store.ErrAlreadyExists
		}
	}
	for _, sub := range subs {
		s.subscriptions[sub.ID.String()] = cloneSubscription(sub)
	}
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, subscription.ErrNotFound
	}
	return cloneSubscription(sub), nil
}

func (s *Store) ListSubscriptions(_ context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if opts.OrgID != "" && sub.OrgID != opts.OrgID {
			continue
		}
		if opts.Subscriber != "" && sub.Subscriber != opts.Subscriber {
			continue
		}
		if opts.Status != "" && sub.Status != opts.Status {
			continue
		}
		out = append(out, cloneSubscription(sub))
	}
	sortByID(out, func(s *subscription.Subscription) id.ID { return s.ID })
	return page(out, opts.Limit, opts.Offset), nil
}

func (s *Store) ListSubscriptionRange(_ context.Context, orgID string, from, to id.SubscriptionID) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.OrgID == orgID && sub.ID.InRange(from, to) {
			out = append(out, cloneSubscription(sub))
		}
	}
	sortByID(out, func(s *subscription.Subscription) id.ID { return s.ID })
	return out, nil
}

func (s *Store) ListDueSubscriptions(_ context.Context, before time.Time, limit int) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make([]*subscription.Subscription, 0)
	pastDue := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.EndDate.After(before) {
			continue
		}
		switch sub.Status {
		case subscription.StatusActive:
			active = append(active, cloneSubscription(sub))
		case subscription.StatusPastDue:
			pastDue = append(pastDue, cloneSubscription(sub))
		}
	}
	slices.SortFunc(active, func(a, b *subscription.Subscription) int {
		if c := a.EndDate.Compare(b.EndDate); c != 0 {
			return c
		}
		return a.ID.Compare(b.ID)
	})
	slices.SortFunc(pastDue, func(a, b *subscription.Subscription) int {
		if c := a.UpdatedAt.Compare(b.UpdatedAt); c != 0 {
			return c
		}
		return a.ID.Compare(b.ID)
	})
	return page(append(active, pastDue...), limit, 0), nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscriptions[sub.ID.String()]; !ok {
		return subscription.ErrNotFound
	}
	s.subscriptions[sub.ID.String()] = cloneSubscription(sub)
	return nil
}

func (s *Store) HasSubscription(_ context.Context, orgID, subscriber string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.OrgID == orgID && sub.Subscriber == subscriber {
			return true, nil
		}
	}
	return false, nil
}

// ──────────────────────────────────────────────────
// Org settings
// ──────────────────────────────────────────────────

func (s *Store) GetSettings(_ context.Context, orgID string) (*org.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.settings[orgID]; ok {
		cp := *st
		return &cp, nil
	}
	return &org.Settings{OrgID: orgID}, nil
}

func (s *Store) SaveSettings(_ context.Context, st *org.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *st
	s.settings[st.OrgID] = &cp
	return nil
}

// ──────────────────────────────────────────────────
// Invoices
// ──────────────────────────────────────────────────

func cloneInvoice(inv *invoice.Invoice) *invoice.Invoice {
	cp := *inv
	cp.LineItems = slices.Clone(inv.LineItems)
	cp.DiscountIDs = slices.Clone(inv.DiscountIDs)
	return &cp
}

func (s *Store) CreateInvoice(_ context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoices[inv.ID.String()]; ok {
		return store.ErrAlreadyExists
	}
	s.invoices[inv.ID.String()] = cloneInvoice(inv)
	return nil
}

func (s *Store) GetInvoice(_ context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[invID.String()]
	if !ok {
		return nil, invoice.ErrNotFound
	}
	return cloneInvoice(inv), nil
}

func (s *Store) ListInvoices(_ context.Context, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*invoice.Invoice, 0)
	for _, inv := range s.invoices {
		if opts.OrgID != "" && inv.OrgID != opts.OrgID {
			continue
		}
		if opts.Subscriber != "" && inv.Subscriber != opts.Subscriber {
			continue
		}
		if !opts.SubscriptionID.IsNil() && inv.SubscriptionID.Compare(opts.SubscriptionID) != 0 {
			continue
		}
		if opts.Kind != "" && inv.Kind != opts.Kind {
			continue
		}
		out = append(out, cloneInvoice(inv))
	}
	sortByID(out, func(inv *invoice.Invoice) id.ID { return inv.ID })
	return page(out, opts.Limit, opts.Offset), nil
}
