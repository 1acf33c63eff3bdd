package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/tally/coupon"
	"github.com/xraph/tally/discount"
	"github.com/xraph/tally/id"
	"github.com/xraph/tally/invoice"
	"github.com/xraph/tally/meter"
	"github.com/xraph/tally/pricing"
	"github.com/xraph/tally/subscription"
)

// DefaultHookTimeout bounds a single hook call.
const DefaultHookTimeout = 5 * time.Second

// Registry holds registered plugins with their hooks cached by type, so
// dispatch never type-asserts.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                      []OnInit
	onShutdown                  []OnShutdown
	onPricingCreated            []OnPricingCreated
	onPricingUpdated            []OnPricingUpdated
	onCouponCreated             []OnCouponCreated
	onCouponUpdated             []OnCouponUpdated
	onCouponRedeemed            []OnCouponRedeemed
	onDiscountCreated           []OnDiscountCreated
	onDiscountMinted            []OnDiscountMinted
	onMeterCreated              []OnMeterCreated
	onMeterUsageSet             []OnMeterUsageSet
	onSubscriptionCreated       []OnSubscriptionCreated
	onSubscriptionCycleUpdated  []OnSubscriptionCycleUpdated
	onSubscriptionStatusChanged []OnSubscriptionStatusChanged
	onRenewalProcessed          []OnRenewalProcessed
	onCheckoutCompleted         []OnCheckoutCompleted
	onBalanceCredited           []OnBalanceCredited
	onBalanceWithdrawn          []OnBalanceWithdrawn
	onFeeWithdrawn              []OnFeeWithdrawn
	onWhitelistedTokenSet       []OnWhitelistedTokenSet
	onFeeSet                    []OnFeeSet
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultHookTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

func cache[H any](p Plugin, list *[]H, name string, names *[]string) {
	if h, ok := p.(H); ok {
		*list = append(*list, h)
		*names = append(*names, name)
	}
}

// Register adds p and caches the hooks it implements.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}
	r.plugins = append(r.plugins, p)

	var hooks []string
	cache(p, &r.onInit, "OnInit", &hooks)
	cache(p, &r.onShutdown, "OnShutdown", &hooks)
	cache(p, &r.onPricingCreated, "OnPricingCreated", &hooks)
	cache(p, &r.onPricingUpdated, "OnPricingUpdated", &hooks)
	cache(p, &r.onCouponCreated, "OnCouponCreated", &hooks)
	cache(p, &r.onCouponUpdated, "OnCouponUpdated", &hooks)
	cache(p, &r.onCouponRedeemed, "OnCouponRedeemed", &hooks)
	cache(p, &r.onDiscountCreated, "OnDiscountCreated", &hooks)
	cache(p, &r.onDiscountMinted, "OnDiscountMinted", &hooks)
	cache(p, &r.onMeterCreated, "OnMeterCreated", &hooks)
	cache(p, &r.onMeterUsageSet, "OnMeterUsageSet", &hooks)
	cache(p, &r.onSubscriptionCreated, "OnSubscriptionCreated", &hooks)
	cache(p, &r.onSubscriptionCycleUpdated, "OnSubscriptionCycleUpdated", &hooks)
	cache(p, &r.onSubscriptionStatusChanged, "OnSubscriptionStatusChanged", &hooks)
	cache(p, &r.onRenewalProcessed, "OnRenewalProcessed", &hooks)
	cache(p, &r.onCheckoutCompleted, "OnCheckoutCompleted", &hooks)
	cache(p, &r.onBalanceCredited, "OnBalanceCredited", &hooks)
	cache(p, &r.onBalanceWithdrawn, "OnBalanceWithdrawn", &hooks)
	cache(p, &r.onFeeWithdrawn, "OnFeeWithdrawn", &hooks)
	cache(p, &r.onWhitelistedTokenSet, "OnWhitelistedTokenSet", &hooks)
	cache(p, &r.onFeeSet, "OnFeeSet", &hooks)

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"hooks", hooks,
	)
	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// emit calls fn for every hook, logging failures. Hooks never fail the
// operation that fired them.
func emit[H Plugin](ctx context.Context, r *Registry, hooks []H, event string, fn func(H) error) {
	for _, h := range hooks {
		if err := r.callWithTimeout(ctx, h.Name(), func() error { return fn(h) }); err != nil {
			r.logger.Warn("plugin hook failed",
				"plugin", h.Name(),
				"hook", event,
				"error", err,
			)
		}
	}
}

func snapshot[H any](r *Registry, list *[]H) []H {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *list
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, snapshot(r, &r.onInit), "OnInit", func(h OnInit) error {
		return h.OnInit(ctx, engine)
	})
}

func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, snapshot(r, &r.onShutdown), "OnShutdown", func(h OnShutdown) error {
		return h.OnShutdown(ctx)
	})
}

func (r *Registry) EmitPricingCreated(ctx context.Context, p *pricing.Pricing) {
	emit(ctx, r, snapshot(r, &r.onPricingCreated), "OnPricingCreated", func(h OnPricingCreated) error {
		return h.OnPricingCreated(ctx, p)
	})
}

func (r *Registry) EmitPricingUpdated(ctx context.Context, p *pricing.Pricing) {
	emit(ctx, r, snapshot(r, &r.onPricingUpdated), "OnPricingUpdated", func(h OnPricingUpdated) error {
		return h.OnPricingUpdated(ctx, p)
	})
}

func (r *Registry) EmitCouponCreated(ctx context.Context, c *coupon.Coupon) {
	emit(ctx, r, snapshot(r, &r.onCouponCreated), "OnCouponCreated", func(h OnCouponCreated) error {
		return h.OnCouponCreated(ctx, c)
	})
}

func (r *Registry) EmitCouponUpdated(ctx context.Context, c *coupon.Coupon) {
	emit(ctx, r, snapshot(r, &r.onCouponUpdated), "OnCouponUpdated", func(h OnCouponUpdated) error {
		return h.OnCouponUpdated(ctx, c)
	})
}

func (r *Registry) EmitCouponRedeemed(ctx context.Context, c *coupon.Coupon, subscriber string) {
	emit(ctx, r, snapshot(r, &r.onCouponRedeemed), "OnCouponRedeemed", func(h OnCouponRedeemed) error {
		return h.OnCouponRedeemed(ctx, c, subscriber)
	})
}

func (r *Registry) EmitDiscountCreated(ctx context.Context, d *discount.Discount) {
	emit(ctx, r, snapshot(r, &r.onDiscountCreated), "OnDiscountCreated", func(h OnDiscountCreated) error {
		return h.OnDiscountCreated(ctx, d)
	})
}

func (r *Registry) EmitDiscountMinted(ctx context.Context, d *discount.Discount, subscriber string) {
	emit(ctx, r, snapshot(r, &r.onDiscountMinted), "OnDiscountMinted", func(h OnDiscountMinted) error {
		return h.OnDiscountMinted(ctx, d, subscriber)
	})
}

func (r *Registry) EmitMeterCreated(ctx context.Context, m *meter.Meter) {
	emit(ctx, r, snapshot(r, &r.onMeterCreated), "OnMeterCreated", func(h OnMeterCreated) error {
		return h.OnMeterCreated(ctx, m)
	})
}

func (r *Registry) EmitMeterUsageSet(ctx context.Context, meterID id.MeterID, subscriber string, value int64) {
	emit(ctx, r, snapshot(r, &r.onMeterUsageSet), "OnMeterUsageSet", func(h OnMeterUsageSet) error {
		return h.OnMeterUsageSet(ctx, meterID, subscriber, value)
	})
}

func (r *Registry) EmitSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) {
	emit(ctx, r, snapshot(r, &r.onSubscriptionCreated), "OnSubscriptionCreated", func(h OnSubscriptionCreated) error {
		return h.OnSubscriptionCreated(ctx, sub)
	})
}

func (r *Registry) EmitSubscriptionCycleUpdated(ctx context.Context, sub *subscription.Subscription) {
	emit(ctx, r, snapshot(r, &r.onSubscriptionCycleUpdated), "OnSubscriptionCycleUpdated", func(h OnSubscriptionCycleUpdated) error {
		return h.OnSubscriptionCycleUpdated(ctx, sub)
	})
}

func (r *Registry) EmitSubscriptionStatusChanged(ctx context.Context, sub *subscription.Subscription, from subscription.Status) {
	emit(ctx, r, snapshot(r, &r.onSubscriptionStatusChanged), "OnSubscriptionStatusChanged", func(h OnSubscriptionStatusChanged) error {
		return h.OnSubscriptionStatusChanged(ctx, sub, from)
	})
}

func (r *Registry) EmitRenewalProcessed(ctx context.Context, subID id.SubscriptionID, outcome string, err error) {
	emit(ctx, r, snapshot(r, &r.onRenewalProcessed), "OnRenewalProcessed", func(h OnRenewalProcessed) error {
		return h.OnRenewalProcessed(ctx, subID, outcome, err)
	})
}

func (r *Registry) EmitCheckoutCompleted(ctx context.Context, inv *invoice.Invoice, subs []*subscription.Subscription) {
	emit(ctx, r, snapshot(r, &r.onCheckoutCompleted), "OnCheckoutCompleted", func(h OnCheckoutCompleted) error {
		return h.OnCheckoutCompleted(ctx, inv, subs)
	})
}

func (r *Registry) EmitBalanceCredited(ctx context.Context, orgID, asset string, net, fee int64) {
	emit(ctx, r, snapshot(r, &r.onBalanceCredited), "OnBalanceCredited", func(h OnBalanceCredited) error {
		return h.OnBalanceCredited(ctx, orgID, asset, net, fee)
	})
}

func (r *Registry) EmitBalanceWithdrawn(ctx context.Context, orgID, asset string, amount int64, to string) {
	emit(ctx, r, snapshot(r, &r.onBalanceWithdrawn), "OnBalanceWithdrawn", func(h OnBalanceWithdrawn) error {
		return h.OnBalanceWithdrawn(ctx, orgID, asset, amount, to)
	})
}

func (r *Registry) EmitFeeWithdrawn(ctx context.Context, asset string, amount int64, to string) {
	emit(ctx, r, snapshot(r, &r.onFeeWithdrawn), "OnFeeWithdrawn", func(h OnFeeWithdrawn) error {
		return h.OnFeeWithdrawn(ctx, asset, amount, to)
	})
}

func (r *Registry) EmitWhitelistedTokenSet(ctx context.Context, asset string, whitelisted bool) {
	emit(ctx, r, snapshot(r, &r.onWhitelistedTokenSet), "OnWhitelistedTokenSet", func(h OnWhitelistedTokenSet) error {
		return h.OnWhitelistedTokenSet(ctx, asset, whitelisted)
	})
}

func (r *Registry) EmitFeeSet(ctx context.Context, change FeeChange) {
	emit(ctx, r, snapshot(r, &r.onFeeSet), "OnFeeSet", func(h OnFeeSet) error {
		return h.OnFeeSet(ctx, change)
	})
}

// callWithTimeout runs fn but stops waiting after the registry timeout.
// Plugins must never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
