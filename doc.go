// Package tally provides a commerce and subscription ledger for Go
// applications.
//
// Tally is a library, not a service. Organizations publish pricing,
// coupons, discounts and usage meters; subscribers check out against
// them; the engine collects payment through an injected Treasury, splits
// it between the organization's escrow balance and the platform fee
// balance, and renews subscriptions every cycle. It provides:
//
//   - Six charge styles: one-time, flat rate, committed tiered (volume
//     and graduated) and usage tiered (volume and graduated)
//   - Coupons with expiry, redemption caps, one-time use, restricted
//     access and initial-purchase-only rules
//   - Discounts minted onto a purchase and reapplied at every renewal
//   - A fee schedule with per-asset rates, exemptions, a whitelist and a
//     pluggable fee reducer
//   - Batch renewal with per-item outcomes and a cron-driven worker
//   - Typed plugin hooks for every state change
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/tally"
//	    "github.com/xraph/tally/store/memory"
//	)
//
//	auth := tally.NewStaticAuthorizer().AddOrganization("acme", "alice")
//	engine := tally.New(memory.New(),
//	    tally.WithAuthorizer(auth),
//	    tally.WithTreasury(myTreasury),
//	)
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop(ctx)
//
// # Caller identity
//
// Every mutating operation acts on behalf of the account carried by the
// context:
//
//	ctx = tally.WithCaller(ctx, "alice")
//	err := engine.CreatePricing(ctx, &pricing.Pricing{
//	    OrgID:           "acme",
//	    Name:            "Pro",
//	    ChargeStyle:     pricing.FlatRate,
//	    ChargeFrequency: pricing.FrequencyMonthly,
//	    Asset:           "usd",
//	    FlatPrice:       2900,
//	    IsActive:        true,
//	})
//
// Organization ownership and protocol roles are answered by the injected
// Authorizer; Tally never stores organizations itself.
//
// # Amounts
//
// All amounts are int64 in the asset's smallest unit. Percentages are
// basis points (10000 = 100%) and always round down.
//
// # TypeID
//
// All entities use TypeID identifiers:
//
//	price_01h2xcejqtf2nbrexx3vqjhp41  // Pricing ID
//	sub_01h2xcejqtf2nbrexx3vqjhp41    // Subscription ID
//	inv_01h455vb4pex5vsknk084sn02q    // Invoice ID
//
// TypeIDs are K-sortable, so an ID range selects subscriptions in
// creation order; RenewRange relies on this.
package tally
