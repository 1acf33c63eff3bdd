package tally_test

import (
	"context"
	"log"
	"log/slog"
	"testing"

	"github.com/xraph/tally"
	"github.com/xraph/tally/pricing"
	"github.com/xraph/tally/store/memory"
	"github.com/xraph/tally/types"
)

// TestDocumentationExamples verifies that all examples in the documentation compile
func TestDocumentationExamples(t *testing.T) {
	// Test Quick Start example from README
	t.Run("QuickStartExample", func(t *testing.T) {
		// Organizations and roles come from your own system
		auth := tally.NewStaticAuthorizer().AddOrganization("acme", "alice")

		// Create store (memory for demo, use PostgreSQL in production)
		engine := tally.New(memory.New(),
			tally.WithLogger(slog.Default()),
			tally.WithAuthorizer(auth),
		)

		ctx := context.Background()
		if err := engine.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer engine.Stop(ctx) //nolint:errcheck // example

		// Publish a pricing as the org owner
		p := &pricing.Pricing{
			OrgID:           "acme",
			Name:            "Pro",
			ChargeStyle:     pricing.TieredGraduated,
			ChargeFrequency: pricing.FrequencyMonthly,
			Asset:           "usd",
			IsActive:        true,
			Tiers: []pricing.Tier{
				{LowerBound: 0, UpperBound: 5, PricePerUnit: 900},
				{LowerBound: 6, UpperBound: 0, PricePerUnit: 700},
			},
		}
		if err := engine.CreatePricing(tally.WithCaller(ctx, "alice"), p); err != nil {
			t.Fatal(err)
		}

		// Check out eight seats as a subscriber
		res, err := engine.Checkout(tally.WithCaller(ctx, "dave"), tally.CheckoutRequest{
			OrgID: "acme",
			Lines: []tally.CheckoutLine{{PricingID: p.ID, ProductID: "seats", Quantity: 8}},
		})
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("Paid %s, renews %s\n", res.Invoice.TotalMoney(), res.Subscriptions[0].EndDate)

		// Renew everything that is due
		results, err := engine.RenewDue(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		if err := tally.BatchError(results); err != nil {
			log.Printf("Renewal failures: %v\n", err)
		}
	})

	// Test Money type examples
	t.Run("MoneyExamples", func(t *testing.T) {
		// Constructors
		_ = types.USD(4900)   // $49.00
		_ = types.EUR(9900)   // €99.00
		_ = types.Zero("usd") // $0.00

		// Arithmetic
		m1 := types.USD(100)
		m2 := types.USD(200)
		_ = m1.Add(m2)       // $3.00
		_ = m1.Multiply(3)   // $3.00
		_ = m1.LessBps(2500) // $0.75

		// Comparison
		if m1.LessThan(m2) {
			// m1 is less than m2
		}

		// Formatting
		_ = m1.String()      // "$1.00"
		_ = m1.FormatMajor() // "1.00"
	})
}
