// Package org holds per-organization subscription settings.
package org

import (
	"context"
	"time"
)

// Settings are the subscription flags an organization admin controls.
type Settings struct {
	OrgID string `json:"org_id"`
	// Pausable lets subscriptions of the org be paused.
	Pausable bool `json:"pausable"`
	// SubscriberChangeablePricing lets subscribers switch their own pricing.
	SubscriberChangeablePricing bool      `json:"subscriber_changeable_pricing"`
	UpdatedAt                   time.Time `json:"updated_at"`
}

// Store persists settings. GetSettings returns zero settings for an
// unknown org.
type Store interface {
	GetSettings(ctx context.Context, orgID string) (*Settings, error)
	SaveSettings(ctx context.Context, s *Settings) error
}
