package escrow

import (
	"context"
	"time"
)

// Balance is an amount of one asset held for an organization, or for the
// platform when OrgID is empty.
type Balance struct {
	OrgID     string    `json:"org_id,omitempty"`
	Asset     string    `json:"asset"`
	Amount    int64     `json:"amount"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists balances. Credits and debits are atomic per call.
type Store interface {
	// CreditBalance adds net to the org balance and fee to the platform
	// fee balance as one change.
	CreditBalance(ctx context.Context, orgID, asset string, net, fee int64, at time.Time) error
	// DebitOrgBalance subtracts amount or returns ErrInsufficientBalance.
	DebitOrgBalance(ctx context.Context, orgID, asset string, amount int64, at time.Time) error
	GetOrgBalance(ctx context.Context, orgID, asset string) (int64, error)
	ListOrgBalances(ctx context.Context, orgID string) ([]*Balance, error)

	GetFeeBalance(ctx context.Context, asset string) (int64, error)
	// CreditFeeBalance adds amount to the platform fee balance only.
	CreditFeeBalance(ctx context.Context, asset string, amount int64, at time.Time) error
	// DebitFeeBalance subtracts amount or returns ErrInsufficientBalance.
	DebitFeeBalance(ctx context.Context, asset string, amount int64, at time.Time) error
}
