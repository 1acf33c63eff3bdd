package invoice

import (
	"context"

	"github.com/xraph/tally/id"
)

// Store persists invoices.
type Store interface {
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, invID id.InvoiceID) (*Invoice, error)
	ListInvoices(ctx context.Context, opts ListOpts) ([]*Invoice, error)
}

// ListOpts filters ListInvoices. Empty fields match everything.
type ListOpts struct {
	OrgID          string
	Subscriber     string
	SubscriptionID id.SubscriptionID
	Kind           Kind
	Limit          int
	Offset         int
}
