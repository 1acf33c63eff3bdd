// Package id provides the TypeID identifiers used by every Tally record.
//
// An ID is "prefix_suffix" where the suffix is a UUIDv7 in base32, so IDs
// sharing a prefix sort lexicographically in creation order. Batch
// renewal relies on that ordering to address a contiguous range of
// subscriptions.
package id

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"go.jetify.com/typeid/v2"
)

// Prefix names the record type encoded in an ID.
type Prefix string

// Record prefixes.
const (
	PrefixPricing      Prefix = "price"
	PrefixCoupon       Prefix = "cpn"
	PrefixDiscount     Prefix = "dsc"
	PrefixMeter        Prefix = "mtr"
	PrefixSubscription Prefix = "sub"
	PrefixInvoice      Prefix = "inv"
	PrefixLineItem     Prefix = "li"
	PrefixCheckout     Prefix = "chk"
)

// ID identifies a Tally record.
//
//nolint:recvcheck // value receivers for reads, pointer receivers for UnmarshalText/Scan.
type ID struct {
	tid   typeid.TypeID
	valid bool
}

// Nil is the zero ID.
var Nil ID

// New returns a fresh ID carrying prefix. An invalid prefix is a
// programming error and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: generate %q: %v", prefix, err))
	}
	return ID{tid: tid, valid: true}
}

// Parse decodes a "prefix_suffix" string of any prefix.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, valid: true}, nil
}

// ParseWithPrefix decodes s and rejects it unless it carries want.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := parsed.Prefix(); got != want {
		return Nil, fmt.Errorf("id: want prefix %q, got %q", want, got)
	}
	return parsed, nil
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(err.Error())
	}
	return parsed
}

// Aliases document which record an ID field refers to.
type (
	PricingID      = ID
	CouponID       = ID
	DiscountID     = ID
	MeterID        = ID
	SubscriptionID = ID
	InvoiceID      = ID
	LineItemID     = ID
	CheckoutID     = ID
)

func NewPricingID() ID      { return New(PrefixPricing) }
func NewCouponID() ID       { return New(PrefixCoupon) }
func NewDiscountID() ID     { return New(PrefixDiscount) }
func NewMeterID() ID        { return New(PrefixMeter) }
func NewSubscriptionID() ID { return New(PrefixSubscription) }
func NewInvoiceID() ID      { return New(PrefixInvoice) }
func NewLineItemID() ID     { return New(PrefixLineItem) }
func NewCheckoutID() ID     { return New(PrefixCheckout) }

func ParsePricingID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixPricing) }
func ParseCouponID(s string) (ID, error)       { return ParseWithPrefix(s, PrefixCoupon) }
func ParseDiscountID(s string) (ID, error)     { return ParseWithPrefix(s, PrefixDiscount) }
func ParseMeterID(s string) (ID, error)        { return ParseWithPrefix(s, PrefixMeter) }
func ParseSubscriptionID(s string) (ID, error) { return ParseWithPrefix(s, PrefixSubscription) }
func ParseInvoiceID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixInvoice) }
func ParseCheckoutID(s string) (ID, error)     { return ParseWithPrefix(s, PrefixCheckout) }

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.tid.String()
}

// Prefix returns the record prefix, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

// IsNil reports whether i is the zero ID.
func (i ID) IsNil() bool { return !i.valid }

// Compare orders IDs by their string form. For a shared prefix this is
// creation order.
func (i ID) Compare(other ID) int {
	return strings.Compare(i.String(), other.String())
}

// InRange reports whether from <= i <= to. A Nil bound is open.
func (i ID) InRange(from, to ID) bool {
	if !from.IsNil() && i.Compare(from) < 0 {
		return false
	}
	if !to.IsNil() && i.Compare(to) > 0 {
		return false
	}
	return true
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil stores as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL column
	}
	return i.tid.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}
