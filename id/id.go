// Package id provides prefixed, K-sortable identifiers for tally records.
//
// Identifiers are TypeIDs ("lot_01h2xcejqtf2nbrexx3vqjhp41"). The prefix
// names the record kind, so a lot ID can never be mistaken for an order ID
// when it round-trips through a URL or a database column.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix is the record kind encoded in an ID.
type Prefix string

const (
	PrefixPlan         Prefix = "plan" // Sellable plan
	PrefixLot          Prefix = "lot"  // Credit lot
	PrefixOrder        Prefix = "ord"  // Billing order
	PrefixUsage        Prefix = "use"  // Usage ledger entry
	PrefixWebhookEvent Prefix = "whe"  // Stored webhook delivery
)

// ID is a prefix-qualified identifier. The zero value is Nil.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New returns a fresh ID. It panics on an invalid prefix.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses any well-formed TypeID string.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and rejects it unless its prefix is expected.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Per-kind aliases, constructors and parsers
// ──────────────────────────────────────────────────

type (
	PlanID         = ID
	LotID          = ID
	OrderID        = ID
	UsageID        = ID
	WebhookEventID = ID
)

func NewPlanID() ID         { return New(PrefixPlan) }
func NewLotID() ID          { return New(PrefixLot) }
func NewOrderID() ID        { return New(PrefixOrder) }
func NewUsageID() ID        { return New(PrefixUsage) }
func NewWebhookEventID() ID { return New(PrefixWebhookEvent) }

func ParsePlanID(s string) (ID, error)         { return ParseWithPrefix(s, PrefixPlan) }
func ParseLotID(s string) (ID, error)          { return ParseWithPrefix(s, PrefixLot) }
func ParseOrderID(s string) (ID, error)        { return ParseWithPrefix(s, PrefixOrder) }
func ParseUsageID(s string) (ID, error)        { return ParseWithPrefix(s, PrefixUsage) }
func ParseWebhookEventID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWebhookEvent) }

// ──────────────────────────────────────────────────
// Methods
// ──────────────────────────────────────────────────

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the record kind of i.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether i is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
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

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL column
	}

	return i.inner.String(), nil
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
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
