// Package schema defines the field model shared across the AssetGrid platform
// and compiles user-authored field definitions into executable validators.
// The daemon uses it as the authoritative write gate; the SDK uses the exact
// same package for instant client-side feedback, so the two can never drift.
package schema

import "time"

// Kind identifies the value shape of a field.
type Kind string

const (
	KindText        Kind = "text"
	KindLongText    Kind = "longtext"
	KindNumber      Kind = "number"
	KindBoolean     Kind = "boolean"
	KindSelect      Kind = "select"
	KindMultiSelect Kind = "multiselect"
	KindDate        Kind = "date"
	KindEmail       Kind = "email"
	KindURL         Kind = "url"
	KindIP          Kind = "ip"
	KindList        Kind = "list"

	// KindAssetName is the reserved "magic" kind: the field whose value names
	// an asset. At most one live definition of this kind may exist; the store
	// enforces that inside the same transaction as the write.
	KindAssetName Kind = "asset-name"
)

// listItemKinds are the kinds allowed as list elements. Nested lists are not.
var listItemKinds = map[Kind]bool{
	KindText:   true,
	KindNumber: true,
	KindEmail:  true,
	KindURL:    true,
}

// Constraints carries the kind-specific validation settings of a field.
// Only the members relevant to the field's kind are consulted.
type Constraints struct {
	// Pattern is a regular expression the value must match. PatternMessage,
	// when set, replaces the generic mismatch message.
	Pattern        string `json:"pattern,omitempty"`
	PatternMessage string `json:"pattern_message,omitempty"`

	// String length bounds (text, longtext, email, url kinds).
	MinLength *int `json:"min_length,omitempty"`
	MaxLength *int `json:"max_length,omitempty"`

	// Numeric value bounds.
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`

	// Cardinality bounds for multiselect and list kinds.
	MinItems *int `json:"min_items,omitempty"`
	MaxItems *int `json:"max_items,omitempty"`

	// Options is the enumerated option set. When non-empty it supersedes the
	// kind's base validator: the value must equal one option verbatim.
	Options []string `json:"options,omitempty"`

	// Subnet restricts ip values to a CIDR block, "A.B.C.D/N".
	Subnet string `json:"subnet,omitempty"`

	// List element kind and its constraints. ItemKind must be one of
	// text, number, email or url.
	ItemKind Kind         `json:"item_kind,omitempty"`
	Item     *Constraints `json:"item,omitempty"`
}

// FieldDefinition is a user-authored, dynamically created field of the
// inventory. Definitions are soft-deleted, never removed, so the audit trail
// stays resolvable.
type FieldDefinition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`

	// Required fields reject empty string and null. False and zero are
	// legitimate values and pass.
	Required bool `json:"required"`

	// Persistent forbids deletion. The flag is one-way: once set it can
	// never be cleared.
	Persistent bool `json:"persistent"`

	Constraints Constraints `json:"constraints"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Deleted   bool      `json:"deleted,omitempty"`
}
