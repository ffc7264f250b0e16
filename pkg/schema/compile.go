package schema

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CheckFunc is a compiled validator. It returns the empty string when the
// value is acceptable, or a human-readable rejection message otherwise.
type CheckFunc func(value any) string

// builder turns a field's constraints into the kind-specific base check.
// A non-nil error means the definition itself is broken (bad regex, malformed
// subnet, ...): a configuration error, never a per-value message.
type builder func(c Constraints) (CheckFunc, error)

// kindBuilders is the kind registry. New kinds are added by registering one
// more entry here; nothing dispatches on concrete types. Populated in init
// because buildList looks its item kind up through the same map.
var kindBuilders map[Kind]builder

func init() {
	kindBuilders = map[Kind]builder{
		KindText:        buildString,
		KindLongText:    buildString,
		KindAssetName:   buildString,
		KindNumber:      buildNumber,
		KindBoolean:     buildBoolean,
		KindSelect:      buildString,
		KindMultiSelect: buildMultiSelect,
		KindDate:        buildDate,
		KindEmail:       buildEmail,
		KindURL:         buildURL,
		KindIP:          buildIP,
		KindList:        buildList,
	}
}

// Compile turns a field definition into an executable validator.
func Compile(def FieldDefinition) (CheckFunc, error) {
	build, ok := kindBuilders[def.Kind]
	if !ok {
		return nil, fmt.Errorf("field %q: unknown kind %q", def.ID, def.Kind)
	}

	base, err := build(def.Constraints)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", def.ID, err)
	}

	// An explicit option set supersedes the base validator for scalar kinds.
	// Multiselect and list consume options element-wise inside their builders.
	if len(def.Constraints.Options) > 0 && def.Kind != KindMultiSelect && def.Kind != KindList {
		base = optionCheck(def.Constraints.Options)
	}

	required := def.Required
	return func(value any) string {
		if isEmpty(value) {
			if required {
				return "a value is required"
			}
			return ""
		}
		return base(value)
	}, nil
}

// ValidateOne compiles the definition and checks a single value.
// The returned string is empty when the value is valid.
func ValidateOne(def FieldDefinition, value any) (string, error) {
	check, err := Compile(def)
	if err != nil {
		return "", err
	}
	return check(value), nil
}

// ValidateAll checks a whole metadata mapping against every live definition.
// Every field is checked independently; the result maps field ID to message
// and omits fields that passed. It never short-circuits on the first failure.
func ValidateAll(defs []FieldDefinition, metadata map[string]any) (map[string]string, error) {
	failures := make(map[string]string)
	for _, def := range defs {
		if def.Deleted {
			continue
		}
		msg, err := ValidateOne(def, metadata[def.ID])
		if err != nil {
			return nil, err
		}
		if msg != "" {
			failures[def.ID] = msg
		}
	}
	return failures, nil
}

// isEmpty reports whether a value counts as absent for required checks.
// false and 0 are real values and are never empty.
func isEmpty(v any) bool {
	return v == nil || v == ""
}

func optionCheck(options []string) CheckFunc {
	allowed := make(map[string]bool, len(options))
	for _, o := range options {
		allowed[o] = true
	}
	return func(value any) string {
		s, ok := value.(string)
		if !ok || !allowed[s] {
			return "value is not one of the allowed options"
		}
		return ""
	}
}

func buildString(c Constraints) (CheckFunc, error) {
	var pattern *regexp.Regexp
	if c.Pattern != "" {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", c.Pattern, err)
		}
		pattern = re
	}
	minLen, maxLen := c.MinLength, c.MaxLength
	msg := c.PatternMessage

	return func(value any) string {
		s, ok := value.(string)
		if !ok {
			return "must be text"
		}
		if minLen != nil && len(s) < *minLen {
			return fmt.Sprintf("must be at least %d characters", *minLen)
		}
		if maxLen != nil && len(s) > *maxLen {
			return fmt.Sprintf("must be at most %d characters", *maxLen)
		}
		if pattern != nil && !pattern.MatchString(s) {
			if msg != "" {
				return msg
			}
			return "value does not match the required pattern"
		}
		return ""
	}, nil
}

func buildNumber(c Constraints) (CheckFunc, error) {
	minVal, maxVal := c.Min, c.Max
	return func(value any) string {
		n, ok := toFloat(value)
		if !ok {
			return "must be a number"
		}
		if minVal != nil && n < *minVal {
			return fmt.Sprintf("must be at least %v", *minVal)
		}
		if maxVal != nil && n > *maxVal {
			return fmt.Sprintf("must be at most %v", *maxVal)
		}
		return ""
	}, nil
}

// toFloat coerces the numeric representations seen on the wire. Strings are
// accepted because HTML inputs deliver numbers as text.
func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func buildBoolean(Constraints) (CheckFunc, error) {
	return func(value any) string {
		if _, ok := value.(bool); !ok {
			return "must be true or false"
		}
		return ""
	}, nil
}

// dateLayouts are the accepted ISO-8601 shapes, full timestamp or plain date.
var dateLayouts = []string{time.RFC3339, "2006-01-02"}

func buildDate(Constraints) (CheckFunc, error) {
	return func(value any) string {
		switch v := value.(type) {
		case time.Time:
			return ""
		case string:
			for _, layout := range dateLayouts {
				if _, err := time.Parse(layout, v); err == nil {
					return ""
				}
			}
			return "must be an ISO-8601 date"
		default:
			// Raw numbers are deliberately rejected; epoch guessing is a
			// rich source of silent corruption.
			return "must be an ISO-8601 date"
		}
	}, nil
}

func buildEmail(c Constraints) (CheckFunc, error) {
	lengths, err := buildString(c)
	if err != nil {
		return nil, err
	}
	return func(value any) string {
		if msg := lengths(value); msg != "" {
			return msg
		}
		s := value.(string)
		if _, err := mail.ParseAddress(s); err != nil {
			return "must be a valid email address"
		}
		return ""
	}, nil
}

func buildURL(c Constraints) (CheckFunc, error) {
	lengths, err := buildString(c)
	if err != nil {
		return nil, err
	}
	return func(value any) string {
		if msg := lengths(value); msg != "" {
			return msg
		}
		s := value.(string)
		u, err := url.Parse(s)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "must be a valid URL"
		}
		return ""
	}, nil
}

func buildIP(c Constraints) (CheckFunc, error) {
	var subnet *ipNet
	if c.Subnet != "" {
		n, err := parseSubnet(c.Subnet)
		if err != nil {
			return nil, fmt.Errorf("invalid subnet %q: %w", c.Subnet, err)
		}
		subnet = n
	}
	return func(value any) string {
		s, ok := value.(string)
		if !ok {
			return "must be an IPv4 address"
		}
		addr, err := parseIPValue(s)
		if err != nil {
			return "must be an IPv4 address"
		}
		if subnet != nil && !subnet.contains(addr) {
			return fmt.Sprintf("address is not inside %s", c.Subnet)
		}
		return ""
	}, nil
}

func buildMultiSelect(c Constraints) (CheckFunc, error) {
	allowed := make(map[string]bool, len(c.Options))
	for _, o := range c.Options {
		allowed[o] = true
	}
	minItems, maxItems := c.MinItems, c.MaxItems

	return func(value any) string {
		items, ok := value.([]any)
		if !ok {
			return "must be a list of options"
		}
		if msg := checkCardinality(len(items), minItems, maxItems); msg != "" {
			return msg
		}
		for _, item := range items {
			s, ok := item.(string)
			if !ok || !allowed[s] {
				return "value is not one of the allowed options"
			}
		}
		return ""
	}, nil
}

func buildList(c Constraints) (CheckFunc, error) {
	if !listItemKinds[c.ItemKind] {
		return nil, fmt.Errorf("list item kind %q is not allowed", c.ItemKind)
	}
	var itemConstraints Constraints
	if c.Item != nil {
		itemConstraints = *c.Item
	}
	itemCheck, err := kindBuilders[c.ItemKind](itemConstraints)
	if err != nil {
		return nil, err
	}
	minItems, maxItems := c.MinItems, c.MaxItems

	return func(value any) string {
		items, ok := value.([]any)
		if !ok {
			return "must be a list"
		}
		// Cardinality is independent of item validity.
		if msg := checkCardinality(len(items), minItems, maxItems); msg != "" {
			return msg
		}
		for i, item := range items {
			if msg := itemCheck(item); msg != "" {
				// First failing item wins.
				return fmt.Sprintf("item %d: %s", i+1, msg)
			}
		}
		return ""
	}, nil
}

func checkCardinality(n int, minItems, maxItems *int) string {
	if minItems != nil && n < *minItems {
		return fmt.Sprintf("at least %d items are required", *minItems)
	}
	if maxItems != nil && n > *maxItems {
		return fmt.Sprintf("at most %d items are allowed", *maxItems)
	}
	return ""
}
