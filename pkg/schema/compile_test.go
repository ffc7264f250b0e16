package schema

import (
	"strings"
	"testing"
)

func intp(n int) *int          { return &n }
func floatp(f float64) *float64 { return &f }

func mustCompile(t *testing.T, def FieldDefinition) CheckFunc {
	t.Helper()
	check, err := Compile(def)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return check
}

func TestRequiredSemantics(t *testing.T) {
	required := mustCompile(t, FieldDefinition{ID: "f1", Kind: KindText, Required: true})

	for _, v := range []any{nil, ""} {
		if msg := required(v); msg == "" {
			t.Errorf("required field accepted empty value %#v", v)
		}
	}

	// false and 0 are real values, not empties.
	boolCheck := mustCompile(t, FieldDefinition{ID: "f2", Kind: KindBoolean, Required: true})
	if msg := boolCheck(false); msg != "" {
		t.Errorf("required boolean rejected false: %q", msg)
	}
	numCheck := mustCompile(t, FieldDefinition{ID: "f3", Kind: KindNumber, Required: true})
	if msg := numCheck(float64(0)); msg != "" {
		t.Errorf("required number rejected 0: %q", msg)
	}
}

func TestOptionalEmptySkipsValidation(t *testing.T) {
	check := mustCompile(t, FieldDefinition{
		ID:          "f1",
		Kind:        KindText,
		Constraints: Constraints{MinLength: intp(5)},
	})
	if msg := check(""); msg != "" {
		t.Errorf("optional empty value should skip validation, got %q", msg)
	}
	if msg := check(nil); msg != "" {
		t.Errorf("optional nil value should skip validation, got %q", msg)
	}
	if msg := check("abc"); msg == "" {
		t.Error("short value should still fail the length constraint")
	}
}

func TestTextConstraints(t *testing.T) {
	check := mustCompile(t, FieldDefinition{
		ID:   "host",
		Kind: KindText,
		Constraints: Constraints{
			MinLength:      intp(2),
			MaxLength:      intp(8),
			Pattern:        "^[a-z]+$",
			PatternMessage: "lowercase letters only",
		},
	})

	if msg := check("server"); msg != "" {
		t.Errorf("valid value rejected: %q", msg)
	}
	if msg := check("x"); msg == "" {
		t.Error("too-short value accepted")
	}
	if msg := check("verylongname"); msg == "" {
		t.Error("too-long value accepted")
	}
	if msg := check("ABC"); msg != "lowercase letters only" {
		t.Errorf("expected custom pattern message, got %q", msg)
	}
	if msg := check(42); msg == "" {
		t.Error("non-string accepted by text field")
	}
}

func TestBadPatternIsConfigError(t *testing.T) {
	_, err := Compile(FieldDefinition{
		ID:          "f1",
		Kind:        KindText,
		Constraints: Constraints{Pattern: "("},
	})
	if err == nil {
		t.Fatal("expected a configuration error for an invalid pattern")
	}
}

func TestNumberCoercion(t *testing.T) {
	check := mustCompile(t, FieldDefinition{
		ID:          "cpu",
		Kind:        KindNumber,
		Constraints: Constraints{Min: floatp(1), Max: floatp(64)},
	})

	if msg := check(float64(8)); msg != "" {
		t.Errorf("float rejected: %q", msg)
	}
	if msg := check("16"); msg != "" {
		t.Errorf("numeric string rejected: %q", msg)
	}
	if msg := check("sixteen"); msg == "" {
		t.Error("non-numeric string accepted")
	}
	if msg := check(float64(0)); msg == "" {
		t.Error("below-minimum value accepted")
	}
	if msg := check("128"); msg == "" {
		t.Error("above-maximum value accepted")
	}
}

func TestDateRejectsNumbers(t *testing.T) {
	check := mustCompile(t, FieldDefinition{ID: "f1", Kind: KindDate})

	if msg := check("2026-01-15"); msg != "" {
		t.Errorf("plain date rejected: %q", msg)
	}
	if msg := check("2026-01-15T10:30:00Z"); msg != "" {
		t.Errorf("RFC3339 timestamp rejected: %q", msg)
	}
	if msg := check(float64(1700000000)); msg == "" {
		t.Error("raw epoch number accepted as date")
	}
	if msg := check(true); msg == "" {
		t.Error("boolean accepted as date")
	}
}

func TestOptionsSupersedeBaseValidator(t *testing.T) {
	check := mustCompile(t, FieldDefinition{
		ID:          "env",
		Kind:        KindSelect,
		Constraints: Constraints{Options: []string{"prod", "staging"}},
	})

	if msg := check("prod"); msg != "" {
		t.Errorf("listed option rejected: %q", msg)
	}
	if msg := check("dev"); msg == "" {
		t.Error("unlisted option accepted")
	}
	// Case-sensitive, verbatim match.
	if msg := check("Prod"); msg == "" {
		t.Error("case-mismatched option accepted")
	}
}

func TestMultiSelect(t *testing.T) {
	check := mustCompile(t, FieldDefinition{
		ID:   "tags",
		Kind: KindMultiSelect,
		Constraints: Constraints{
			Options:  []string{"web", "db", "cache"},
			MaxItems: intp(2),
		},
	})

	if msg := check([]any{"web", "db"}); msg != "" {
		t.Errorf("valid selection rejected: %q", msg)
	}
	if msg := check([]any{"web", "db", "cache"}); msg == "" {
		t.Error("over-limit selection accepted")
	}
	if msg := check([]any{"web", "mainframe"}); msg == "" {
		t.Error("unlisted option accepted")
	}
}

func TestEmailAndURL(t *testing.T) {
	email := mustCompile(t, FieldDefinition{ID: "f1", Kind: KindEmail})
	if msg := email("ops@example.com"); msg != "" {
		t.Errorf("valid email rejected: %q", msg)
	}
	if msg := email("not-an-email"); msg == "" {
		t.Error("invalid email accepted")
	}

	u := mustCompile(t, FieldDefinition{ID: "f2", Kind: KindURL})
	if msg := u("https://wiki.example.com/asset/1"); msg != "" {
		t.Errorf("valid URL rejected: %q", msg)
	}
	if msg := u("not a url"); msg == "" {
		t.Error("invalid URL accepted")
	}
}

func TestListField(t *testing.T) {
	check := mustCompile(t, FieldDefinition{
		ID:   "ports",
		Kind: KindList,
		Constraints: Constraints{
			ItemKind: KindNumber,
			Item:     &Constraints{Min: floatp(0), Max: floatp(100)},
			MinItems: intp(1),
			MaxItems: intp(5),
		},
	})

	if msg := check([]any{float64(1), float64(2)}); msg != "" {
		t.Errorf("valid list rejected: %q", msg)
	}
	if msg := check([]any{}); msg == "" {
		t.Error("empty list accepted despite min_items")
	}
	if msg := check([]any{float64(1), float64(2), float64(3), float64(4), float64(5), float64(6)}); msg == "" {
		t.Error("oversized list accepted despite max_items")
	}
	if msg := check([]any{float64(101)}); msg == "" {
		t.Error("out-of-range item accepted")
	}
	if msg := check([]any{"x", float64(1), float64(2)}); msg == "" {
		t.Error("wrong-kind item accepted")
	}
}

func TestNestedListIsConfigError(t *testing.T) {
	_, err := Compile(FieldDefinition{
		ID:          "f1",
		Kind:        KindList,
		Constraints: Constraints{ItemKind: KindList},
	})
	if err == nil {
		t.Fatal("nested list should be a configuration error")
	}
	_, err = Compile(FieldDefinition{
		ID:          "f2",
		Kind:        KindList,
		Constraints: Constraints{ItemKind: KindBoolean},
	})
	if err == nil {
		t.Fatal("boolean list items should be a configuration error")
	}
}

func TestUnknownKindIsConfigError(t *testing.T) {
	if _, err := Compile(FieldDefinition{ID: "f1", Kind: "hologram"}); err == nil {
		t.Fatal("unknown kind should be a configuration error")
	}
}

func TestValidateAllCollectsEveryFailure(t *testing.T) {
	defs := []FieldDefinition{
		{ID: "name", Kind: KindText, Required: true},
		{ID: "cpu", Kind: KindNumber, Constraints: Constraints{Min: floatp(1)}},
		{ID: "env", Kind: KindSelect, Constraints: Constraints{Options: []string{"prod"}}},
		{ID: "gone", Kind: KindText, Required: true, Deleted: true},
	}
	metadata := map[string]any{
		"cpu": float64(0),
		"env": "dev",
	}

	failures, err := ValidateAll(defs, metadata)
	if err != nil {
		t.Fatalf("ValidateAll failed: %v", err)
	}
	if len(failures) != 3 {
		t.Fatalf("expected 3 failures, got %d: %v", len(failures), failures)
	}
	for _, id := range []string{"name", "cpu", "env"} {
		if failures[id] == "" {
			t.Errorf("expected a failure for %q", id)
		}
	}
	if _, ok := failures["gone"]; ok {
		t.Error("soft-deleted definition was validated")
	}
}

func TestValidateOneMatchesValidateAll(t *testing.T) {
	def := FieldDefinition{
		ID:          "cpu",
		Kind:        KindNumber,
		Constraints: Constraints{Max: floatp(10)},
	}
	value := any(float64(99))

	single, err := ValidateOne(def, value)
	if err != nil {
		t.Fatalf("ValidateOne failed: %v", err)
	}
	all, err := ValidateAll([]FieldDefinition{def}, map[string]any{"cpu": value})
	if err != nil {
		t.Fatalf("ValidateAll failed: %v", err)
	}
	if single == "" || all["cpu"] != single {
		t.Errorf("messages diverge: single=%q all=%q", single, all["cpu"])
	}
}

func TestListItemMessageSurfaces(t *testing.T) {
	check := mustCompile(t, FieldDefinition{
		ID:   "contacts",
		Kind: KindList,
		Constraints: Constraints{
			ItemKind: KindEmail,
		},
	})
	msg := check([]any{"ok@example.com", "broken"})
	if msg == "" {
		t.Fatal("invalid item accepted")
	}
	if !strings.Contains(msg, "email") {
		t.Errorf("expected the item's own message, got %q", msg)
	}
}
