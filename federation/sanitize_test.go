package federation

import (
	"errors"
	"regexp"
	"testing"
)

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "already clean", input: "orders", want: "orders"},
		{name: "uppercase lowered", input: "Orders2024", want: "orders2024"},
		{name: "spaces become underscores", input: "Monthly Sales Report", want: "monthly_sales_report"},
		{name: "punctuation collapsed", input: "q3 -- revenue (final).csv", want: "q3_revenue_final_csv"},
		{name: "runs of underscores collapse", input: "a___b____c", want: "a_b_c"},
		{name: "leading and trailing trimmed", input: "__internal__", want: "internal"},
		{name: "leading digit gets prefix", input: "2024 budget", want: "ds_2024_budget"},
		{name: "uuid", input: "3f2b8c9e-1a47-4d20-9f1e-8b2a6c4d0e11", want: "ds_3f2b8c9e_1a47_4d20_9f1e_8b2a6c4d0e11"},
		{name: "unicode replaced", input: "ventes réelles", want: "ventes_r_elles"},
		{name: "surrounding whitespace", input: "  users  ", want: "users"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeIdentifier(tt.input)
			if err != nil {
				t.Fatalf("SanitizeIdentifier(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("SanitizeIdentifier(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if !identifierPattern.MatchString(got) {
				t.Errorf("SanitizeIdentifier(%q) = %q, does not match %s", tt.input, got, identifierPattern)
			}

			// Deterministic: a second call yields the identical result.
			again, err := SanitizeIdentifier(tt.input)
			if err != nil || again != got {
				t.Errorf("SanitizeIdentifier(%q) second call = %q, %v; want %q, nil", tt.input, again, err, got)
			}
		})
	}
}

func TestSanitizeIdentifierEmpty(t *testing.T) {
	for _, input := range []string{"", "   ", "---", "___", "!!!"} {
		if _, err := SanitizeIdentifier(input); !errors.Is(err, ErrEmptyName) {
			t.Errorf("SanitizeIdentifier(%q) error = %v, want ErrEmptyName", input, err)
		}
	}
}

func TestCatalogName(t *testing.T) {
	got, err := CatalogName("3f2b8c9e-1a47-4d20-9f1e-8b2a6c4d0e11")
	if err != nil {
		t.Fatalf("CatalogName error: %v", err)
	}
	if got != "ds_3f2b8c9e_1a47_4d20_9f1e_8b2a6c4d0e11" {
		t.Errorf("CatalogName = %q", got)
	}

	// Letter-leading ids still get the catalog namespace prefix.
	got, err = CatalogName("abc123")
	if err != nil {
		t.Fatalf("CatalogName error: %v", err)
	}
	if got != "ds_abc123" {
		t.Errorf("CatalogName(abc123) = %q, want ds_abc123", got)
	}

	// Distinct ids in the uuid space never collide.
	other, _ := CatalogName("3f2b8c9e-1a47-4d20-9f1e-8b2a6c4d0e12")
	if other == "ds_3f2b8c9e_1a47_4d20_9f1e_8b2a6c4d0e11" {
		t.Error("distinct datasource ids derived the same catalog name")
	}

	// The prefix is unconditional, so "1" and "ds-1" stay distinct.
	a, _ := CatalogName("1")
	b, _ := CatalogName("ds-1")
	if a == b {
		t.Errorf("CatalogName collision: %q for both \"1\" and \"ds-1\"", a)
	}
}
