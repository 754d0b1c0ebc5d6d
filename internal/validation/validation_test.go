package validation

import (
	"testing"
)

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2", true},
		{"4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T", true},
		{"So11111111111111111111111111111111111111112", true},
		{"", false},
		{"0x1234567890123456789012345678901234567890", false}, // hex, not base58
		{"short", false},
		{"contains0invalid0chars0contains0invalid0chars", false}, // 0 is not base58
		{"IIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIIII", false},          // I is not base58
	}

	for _, tt := range tests {
		if got := IsValidAddress(tt.addr); got != tt.valid {
			t.Errorf("IsValidAddress(%q) = %v, want %v", tt.addr, got, tt.valid)
		}
	}
}

func TestIsValidHex(t *testing.T) {
	if !IsValidHex("deadbeef") {
		t.Error("deadbeef should be valid hex")
	}
	if IsValidHex("not-hex") {
		t.Error("not-hex should be invalid")
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello  ", 100); got != "hello" {
		t.Errorf("expected trimmed string, got %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("expected truncation, got %q", got)
	}
	if got := SanitizeString("a\x00b", 100); got != "ab" {
		t.Errorf("expected null bytes removed, got %q", got)
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("name", ""),
		ValidAddress("addr", "invalid"),
		PositiveAmount("amount", 0),
	)
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), errs)
	}

	errs = Validate(
		Required("name", "agent"),
		ValidAddress("addr", "7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2"),
		PositiveAmount("amount", 1),
	)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestValidCommitment(t *testing.T) {
	ok := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if err := ValidCommitment("commitment", ok)(); err != nil {
		t.Errorf("valid commitment rejected: %v", err)
	}
	if err := ValidCommitment("commitment", "abc")(); err == nil {
		t.Error("short commitment accepted")
	}
	if err := ValidCommitment("commitment", ok[:63]+"z")(); err == nil {
		t.Error("non-hex commitment accepted")
	}
}

func TestValidationErrorsError(t *testing.T) {
	var empty ValidationErrors
	if empty.Error() != "validation failed" {
		t.Errorf("unexpected empty error message: %q", empty.Error())
	}

	errs := ValidationErrors{{Field: "amount", Message: "amount must be greater than zero"}}
	if errs.Error() != "amount: amount must be greater than zero" {
		t.Errorf("unexpected error message: %q", errs.Error())
	}
}
