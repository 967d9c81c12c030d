package enums

import "fmt"

// TermsMode is the merchant's terms-and-conditions configuration for the
// review step.
type TermsMode string

const (
	TermsModeNone             TermsMode = "none"
	TermsModeNotice           TermsMode = "notice"
	TermsModeRequiredCheckbox TermsMode = "required_checkbox"
)

var validTermsModes = []TermsMode{
	TermsModeNone,
	TermsModeNotice,
	TermsModeRequiredCheckbox,
}

// String implements fmt.Stringer.
func (t TermsMode) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TermsMode.
func (t TermsMode) IsValid() bool {
	for _, candidate := range validTermsModes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTermsMode converts raw input into a TermsMode.
func ParseTermsMode(value string) (TermsMode, error) {
	for _, candidate := range validTermsModes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid terms mode %q", value)
}
