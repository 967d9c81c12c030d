package enums

import "fmt"

// FailureKind classifies a failed order submission so the UI can route
// recovery: cart problems return to review, payment problems retry payment.
type FailureKind string

const (
	FailureKindCart    FailureKind = "cart_validation"
	FailureKindPayment FailureKind = "payment_processor"
	FailureKindUnknown FailureKind = "unknown"
)

var validFailureKinds = []FailureKind{
	FailureKindCart,
	FailureKindPayment,
	FailureKindUnknown,
}

// String implements fmt.Stringer.
func (f FailureKind) String() string {
	return string(f)
}

// IsValid reports whether the value is a known FailureKind.
func (f FailureKind) IsValid() bool {
	for _, candidate := range validFailureKinds {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFailureKind converts raw input into a FailureKind.
func ParseFailureKind(value string) (FailureKind, error) {
	for _, candidate := range validFailureKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid failure kind %q", value)
}
