package enums

import "fmt"

// CheckoutStep identifies one screen of the checkout wizard. Steps are
// ephemeral controller state, never persisted to the cart.
type CheckoutStep string

const (
	StepCustomer CheckoutStep = "customer"
	StepShipping CheckoutStep = "shipping"
	StepBilling  CheckoutStep = "billing"
	StepPayment  CheckoutStep = "payment"
	StepReview   CheckoutStep = "review"
)

// orderedSteps is the forward walking order of the wizard.
var orderedSteps = []CheckoutStep{
	StepCustomer,
	StepShipping,
	StepBilling,
	StepPayment,
	StepReview,
}

// OrderedSteps returns the forward step sequence.
func OrderedSteps() []CheckoutStep {
	out := make([]CheckoutStep, len(orderedSteps))
	copy(out, orderedSteps)
	return out
}

// String implements fmt.Stringer.
func (s CheckoutStep) String() string {
	return string(s)
}

// IsValid reports whether the value is a known CheckoutStep.
func (s CheckoutStep) IsValid() bool {
	for _, candidate := range orderedSteps {
		if candidate == s {
			return true
		}
	}
	return false
}

// Index returns the position of the step in walking order, or -1.
func (s CheckoutStep) Index() int {
	for i, candidate := range orderedSteps {
		if candidate == s {
			return i
		}
	}
	return -1
}

// Before reports whether s comes strictly before other in walking order.
func (s CheckoutStep) Before(other CheckoutStep) bool {
	return s.Index() >= 0 && other.Index() >= 0 && s.Index() < other.Index()
}

// ParseCheckoutStep converts raw input into a CheckoutStep.
func ParseCheckoutStep(value string) (CheckoutStep, error) {
	for _, candidate := range orderedSteps {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid checkout step %q", value)
}
