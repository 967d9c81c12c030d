package enums

import "fmt"

// InventoryPolicy controls whether a line item may exceed tracked stock.
type InventoryPolicy string

const (
	// InventoryPolicyDeny caps quantity at the tracked inventory count.
	InventoryPolicyDeny InventoryPolicy = "deny"
	// InventoryPolicyContinue allows overselling past the tracked count.
	InventoryPolicyContinue InventoryPolicy = "continue"
)

var validInventoryPolicies = []InventoryPolicy{
	InventoryPolicyDeny,
	InventoryPolicyContinue,
}

// String implements fmt.Stringer.
func (p InventoryPolicy) String() string {
	return string(p)
}

// IsValid reports whether the value is a known InventoryPolicy.
func (p InventoryPolicy) IsValid() bool {
	for _, candidate := range validInventoryPolicies {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseInventoryPolicy converts raw input into an InventoryPolicy.
func ParseInventoryPolicy(value string) (InventoryPolicy, error) {
	for _, candidate := range validInventoryPolicies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid inventory policy %q", value)
}
