package enums

import "fmt"

// OrderStatus is the terminal classification of a submitted order as
// reported by the storefront API.
type OrderStatus string

const (
	OrderStatusSuccess  OrderStatus = "success"
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusFailure  OrderStatus = "failure"
	OrderStatusNotFound OrderStatus = "not_found"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusSuccess,
	OrderStatusPending,
	OrderStatusFailure,
	OrderStatusNotFound,
}

// String implements fmt.Stringer.
func (o OrderStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderStatus.
func (o OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status needs no further polling.
func (o OrderStatus) IsTerminal() bool {
	return o == OrderStatusSuccess || o == OrderStatusFailure || o == OrderStatusNotFound
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
