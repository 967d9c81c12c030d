package types

import (
	"github.com/shopspring/decimal"

	"github.com/harborline/storefront-go/pkg/enums"
)

// TaxLine is one jurisdiction-level component of the order's tax total.
type TaxLine struct {
	Name   string          `json:"name"`
	Rate   decimal.Decimal `json:"rate"`
	Amount Money           `json:"amount"`
}

// OrderDetails is the immutable snapshot of a submitted order. It is
// created only after submission and never mutated within the session.
type OrderDetails struct {
	ID          string  `json:"id"`
	OrderNumber string  `json:"order_number"`
	Email       string  `json:"email"`
	CreatedAt   *string `json:"created_at,omitempty"`

	Items    []CartItem `json:"items"`
	Totals   Totals     `json:"totals"`
	TaxLines []TaxLine  `json:"tax_lines,omitempty"`

	ShippingAddress *Address `json:"shipping_address,omitempty"`
	BillingAddress  *Address `json:"billing_address,omitempty"`

	Status enums.OrderStatus `json:"status"`
	// FailureCode carries the server's error classification when Status is
	// failure. Routing decisions use this code, never the message text.
	FailureCode *string `json:"failure_code,omitempty"`
}

// FailureKind maps the server's failure classification onto recovery routes.
func (o *OrderDetails) FailureKind() enums.FailureKind {
	if o == nil || o.FailureCode == nil {
		return enums.FailureKindUnknown
	}
	switch *o.FailureCode {
	case string(enums.FailureKindCart), "CART_VALIDATION_FAILED", "OUT_OF_STOCK", "ADDRESS_REJECTED":
		return enums.FailureKindCart
	case string(enums.FailureKindPayment), "PAYMENT_FAILED", "PAYMENT_DECLINED", "GATEWAY_ERROR":
		return enums.FailureKindPayment
	default:
		return enums.FailureKindUnknown
	}
}
