package types

import (
	"github.com/shopspring/decimal"

	"github.com/harborline/storefront-go/pkg/enums"
)

// Totals carries the server-computed money lines of a cart. The client
// never recomputes Total from the parts; it displays what the server sent.
type Totals struct {
	Subtotal Money `json:"subtotal"`
	Tax      Money `json:"tax"`
	Shipping Money `json:"shipping"`
	Discount Money `json:"discount"`
	Total    Money `json:"total"`
}

// Cart is the normalized cart snapshot returned by the storefront API.
type Cart struct {
	ID     string     `json:"id"`
	Items  []CartItem `json:"items"`
	Totals Totals     `json:"totals"`

	DiscountCode  *string            `json:"discount_code,omitempty"`
	DiscountType  enums.DiscountType `json:"discount_type,omitempty"`
	DiscountValue decimal.Decimal    `json:"discount_value"`

	RequiresShipping   bool `json:"requires_shipping"`
	HasShippingAddress bool `json:"has_shipping_address"`
	HasBillingAddress  bool `json:"has_billing_address"`

	// Post-checkout linkage, populated once the cart converts to an order.
	OrderStatus *enums.OrderStatus `json:"order_status,omitempty"`
	OrderID     *string            `json:"order_id,omitempty"`
}

// CartItem is one line of the cart.
type CartItem struct {
	ID              string                `json:"id"`
	ProductID       string                `json:"product_id"`
	VariantID       string                `json:"variant_id,omitempty"`
	Name            string                `json:"name"`
	Quantity        int                   `json:"quantity"`
	UnitPrice       Money                 `json:"unit_price"`
	Subtotal        Money                 `json:"subtotal"`
	InventoryPolicy enums.InventoryPolicy `json:"inventory_policy"`
	InventoryCount  *int                  `json:"inventory_count,omitempty"`
	ImageURL        *string               `json:"image_url,omitempty"`
}

// MaxQuantity returns the quantity cap for the line and whether one exists.
// Only the deny policy with a tracked count is capped.
func (i CartItem) MaxQuantity() (int, bool) {
	if i.InventoryPolicy != enums.InventoryPolicyDeny || i.InventoryCount == nil {
		return 0, false
	}
	return *i.InventoryCount, true
}

// IsEmpty reports whether the cart holds no items.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// HasDiscount reports whether a code is applied with a positive amount.
func (c *Cart) HasDiscount() bool {
	return c != nil && c.DiscountCode != nil && c.Totals.Discount.IsPositive()
}

// Currency returns the cart's display currency, defaulting from the
// subtotal line.
func (c *Cart) Currency() enums.Currency {
	if c == nil {
		return enums.CurrencyUSD
	}
	if c.Totals.Subtotal.Currency != "" {
		return c.Totals.Subtotal.Currency
	}
	return enums.CurrencyUSD
}

// SummaryRowKind tags a summary display row.
type SummaryRowKind string

const (
	RowSubtotal       SummaryRowKind = "subtotal"
	RowDiscount       SummaryRowKind = "discount"
	RowTax            SummaryRowKind = "tax"
	RowShipping       SummaryRowKind = "shipping"
	RowEstimatedTotal SummaryRowKind = "estimated_total"
	RowTotal          SummaryRowKind = "total"
)

// SummaryRow is one display line of the cart summary. Pending rows have no
// amount yet and are described as calculated at a later stage.
type SummaryRow struct {
	Kind    SummaryRowKind
	Amount  Money
	Pending bool
}

// SummaryRows renders the display invariant for cart totals: subtotal is
// always the pre-discount amount; a discount row plus an estimated-total row
// appear only while a positive discount is applied; tax and shipping are
// pending until the server has calculated them.
func (c *Cart) SummaryRows() []SummaryRow {
	if c == nil {
		return nil
	}

	rows := []SummaryRow{{Kind: RowSubtotal, Amount: c.Totals.Subtotal}}

	taxKnown := c.Totals.Tax.IsPositive()
	shippingKnown := c.Totals.Shipping.IsPositive() || !c.RequiresShipping

	if c.HasDiscount() {
		rows = append(rows, SummaryRow{Kind: RowDiscount, Amount: c.Totals.Discount.Neg()})

		estimated := c.Totals.Subtotal.Sub(c.Totals.Discount)
		if taxKnown {
			estimated = estimated.Add(c.Totals.Tax)
		}
		if c.RequiresShipping && c.Totals.Shipping.IsPositive() {
			estimated = estimated.Add(c.Totals.Shipping)
		}
		rows = append(rows, SummaryRow{Kind: RowEstimatedTotal, Amount: estimated})
	}

	rows = append(rows, SummaryRow{Kind: RowTax, Amount: c.Totals.Tax, Pending: !taxKnown})
	if c.RequiresShipping {
		rows = append(rows, SummaryRow{Kind: RowShipping, Amount: c.Totals.Shipping, Pending: !shippingKnown})
	}

	if !c.HasDiscount() && taxKnown && shippingKnown {
		rows = append(rows, SummaryRow{Kind: RowTotal, Amount: c.Totals.Total})
	}
	return rows
}

// Row returns the first summary row of the given kind, if present.
func (c *Cart) Row(kind SummaryRowKind) (SummaryRow, bool) {
	for _, row := range c.SummaryRows() {
		if row.Kind == kind {
			return row, true
		}
	}
	return SummaryRow{}, false
}
