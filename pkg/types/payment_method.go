package types

// PaymentMethod is one gateway the customer may pay with. Selection is
// exclusive: at most one method is selected at a time.
type PaymentMethod struct {
	GatewayID      string  `json:"gateway_id"`
	ManualMethodID *string `json:"manual_method_id,omitempty"`
	Name           string  `json:"name"`
	Description    string  `json:"description,omitempty"`
	IconURL        *string `json:"icon_url,omitempty"`
}

// IsManual reports whether the method is a manual gateway (e.g. bank
// transfer) rather than an automated processor.
func (p PaymentMethod) IsManual() bool {
	return p.ManualMethodID != nil && *p.ManualMethodID != ""
}

// Key identifies the method for exclusive selection.
func (p PaymentMethod) Key() string {
	if p.IsManual() {
		return p.GatewayID + ":" + *p.ManualMethodID
	}
	return p.GatewayID
}
