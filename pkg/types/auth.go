package types

// CustomerCheckResult classifies an email address server-side. It drives
// the authentication sub-flow branch on the customer step.
type CustomerCheckResult struct {
	Exists      bool `json:"exists"`
	HasPassword bool `json:"has_password"`
}

// CustomerAccount is the saved profile of an authenticated customer.
type CustomerAccount struct {
	ID              string   `json:"id"`
	Email           string   `json:"email"`
	FirstName       string   `json:"first_name,omitempty"`
	LastName        string   `json:"last_name,omitempty"`
	Phone           *string  `json:"phone,omitempty"`
	DefaultShipping *Address `json:"default_shipping,omitempty"`
	DefaultBilling  *Address `json:"default_billing,omitempty"`
}

// AuthResponse is returned by password login and OTP verification.
type AuthResponse struct {
	AccessToken string           `json:"access_token"`
	Customer    *CustomerAccount `json:"customer,omitempty"`
}
