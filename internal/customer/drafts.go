package customer

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	pkgerrors "github.com/harborline/storefront-go/pkg/errors"
	"github.com/harborline/storefront-go/pkg/types"
	"go.uber.org/multierr"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// FieldOptions controls which optional customer fields the merchant's
// storefront collects.
type FieldOptions struct {
	RequireName  bool
	RequirePhone bool
}

// CustomerDraft accumulates identification-step input. Fields are partial
// until the step validates.
type CustomerDraft struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"omitempty,max=100"`
	LastName  string `json:"last_name" validate:"omitempty,max=100"`
	Phone     string `json:"phone" validate:"omitempty,min=7,max=20"`
}

// AddressDraft accumulates shipping or billing input.
type AddressDraft struct {
	FirstName  string `json:"first_name" validate:"required,max=100"`
	LastName   string `json:"last_name" validate:"required,max=100"`
	Company    string `json:"company" validate:"omitempty,max=120"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"omitempty,max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"omitempty,max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,iso3166_1_alpha2"`
	Phone      string `json:"phone" validate:"omitempty,min=7,max=20"`
}

// Validate runs synchronous field validation for the customer step.
func (d CustomerDraft) Validate(opts FieldOptions) pkgerrors.FieldErrors {
	fields := structErrors(validate.Struct(d))
	if opts.RequireName {
		if strings.TrimSpace(d.FirstName) == "" {
			fields = setField(fields, "first_name", "is required")
		}
		if strings.TrimSpace(d.LastName) == "" {
			fields = setField(fields, "last_name", "is required")
		}
	}
	if opts.RequirePhone && strings.TrimSpace(d.Phone) == "" {
		fields = setField(fields, "phone", "is required")
	}
	return fields
}

// Validate runs synchronous field validation for an address step.
func (d AddressDraft) Validate() pkgerrors.FieldErrors {
	return structErrors(validate.Struct(d))
}

func (d AddressDraft) Address() types.Address {
	return types.Address{
		FirstName:  strings.TrimSpace(d.FirstName),
		LastName:   strings.TrimSpace(d.LastName),
		Company:    strings.TrimSpace(d.Company),
		Line1:      strings.TrimSpace(d.Line1),
		Line2:      strings.TrimSpace(d.Line2),
		City:       strings.TrimSpace(d.City),
		State:      strings.TrimSpace(d.State),
		PostalCode: strings.TrimSpace(d.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(d.Country)),
		Phone:      strings.TrimSpace(d.Phone),
	}
}

func (d AddressDraft) IsZero() bool {
	return d == AddressDraft{}
}

func draftFromAddress(addr types.Address) AddressDraft {
	return AddressDraft{
		FirstName:  addr.FirstName,
		LastName:   addr.LastName,
		Company:    addr.Company,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

func structErrors(err error) pkgerrors.FieldErrors {
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return pkgerrors.FieldErrors{"_": "is invalid"}
	}
	fields := pkgerrors.FieldErrors{}
	for _, fieldErr := range errs {
		fields[fieldErr.Field()] = validationMessage(fieldErr)
	}
	return fields
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "email":
		return "must be a valid email"
	case "iso3166_1_alpha2":
		return "must be a two-letter country code"
	}
	return "is invalid"
}

func setField(fields pkgerrors.FieldErrors, name, message string) pkgerrors.FieldErrors {
	if fields == nil {
		fields = pkgerrors.FieldErrors{}
	}
	if _, exists := fields[name]; !exists {
		fields[name] = message
	}
	return fields
}

// Drafts owns the customer and address drafts across checkout steps and
// tracks which fields the user has touched, so pre-filling saved account
// details never clobbers in-progress edits.
type Drafts struct {
	Customer      CustomerDraft
	Shipping      AddressDraft
	Billing       AddressDraft
	SameAsBilling bool

	edited map[string]bool
}

func NewDrafts() *Drafts {
	return &Drafts{
		SameAsBilling: true,
		edited:        map[string]bool{},
	}
}

// MarkEdited records a user-driven change to a draft field. Keys are
// "<draft>.<json field>", e.g. "customer.email" or "shipping.line1".
func (d *Drafts) MarkEdited(key string) {
	if d.edited == nil {
		d.edited = map[string]bool{}
	}
	d.edited[key] = true
}

func (d *Drafts) Edited(key string) bool {
	return d.edited[key]
}

// ApplyAccount pre-fills drafts from a fetched customer account. Only
// fields that are empty and untouched are filled.
func (d *Drafts) ApplyAccount(account types.CustomerAccount) {
	fillString(&d.Customer.Email, account.Email, d.Edited("customer.email"))
	fillString(&d.Customer.FirstName, account.FirstName, d.Edited("customer.first_name"))
	fillString(&d.Customer.LastName, account.LastName, d.Edited("customer.last_name"))
	if account.Phone != nil {
		fillString(&d.Customer.Phone, *account.Phone, d.Edited("customer.phone"))
	}

	if account.DefaultShipping != nil {
		d.applyAddress(&d.Shipping, "shipping", *account.DefaultShipping)
	}
	if account.DefaultBilling != nil {
		d.applyAddress(&d.Billing, "billing", *account.DefaultBilling)
	}
}

func (d *Drafts) applyAddress(dst *AddressDraft, prefix string, addr types.Address) {
	saved := draftFromAddress(addr)
	fillString(&dst.FirstName, saved.FirstName, d.Edited(prefix+".first_name"))
	fillString(&dst.LastName, saved.LastName, d.Edited(prefix+".last_name"))
	fillString(&dst.Company, saved.Company, d.Edited(prefix+".company"))
	fillString(&dst.Line1, saved.Line1, d.Edited(prefix+".line1"))
	fillString(&dst.Line2, saved.Line2, d.Edited(prefix+".line2"))
	fillString(&dst.City, saved.City, d.Edited(prefix+".city"))
	fillString(&dst.State, saved.State, d.Edited(prefix+".state"))
	fillString(&dst.PostalCode, saved.PostalCode, d.Edited(prefix+".postal_code"))
	fillString(&dst.Country, saved.Country, d.Edited(prefix+".country"))
	fillString(&dst.Phone, saved.Phone, d.Edited(prefix+".phone"))
}

func fillString(dst *string, value string, edited bool) {
	if edited || strings.TrimSpace(*dst) != "" {
		return
	}
	*dst = value
}

// BillingAddress resolves the billing address for submission. With
// SameAsBilling set on a cart that ships, billing is a copy of shipping
// taken at submission time. When shipping is skipped there is nothing to
// copy, so the billing draft is always used.
func (d *Drafts) BillingAddress(requiresShipping bool) types.Address {
	if requiresShipping && d.SameAsBilling {
		return d.Shipping.Address()
	}
	return d.Billing.Address()
}

// ValidateForSubmission runs every applicable draft validation ahead of
// order submission and aggregates failures into one error.
func (d *Drafts) ValidateForSubmission(opts FieldOptions, requiresShipping bool) error {
	var err error
	if fields := d.Customer.Validate(opts); len(fields) > 0 {
		err = multierr.Append(err, pkgerrors.New(pkgerrors.CodeValidation, "customer details are incomplete").WithDetails(fields))
	}
	if requiresShipping {
		if fields := d.Shipping.Validate(); len(fields) > 0 {
			err = multierr.Append(err, pkgerrors.New(pkgerrors.CodeValidation, "shipping address is incomplete").WithDetails(fields))
		}
	}
	if !d.SameAsBilling || !requiresShipping {
		if fields := d.Billing.Validate(); len(fields) > 0 {
			err = multierr.Append(err, pkgerrors.New(pkgerrors.CodeValidation, "billing address is incomplete").WithDetails(fields))
		}
	}
	return err
}
