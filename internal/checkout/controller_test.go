package checkout

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/harborline/storefront-go/internal/api"
	"github.com/harborline/storefront-go/internal/customer"
	"github.com/harborline/storefront-go/pkg/enums"
	pkgerrors "github.com/harborline/storefront-go/pkg/errors"
	"github.com/harborline/storefront-go/pkg/events"
	"github.com/harborline/storefront-go/pkg/logger"
	"github.com/harborline/storefront-go/pkg/types"
	"github.com/rs/zerolog"
)

type stubCheckoutAPI struct {
	listMethods func(ctx context.Context, cartID string) ([]types.PaymentMethod, error)
	submitOrder func(ctx context.Context, cartID string, input api.SubmitOrderInput) (*types.OrderDetails, error)
}

func (s *stubCheckoutAPI) ListPaymentMethods(ctx context.Context, cartID string) ([]types.PaymentMethod, error) {
	return s.listMethods(ctx, cartID)
}

func (s *stubCheckoutAPI) SubmitOrder(ctx context.Context, cartID string, input api.SubmitOrderInput) (*types.OrderDetails, error) {
	return s.submitOrder(ctx, cartID, input)
}

type stubCart struct {
	cart    *types.Cart
	refresh func(ctx context.Context) (*types.Cart, error)
}

func (s *stubCart) Current() *types.Cart { return s.cart }

func (s *stubCart) Refresh(ctx context.Context) (*types.Cart, error) {
	if s.refresh != nil {
		return s.refresh(ctx)
	}
	return s.cart, nil
}

type stubAuth struct {
	stage  enums.AuthStage
	onSet  func(email string)
	Checks int
}

func (s *stubAuth) Stage() enums.AuthStage { return s.stage }

func (s *stubAuth) SetEmail(email string) {
	if s.onSet != nil {
		s.onSet(email)
	}
}

func (s *stubAuth) CheckEmail(ctx context.Context) error {
	s.Checks++
	return nil
}

func physicalCart() *types.Cart {
	return &types.Cart{
		ID: "cart-1",
		Items: []types.CartItem{
			{ID: "line-1", ProductID: "prod-1", Quantity: 1},
		},
		RequiresShipping: true,
	}
}

func digitalCart() *types.Cart {
	cart := physicalCart()
	cart.RequiresShipping = false
	return cart
}

func twoMethods() []types.PaymentMethod {
	manualID := "bank-transfer"
	return []types.PaymentMethod{
		{GatewayID: "stripe", Name: "Card"},
		{GatewayID: "manual", ManualMethodID: &manualID, Name: "Bank transfer"},
	}
}

func oneAutomatedMethod() []types.PaymentMethod {
	return []types.PaymentMethod{{GatewayID: "stripe", Name: "Card"}}
}

type controllerFixture struct {
	ctrl *Controller
	cart *stubCart
	auth *stubAuth
	api  *stubCheckoutAPI
}

func newFixture(t *testing.T, cart *types.Cart, methods []types.PaymentMethod, opts Options) *controllerFixture {
	t.Helper()
	apiStub := &stubCheckoutAPI{
		listMethods: func(ctx context.Context, cartID string) ([]types.PaymentMethod, error) {
			return methods, nil
		},
		submitOrder: func(ctx context.Context, cartID string, input api.SubmitOrderInput) (*types.OrderDetails, error) {
			return &types.OrderDetails{ID: "order-1", OrderNumber: "1001", Status: enums.OrderStatusSuccess}, nil
		},
	}
	cartStub := &stubCart{cart: cart}
	authStub := &stubAuth{stage: enums.AuthStageDismissed}

	ctrl, err := NewController(ControllerParams{
		API:     apiStub,
		Cart:    cartStub,
		Auth:    authStub,
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard, Level: zerolog.ErrorLevel}),
		Options: opts,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return &controllerFixture{ctrl: ctrl, cart: cartStub, auth: authStub, api: apiStub}
}

func fillCustomer(ctrl *Controller) {
	ctrl.Drafts().Customer = customer.CustomerDraft{Email: "shopper@example.com"}
}

func fillShipping(ctrl *Controller) {
	ctrl.Drafts().Shipping = customer.AddressDraft{
		FirstName:  "Ada",
		LastName:   "Lovelace",
		Line1:      "10 Analytical Way",
		City:       "London",
		PostalCode: "EC1A 1BB",
		Country:    "GB",
	}
}

func fillBilling(ctrl *Controller) {
	ctrl.Drafts().Billing = customer.AddressDraft{
		FirstName:  "Grace",
		LastName:   "Hopper",
		Line1:      "1 Navy Yard",
		City:       "Arlington",
		PostalCode: "22202",
		Country:    "US",
	}
}

func TestCustomerStepValidationGate(t *testing.T) {
	fx := newFixture(t, physicalCart(), twoMethods(), Options{})
	ctx := context.Background()

	err := fx.ctrl.Next(ctx)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if fx.ctrl.Step() != enums.StepCustomer {
		t.Fatal("invalid customer data must not advance")
	}
	if fx.ctrl.FieldErrors(enums.StepCustomer)["email"] == "" {
		t.Fatal("expected email field error")
	}

	fillCustomer(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if fx.ctrl.Step() != enums.StepShipping {
		t.Fatalf("expected shipping, got %s", fx.ctrl.Step())
	}
	if len(fx.ctrl.FieldErrors(enums.StepCustomer)) != 0 {
		t.Fatal("field errors should clear on success")
	}
}

func TestActiveAuthChallengeBlocksCustomerStep(t *testing.T) {
	fx := newFixture(t, physicalCart(), twoMethods(), Options{})
	fx.auth.stage = enums.AuthStagePassword
	fillCustomer(fx.ctrl)

	if err := fx.ctrl.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if fx.ctrl.Step() != enums.StepCustomer {
		t.Fatal("active challenge must hold the customer step")
	}

	fx.auth.stage = enums.AuthStageResolved
	if err := fx.ctrl.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if fx.ctrl.Step() != enums.StepShipping {
		t.Fatalf("expected shipping after resolution, got %s", fx.ctrl.Step())
	}
}

func TestDigitalCartSkipsShipping(t *testing.T) {
	fx := newFixture(t, digitalCart(), twoMethods(), Options{})
	fillCustomer(fx.ctrl)

	if err := fx.ctrl.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if fx.ctrl.Step() != enums.StepBilling {
		t.Fatalf("digital cart should land on billing, got %s", fx.ctrl.Step())
	}
}

func TestSameAsBillingLandsOnPayment(t *testing.T) {
	fx := newFixture(t, physicalCart(), twoMethods(), Options{})
	ctx := context.Background()
	fillCustomer(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	fillShipping(fx.ctrl)

	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if fx.ctrl.Step() != enums.StepPayment {
		t.Fatalf("same-as-billing should land on payment, got %s", fx.ctrl.Step())
	}
}

func TestExplicitBillingStep(t *testing.T) {
	fx := newFixture(t, physicalCart(), twoMethods(), Options{})
	ctx := context.Background()
	fillCustomer(fx.ctrl)
	fx.ctrl.Drafts().SameAsBilling = false
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	fillShipping(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if fx.ctrl.Step() != enums.StepBilling {
		t.Fatalf("expected billing, got %s", fx.ctrl.Step())
	}
	fillBilling(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if fx.ctrl.Step() != enums.StepPayment {
		t.Fatalf("expected payment, got %s", fx.ctrl.Step())
	}
}

func TestSingleAutomatedGatewayAutoSkip(t *testing.T) {
	fx := newFixture(t, physicalCart(), oneAutomatedMethod(), Options{})
	ctx := context.Background()
	fillCustomer(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	fillShipping(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}

	if fx.ctrl.Step() != enums.StepReview {
		t.Fatalf("single gateway should auto-skip to review, got %s", fx.ctrl.Step())
	}
	if !fx.ctrl.PaymentSkipped() {
		t.Fatal("payment step should be flagged skipped")
	}
	selected := fx.ctrl.SelectedMethod()
	if selected == nil || selected.GatewayID != "stripe" {
		t.Fatalf("expected stripe pre-selected, got %+v", selected)
	}
}

func TestBackSkipsHiddenSteps(t *testing.T) {
	fx := newFixture(t, physicalCart(), oneAutomatedMethod(), Options{})
	ctx := context.Background()
	fillCustomer(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	fillShipping(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if fx.ctrl.Step() != enums.StepReview {
		t.Fatalf("setup: expected review, got %s", fx.ctrl.Step())
	}

	// Billing is folded into shipping and payment was auto-skipped, so
	// back from review lands on shipping.
	fx.ctrl.Back(ctx)
	if fx.ctrl.Step() != enums.StepShipping {
		t.Fatalf("expected shipping, got %s", fx.ctrl.Step())
	}
	fx.ctrl.Back(ctx)
	if fx.ctrl.Step() != enums.StepCustomer {
		t.Fatalf("expected customer, got %s", fx.ctrl.Step())
	}
}

func TestEditRejectsSkippedStep(t *testing.T) {
	fx := newFixture(t, physicalCart(), oneAutomatedMethod(), Options{})
	ctx := context.Background()
	fillCustomer(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	fillShipping(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}

	if err := fx.ctrl.Edit(ctx, enums.StepPayment); pkgerrors.CodeOf(err) != pkgerrors.CodeStateConflict {
		t.Fatalf("auto-skipped payment must not be editable, got %v", err)
	}
	if err := fx.ctrl.Edit(ctx, enums.StepShipping); err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if fx.ctrl.Step() != enums.StepShipping {
		t.Fatalf("expected shipping, got %s", fx.ctrl.Step())
	}
}

func TestEmptyCartExitsBeforePayment(t *testing.T) {
	fx := newFixture(t, physicalCart(), twoMethods(), Options{})
	ctx := context.Background()
	fillCustomer(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	fillShipping(fx.ctrl)

	// The cart empties mid-checkout.
	fx.cart.cart.Items = nil

	err := fx.ctrl.Next(ctx)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if !fx.ctrl.Exited() {
		t.Fatal("empty cart must exit the wizard")
	}
}

func TestTermsCheckboxGatesSubmission(t *testing.T) {
	fx := newFixture(t, physicalCart(), oneAutomatedMethod(), Options{Terms: enums.TermsModeRequiredCheckbox})
	ctx := context.Background()
	fillCustomer(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	fillShipping(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}

	_, err := fx.ctrl.Submit(ctx)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected terms validation error, got %v", err)
	}
	if pkgerrors.Fields(err)["terms"] == "" {
		t.Fatal("expected terms field error")
	}

	fx.ctrl.SetTermsAccepted(true)
	order, err := fx.ctrl.Submit(ctx)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if order.ID != "order-1" {
		t.Fatalf("unexpected order %+v", order)
	}
}

func TestSubmissionPayloadCopiesShippingToBilling(t *testing.T) {
	var got api.SubmitOrderInput
	fx := newFixture(t, physicalCart(), oneAutomatedMethod(), Options{})
	fx.api.submitOrder = func(ctx context.Context, cartID string, input api.SubmitOrderInput) (*types.OrderDetails, error) {
		got = input
		return &types.OrderDetails{ID: "order-1", Status: enums.OrderStatusSuccess}, nil
	}

	ctx := context.Background()
	fillCustomer(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	fillShipping(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if _, err := fx.ctrl.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if got.ShippingAddress == nil || got.BillingAddress == nil {
		t.Fatal("expected both addresses on the payload")
	}
	if *got.ShippingAddress != *got.BillingAddress {
		t.Fatal("billing must equal shipping when same-as-billing is set")
	}
	if got.IdempotencyKey == "" {
		t.Fatal("expected an idempotency key")
	}
}

func TestDigitalCartSubmitsEnteredBilling(t *testing.T) {
	var got api.SubmitOrderInput
	fx := newFixture(t, digitalCart(), oneAutomatedMethod(), Options{})
	fx.api.submitOrder = func(ctx context.Context, cartID string, input api.SubmitOrderInput) (*types.OrderDetails, error) {
		got = input
		return &types.OrderDetails{ID: "order-1", Status: enums.OrderStatusSuccess}, nil
	}

	ctx := context.Background()
	fillCustomer(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if fx.ctrl.Step() != enums.StepBilling {
		t.Fatalf("setup: expected billing, got %s", fx.ctrl.Step())
	}
	fillBilling(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if _, err := fx.ctrl.Submit(ctx); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if got.ShippingAddress != nil {
		t.Fatalf("digital cart must not ship an address, got %+v", got.ShippingAddress)
	}
	if got.BillingAddress == nil {
		t.Fatal("expected a billing address on the payload")
	}
	if got.BillingAddress.FirstName != "Grace" || got.BillingAddress.Line1 != "1 Navy Yard" {
		t.Fatalf("entered billing address must survive to submission, got %+v", *got.BillingAddress)
	}
}

func TestSubmissionErrorRouting(t *testing.T) {
	t.Run("cart validation routes to review", func(t *testing.T) {
		fx := newFixture(t, physicalCart(), oneAutomatedMethod(), Options{})
		fx.api.submitOrder = func(ctx context.Context, cartID string, input api.SubmitOrderInput) (*types.OrderDetails, error) {
			return nil, pkgerrors.New(pkgerrors.CodeCartValidation, "line item out of stock")
		}
		ctx := context.Background()
		fillCustomer(fx.ctrl)
		if err := fx.ctrl.Next(ctx); err != nil {
			t.Fatalf("Next: %v", err)
		}
		fillShipping(fx.ctrl)
		if err := fx.ctrl.Next(ctx); err != nil {
			t.Fatalf("Next: %v", err)
		}

		_, err := fx.ctrl.Submit(ctx)
		if pkgerrors.CodeOf(err) != pkgerrors.CodeCartValidation {
			t.Fatalf("expected cart validation error, got %v", err)
		}
		if fx.ctrl.Step() != enums.StepReview {
			t.Fatalf("cart rejection keeps review, got %s", fx.ctrl.Step())
		}
		if fx.ctrl.StepMessage(enums.StepReview) == "" {
			t.Fatal("expected review-scoped message")
		}
	})

	t.Run("payment decline routes to payment retry", func(t *testing.T) {
		fx := newFixture(t, physicalCart(), twoMethods(), Options{})
		fx.api.submitOrder = func(ctx context.Context, cartID string, input api.SubmitOrderInput) (*types.OrderDetails, error) {
			return nil, pkgerrors.New(pkgerrors.CodePayment, "card declined")
		}
		ctx := context.Background()
		fillCustomer(fx.ctrl)
		if err := fx.ctrl.Next(ctx); err != nil {
			t.Fatalf("Next: %v", err)
		}
		fillShipping(fx.ctrl)
		if err := fx.ctrl.Next(ctx); err != nil {
			t.Fatalf("Next: %v", err)
		}
		if err := fx.ctrl.SelectMethod("stripe"); err != nil {
			t.Fatalf("SelectMethod: %v", err)
		}
		if err := fx.ctrl.Next(ctx); err != nil {
			t.Fatalf("Next: %v", err)
		}

		_, err := fx.ctrl.Submit(ctx)
		if pkgerrors.CodeOf(err) != pkgerrors.CodePayment {
			t.Fatalf("expected payment error, got %v", err)
		}
		if fx.ctrl.Step() != enums.StepPayment {
			t.Fatalf("decline should route to payment, got %s", fx.ctrl.Step())
		}
		if fx.ctrl.StepMessage(enums.StepPayment) == "" {
			t.Fatal("expected payment-scoped message")
		}
	})
}

func TestStepChangeDoesNotWaitOnSubscribers(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	subCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := bus.Subscribe(subCtx, events.TopicStepChanged)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	apiStub := &stubCheckoutAPI{
		listMethods: func(ctx context.Context, cartID string) ([]types.PaymentMethod, error) {
			return twoMethods(), nil
		},
		submitOrder: func(ctx context.Context, cartID string, input api.SubmitOrderInput) (*types.OrderDetails, error) {
			return &types.OrderDetails{ID: "order-1"}, nil
		},
	}
	ctrl, err := NewController(ControllerParams{
		API:    apiStub,
		Cart:   &stubCart{cart: physicalCart()},
		Auth:   &stubAuth{stage: enums.AuthStageDismissed},
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard, Level: zerolog.ErrorLevel}),
		Bus:    bus,
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	// Nobody reads the subscription. The transition must still land and
	// the controller must stay responsive from other goroutines.
	ctx := context.Background()
	fillCustomer(ctrl)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := ctrl.Next(ctx); err != nil {
			t.Errorf("Next: %v", err)
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("transition blocked behind an unread subscriber")
	}
	if ctrl.Step() != enums.StepShipping {
		t.Fatalf("expected shipping, got %s", ctrl.Step())
	}

	// The event still arrives once the renderer catches up.
	select {
	case msg := <-msgs:
		var changed events.StepChanged
		if err := events.Decode(msg, &changed); err != nil {
			t.Fatalf("decode: %v", err)
		}
		msg.Ack()
		if changed.From != enums.StepCustomer.String() || changed.To != enums.StepShipping.String() {
			t.Fatalf("unexpected transition event %+v", changed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a step change event")
	}
}

func TestPaymentMethodsLoadedOnce(t *testing.T) {
	calls := 0
	fx := newFixture(t, physicalCart(), twoMethods(), Options{})
	methods := twoMethods()
	fx.api.listMethods = func(ctx context.Context, cartID string) ([]types.PaymentMethod, error) {
		calls++
		return methods, nil
	}

	ctx := context.Background()
	fillCustomer(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	fillShipping(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}

	// Bounce back and forth; the gateway list is reused.
	fx.ctrl.Back(ctx)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single methods fetch, got %d", calls)
	}
}

func TestReloadMethodsClearsAutoSkipOnSetChange(t *testing.T) {
	fx := newFixture(t, physicalCart(), oneAutomatedMethod(), Options{})
	ctx := context.Background()
	fillCustomer(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	fillShipping(fx.ctrl)
	if err := fx.ctrl.Next(ctx); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !fx.ctrl.PaymentSkipped() {
		t.Fatal("setup: expected auto-skip")
	}

	// Same set: skip flag survives.
	fx.api.listMethods = func(ctx context.Context, cartID string) ([]types.PaymentMethod, error) {
		return oneAutomatedMethod(), nil
	}
	if err := fx.ctrl.ReloadMethods(ctx); err != nil {
		t.Fatalf("ReloadMethods: %v", err)
	}
	if !fx.ctrl.PaymentSkipped() {
		t.Fatal("unchanged method set must keep the skip flag")
	}

	// New method appears: skip flag resets.
	fx.api.listMethods = func(ctx context.Context, cartID string) ([]types.PaymentMethod, error) {
		return twoMethods(), nil
	}
	if err := fx.ctrl.ReloadMethods(ctx); err != nil {
		t.Fatalf("ReloadMethods: %v", err)
	}
	if fx.ctrl.PaymentSkipped() {
		t.Fatal("changed method set must clear the skip flag")
	}
}
