package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harborline/storefront-go/internal/api"
	"github.com/harborline/storefront-go/internal/customer"
	"github.com/harborline/storefront-go/pkg/enums"
	pkgerrors "github.com/harborline/storefront-go/pkg/errors"
	"github.com/harborline/storefront-go/pkg/events"
	"github.com/harborline/storefront-go/pkg/logger"
	"github.com/harborline/storefront-go/pkg/metrics"
	"github.com/harborline/storefront-go/pkg/types"
)

type checkoutAPI interface {
	ListPaymentMethods(ctx context.Context, cartID string) ([]types.PaymentMethod, error)
	SubmitOrder(ctx context.Context, cartID string, input api.SubmitOrderInput) (*types.OrderDetails, error)
}

type cartService interface {
	Current() *types.Cart
	Refresh(ctx context.Context) (*types.Cart, error)
}

type authService interface {
	Stage() enums.AuthStage
	SetEmail(email string)
	CheckEmail(ctx context.Context) error
}

// Options configure per-merchant wizard behavior.
type Options struct {
	Terms  enums.TermsMode
	Fields customer.FieldOptions
}

// Controller is the checkout wizard state machine. It exclusively owns
// the current step, the customer and address drafts, payment method
// selection, and step-scoped error state. Cart state is read through the
// cart service and never mutated here.
type Controller struct {
	api     checkoutAPI
	cart    cartService
	auth    authService
	logg    *logger.Logger
	metrics *metrics.CheckoutMetrics
	bus     *events.Bus
	opts    Options

	mu             sync.Mutex
	step           enums.CheckoutStep
	enteredAt      time.Time
	drafts         *customer.Drafts
	termsAccepted  bool
	methods        []types.PaymentMethod
	methodsLoaded  bool
	selected       *types.PaymentMethod
	paymentSkipped bool
	fieldErrors    map[enums.CheckoutStep]pkgerrors.FieldErrors
	stepMessages   map[enums.CheckoutStep]string
	idempotencyKey string
	submitting     bool
	exited         bool
}

type ControllerParams struct {
	API     checkoutAPI
	Cart    cartService
	Auth    authService
	Logger  *logger.Logger
	Metrics *metrics.CheckoutMetrics
	Bus     *events.Bus
	Options Options
}

func NewController(params ControllerParams) (*Controller, error) {
	if params.API == nil {
		return nil, fmt.Errorf("checkout api required")
	}
	if params.Cart == nil {
		return nil, fmt.Errorf("cart service required")
	}
	if params.Auth == nil {
		return nil, fmt.Errorf("auth service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	opts := params.Options
	if opts.Terms == "" {
		opts.Terms = enums.TermsModeNone
	}
	return &Controller{
		api:          params.API,
		cart:         params.Cart,
		auth:         params.Auth,
		logg:         params.Logger,
		metrics:      params.Metrics,
		bus:          params.Bus,
		opts:         opts,
		step:         enums.StepCustomer,
		enteredAt:    time.Now(),
		drafts:       customer.NewDrafts(),
		fieldErrors:  map[enums.CheckoutStep]pkgerrors.FieldErrors{},
		stepMessages: map[enums.CheckoutStep]string{},
	}, nil
}

func (c *Controller) Step() enums.CheckoutStep {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// Drafts exposes the mutable customer and address drafts.
func (c *Controller) Drafts() *customer.Drafts {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drafts
}

// Exited reports whether the wizard was abandoned by a fatal condition.
func (c *Controller) Exited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exited
}

// PaymentSkipped reports whether the payment step was auto-skipped for a
// single automated gateway. The review step offers no payment Edit while
// set.
func (c *Controller) PaymentSkipped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paymentSkipped
}

// SelectedMethod returns the chosen payment method, nil before selection.
func (c *Controller) SelectedMethod() *types.PaymentMethod {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Methods returns the available payment methods once loaded.
func (c *Controller) Methods() []types.PaymentMethod {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.methods
}

// FieldErrors returns the step's field-scoped validation errors.
func (c *Controller) FieldErrors(step enums.CheckoutStep) pkgerrors.FieldErrors {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fieldErrors[step]
}

// StepMessage returns the step's submission-time error banner, if any.
func (c *Controller) StepMessage(step enums.CheckoutStep) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stepMessages[step]
}

func (c *Controller) SetTermsAccepted(accepted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.termsAccepted = accepted
}

// SelectMethod picks a payment method by key.
func (c *Controller) SelectMethod(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.methods {
		if c.methods[i].Key() == key {
			c.selected = &c.methods[i]
			delete(c.stepMessages, enums.StepPayment)
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeNotFound, "unknown payment method")
}

// Next advances out of the current step once it validates. Auth gating on
// the customer step keeps the wizard there until the sub-flow settles.
func (c *Controller) Next(ctx context.Context) error {
	c.mu.Lock()
	if c.exited {
		c.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeStateConflict, "checkout has exited")
	}
	step := c.step
	c.mu.Unlock()

	switch step {
	case enums.StepCustomer:
		return c.leaveCustomer(ctx)
	case enums.StepShipping:
		return c.leaveShipping(ctx)
	case enums.StepBilling:
		return c.leaveBilling(ctx)
	case enums.StepPayment:
		return c.leavePayment(ctx)
	case enums.StepReview:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "use Submit to leave review")
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("unknown step %q", step))
}

// Back returns to the nearest prior step that was not skipped. Going
// backward has no validation gate.
func (c *Controller) Back(ctx context.Context) {
	publish := func() {}
	c.mu.Lock()
	if prev, ok := c.previousVisibleLocked(c.step); ok {
		publish = c.moveLocked(ctx, prev)
	}
	c.mu.Unlock()
	publish()
}

// Edit jumps to an earlier step from review. Skipped steps cannot be
// edited into.
func (c *Controller) Edit(ctx context.Context, target enums.CheckoutStep) error {
	c.mu.Lock()
	if !target.Before(c.step) {
		c.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeStateConflict, "can only edit an earlier step")
	}
	if c.stepSkippedLocked(target) {
		c.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeStateConflict, "step is not part of this checkout")
	}
	publish := c.moveLocked(ctx, target)
	c.mu.Unlock()
	publish()
	return nil
}

func (c *Controller) leaveCustomer(ctx context.Context) error {
	c.mu.Lock()
	draft := c.drafts.Customer
	opts := c.opts.Fields
	c.mu.Unlock()

	fields := draft.Validate(opts)
	c.setFieldErrors(enums.StepCustomer, fields)
	if len(fields) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer details are incomplete").WithDetails(fields)
	}

	c.auth.SetEmail(draft.Email)
	if !c.auth.Stage().IsSettled() {
		if err := c.auth.CheckEmail(ctx); err != nil {
			return err
		}
		if !c.auth.Stage().IsSettled() {
			// A challenge is active; the wizard stays on the customer
			// step until it resolves or is dismissed.
			return nil
		}
	}

	c.mu.Lock()
	if c.step != enums.StepCustomer {
		// A slow check response must not move the wizard after the
		// customer already navigated.
		c.mu.Unlock()
		return nil
	}
	cart := c.cart.Current()
	if cart == nil {
		c.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeStateConflict, "no cart loaded")
	}
	next := enums.StepShipping
	if !cart.RequiresShipping {
		next = enums.StepBilling
	}
	publish := c.moveLocked(ctx, next)
	c.mu.Unlock()
	publish()
	return nil
}

func (c *Controller) leaveShipping(ctx context.Context) error {
	c.mu.Lock()
	draft := c.drafts.Shipping
	same := c.drafts.SameAsBilling
	c.mu.Unlock()

	fields := draft.Validate()
	c.setFieldErrors(enums.StepShipping, fields)
	if len(fields) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "shipping address is incomplete").WithDetails(fields)
	}

	if same {
		return c.enterPayment(ctx)
	}
	c.mu.Lock()
	publish := c.moveLocked(ctx, enums.StepBilling)
	c.mu.Unlock()
	publish()
	return nil
}

func (c *Controller) leaveBilling(ctx context.Context) error {
	c.mu.Lock()
	draft := c.drafts.Billing
	c.mu.Unlock()

	fields := draft.Validate()
	c.setFieldErrors(enums.StepBilling, fields)
	if len(fields) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "billing address is incomplete").WithDetails(fields)
	}
	return c.enterPayment(ctx)
}

func (c *Controller) leavePayment(ctx context.Context) error {
	c.mu.Lock()
	if c.selected == nil {
		c.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeValidation, "select a payment method")
	}
	publish := c.moveLocked(ctx, enums.StepReview)
	c.mu.Unlock()
	publish()
	return nil
}

// enterPayment loads the available methods and applies the single-gateway
// auto-skip. A cart that emptied mid-checkout exits the wizard instead.
func (c *Controller) enterPayment(ctx context.Context) error {
	cart := c.cart.Current()
	if cart == nil || cart.IsEmpty() {
		c.exit(ctx, "cart is empty")
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cart is empty")
	}

	methods, err := c.loadMethods(ctx, cart.ID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	var publish func()
	if len(methods) == 1 && !methods[0].IsManual() {
		c.selected = &methods[0]
		c.paymentSkipped = true
		publish = c.moveLocked(ctx, enums.StepReview)
	} else {
		c.paymentSkipped = false
		publish = c.moveLocked(ctx, enums.StepPayment)
	}
	c.mu.Unlock()
	publish()
	return nil
}

// loadMethods fetches the gateway list once and reuses it for the rest of
// the checkout. A changed method set on a refresh clears the auto-skip.
func (c *Controller) loadMethods(ctx context.Context, cartID string) ([]types.PaymentMethod, error) {
	c.mu.Lock()
	if c.methodsLoaded {
		methods := c.methods
		c.mu.Unlock()
		return methods, nil
	}
	c.mu.Unlock()

	methods, err := c.api.ListPaymentMethods(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if len(methods) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "no payment methods available")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.methodsLoaded {
		return c.methods, nil
	}
	c.methods = methods
	c.methodsLoaded = true
	return methods, nil
}

// ReloadMethods re-fetches the gateway list, e.g. after a cart change that
// could alter eligibility. The auto-skip only resets when the set of
// methods actually changed.
func (c *Controller) ReloadMethods(ctx context.Context) error {
	cart := c.cart.Current()
	if cart == nil {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "no cart loaded")
	}
	methods, err := c.api.ListPaymentMethods(ctx, cart.ID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if methodSetEqual(c.methods, methods) {
		return nil
	}
	c.methods = methods
	c.methodsLoaded = true
	c.paymentSkipped = false
	if c.selected != nil {
		key := c.selected.Key()
		c.selected = nil
		for i := range methods {
			if methods[i].Key() == key {
				c.selected = &methods[i]
				break
			}
		}
	}
	return nil
}

// Submit validates the full checkout and posts the order. Failure codes
// route the shopper: cart/stock rejections back to review, payment
// declines back to payment for a retry.
func (c *Controller) Submit(ctx context.Context) (*types.OrderDetails, error) {
	c.mu.Lock()
	if c.exited {
		c.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "checkout has exited")
	}
	if c.step != enums.StepReview {
		c.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "submission requires the review step")
	}
	if c.submitting {
		c.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "submission already in progress")
	}
	if c.opts.Terms == enums.TermsModeRequiredCheckbox && !c.termsAccepted {
		c.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "accept the terms to continue").
			WithDetails(pkgerrors.FieldErrors{"terms": "must be accepted"})
	}
	if c.selected == nil {
		c.mu.Unlock()
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "select a payment method")
	}
	c.submitting = true
	if c.idempotencyKey == "" {
		c.idempotencyKey = uuid.NewString()
	}
	key := c.idempotencyKey
	selected := *c.selected
	drafts := c.drafts
	fieldOpts := c.opts.Fields
	terms := c.termsAccepted
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.submitting = false
		c.mu.Unlock()
	}()

	// Fresh snapshot before leaving review: stock and totals re-confirmed.
	cart, err := c.cart.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		c.exit(ctx, "cart is empty")
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cart is empty")
	}

	if err := drafts.ValidateForSubmission(fieldOpts, cart.RequiresShipping); err != nil {
		return nil, err
	}

	input := api.SubmitOrderInput{
		Email:          drafts.Customer.Email,
		FirstName:      drafts.Customer.FirstName,
		LastName:       drafts.Customer.LastName,
		Phone:          drafts.Customer.Phone,
		GatewayID:      selected.GatewayID,
		ManualMethodID: selected.ManualMethodID,
		TermsAccepted:  terms,
		IdempotencyKey: key,
	}
	if cart.RequiresShipping {
		shipping := drafts.Shipping.Address()
		input.ShippingAddress = &shipping
	}
	billing := drafts.BillingAddress(cart.RequiresShipping)
	input.BillingAddress = &billing

	ctx = c.logg.WithCartID(ctx, cart.ID)
	order, err := c.api.SubmitOrder(ctx, cart.ID, input)
	if err != nil {
		c.routeSubmissionError(ctx, err)
		return nil, err
	}

	c.mu.Lock()
	c.idempotencyKey = ""
	delete(c.stepMessages, enums.StepReview)
	delete(c.stepMessages, enums.StepPayment)
	c.mu.Unlock()

	c.logg.Info(c.logg.WithOrderID(ctx, order.ID), "order submitted")
	return order, nil
}

func (c *Controller) routeSubmissionError(ctx context.Context, err error) {
	wrapped := pkgerrors.As(err)
	message := "Something went wrong. Please try again."
	if wrapped != nil {
		message = wrapped.Message()
	}

	publish := func() {}
	c.mu.Lock()
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeCartValidation:
		// A new key: the rejected attempt will not be retried as-is.
		c.idempotencyKey = ""
		c.stepMessages[enums.StepReview] = message
	case pkgerrors.CodePayment:
		c.stepMessages[enums.StepPayment] = message
		if !c.paymentSkipped {
			publish = c.moveLocked(ctx, enums.StepPayment)
		} else {
			c.stepMessages[enums.StepReview] = message
		}
	default:
		c.stepMessages[enums.StepReview] = message
	}
	c.mu.Unlock()
	publish()
}

func (c *Controller) setFieldErrors(step enums.CheckoutStep, fields pkgerrors.FieldErrors) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(fields) == 0 {
		delete(c.fieldErrors, step)
		return
	}
	c.fieldErrors[step] = fields
}

func (c *Controller) stepSkippedLocked(step enums.CheckoutStep) bool {
	cart := c.cart.Current()
	switch step {
	case enums.StepShipping:
		return cart != nil && !cart.RequiresShipping
	case enums.StepBilling:
		return c.drafts.SameAsBilling && (cart == nil || cart.RequiresShipping)
	case enums.StepPayment:
		return c.paymentSkipped
	}
	return false
}

func (c *Controller) previousVisibleLocked(from enums.CheckoutStep) (enums.CheckoutStep, bool) {
	steps := enums.OrderedSteps()
	idx := from.Index()
	for i := idx - 1; i >= 0; i-- {
		if !c.stepSkippedLocked(steps[i]) {
			return steps[i], true
		}
	}
	return "", false
}

// moveLocked applies the step transition and hands back the bus publish
// for the caller to run after releasing c.mu. Bus delivery can block on a
// lagging subscriber and must never do so while the controller is locked.
func (c *Controller) moveLocked(ctx context.Context, to enums.CheckoutStep) func() {
	from := c.step
	if from == to {
		return func() {}
	}
	c.metrics.ObserveStepDuration(from.String(), time.Since(c.enteredAt))
	c.metrics.ObserveTransition(from.String(), to.String())
	c.step = to
	c.enteredAt = time.Now()
	if c.bus == nil {
		return func() {}
	}
	return func() {
		if err := c.bus.Publish(events.TopicStepChanged, events.StepChanged{
			From: from.String(),
			To:   to.String(),
		}); err != nil {
			c.logg.Warn(ctx, "publish step change failed")
		}
	}
}

func (c *Controller) exit(ctx context.Context, reason string) {
	c.mu.Lock()
	if c.exited {
		c.mu.Unlock()
		return
	}
	c.exited = true
	step := c.step
	c.mu.Unlock()

	if c.bus != nil {
		if err := c.bus.Publish(events.TopicCheckoutExited, events.CheckoutExited{Reason: reason}); err != nil {
			c.logg.Warn(ctx, "publish checkout exit failed")
		}
	}
	c.logg.Warn(c.logg.WithStep(ctx, step.String()), "checkout exited: "+reason)
}

func methodSetEqual(a, b []types.PaymentMethod) bool {
	if len(a) != len(b) {
		return false
	}
	keys := make(map[string]bool, len(a))
	for _, m := range a {
		keys[m.Key()] = true
	}
	for _, m := range b {
		if !keys[m.Key()] {
			return false
		}
	}
	return true
}
