// Package storefront is an embeddable checkout SDK for merchant sites: a
// cart model and a multi-step checkout wizard driven against the merchant's
// storefront REST API. The rendering layer consumes the widget's query
// surface and event bus; the widget owns all state and transitions.
package storefront

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/harborline/storefront-go/internal/api"
	"github.com/harborline/storefront-go/internal/authflow"
	"github.com/harborline/storefront-go/internal/cart"
	"github.com/harborline/storefront-go/internal/checkout"
	"github.com/harborline/storefront-go/internal/customer"
	"github.com/harborline/storefront-go/internal/orderresult"
	"github.com/harborline/storefront-go/pkg/config"
	"github.com/harborline/storefront-go/pkg/enums"
	pkgerrors "github.com/harborline/storefront-go/pkg/errors"
	"github.com/harborline/storefront-go/pkg/events"
	"github.com/harborline/storefront-go/pkg/logger"
	"github.com/harborline/storefront-go/pkg/metrics"
	"github.com/harborline/storefront-go/pkg/session"
	"github.com/harborline/storefront-go/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
)

// Widget is the composition root: one instance per embedded storefront.
type Widget struct {
	cfg     *config.Config
	logg    *logger.Logger
	bus     *events.Bus
	metrics *metrics.CheckoutMetrics
	session *session.Session
	client  *api.Client

	cart     *cart.Service
	auth     *authflow.Service
	checkout *checkout.Controller

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	result *orderresult.Handler
}

// Option customizes widget construction.
type Option func(*options)

type options struct {
	logger     *logger.Logger
	registerer prometheus.Registerer
	httpClient *http.Client
	checkout   checkout.Options
}

// WithLogger replaces the default logger.
func WithLogger(logg *logger.Logger) Option {
	return func(o *options) { o.logger = logg }
}

// WithMetrics registers the widget's metrics on the given registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithHTTPClient replaces the API transport, e.g. for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithCheckoutOptions sets per-merchant wizard behavior: terms mode and
// which customer fields are collected.
func WithCheckoutOptions(opts checkout.Options) Option {
	return func(o *options) { o.checkout = opts }
}

// New wires a widget against the configured storefront API.
func New(cfg *config.Config, opts ...Option) (*Widget, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logg := o.logger
	if logg == nil {
		logg = logger.New(logger.Options{
			ServiceName: "storefront",
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
		})
	}

	sess := session.New()

	clientOpts := []api.Option{api.WithTokenSource(sess.Token)}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, api.WithHTTPClient(o.httpClient))
	}
	client, err := api.NewClient(cfg.API, clientOpts...)
	if err != nil {
		return nil, err
	}

	var checkoutMetrics *metrics.CheckoutMetrics
	if o.registerer != nil {
		checkoutMetrics = metrics.NewCheckoutMetrics(o.registerer)
	}

	bus := events.NewBus()

	cartService, err := cart.NewService(cart.ServiceParams{
		API:     client,
		Logger:  logg,
		Metrics: checkoutMetrics,
		Bus:     bus,
	})
	if err != nil {
		return nil, err
	}

	authService, err := authflow.NewService(authflow.ServiceParams{
		API:     client,
		Session: sess,
		Logger:  logg,
		Metrics: checkoutMetrics,
		Bus:     bus,
		Config:  cfg.Auth,
	})
	if err != nil {
		return nil, err
	}

	controller, err := checkout.NewController(checkout.ControllerParams{
		API:     client,
		Cart:    cartService,
		Auth:    authService,
		Logger:  logg,
		Metrics: checkoutMetrics,
		Bus:     bus,
		Options: o.checkout,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Widget{
		cfg:      cfg,
		logg:     logg,
		bus:      bus,
		metrics:  checkoutMetrics,
		session:  sess,
		client:   client,
		cart:     cartService,
		auth:     authService,
		checkout: controller,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Close stops background work and the event bus.
func (w *Widget) Close() error {
	w.cancel()
	return w.bus.Close()
}

// Subscribe delivers widget events for a topic until ctx is cancelled.
func (w *Widget) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return w.bus.Subscribe(ctx, topic)
}

// ── Cart ────────────────────────────────────────────────────────────────

// LoadCart fetches the cart the widget will check out.
func (w *Widget) LoadCart(ctx context.Context, cartID string) (*types.Cart, error) {
	return w.cart.Load(ctx, cartID)
}

// Cart returns the latest server-confirmed snapshot.
func (w *Widget) Cart() *types.Cart {
	return w.cart.Current()
}

func (w *Widget) AddItem(ctx context.Context, input api.AddItemInput) (*types.Cart, error) {
	return w.cart.AddItem(ctx, input)
}

func (w *Widget) UpdateQuantity(ctx context.Context, itemID string, quantity int) (*types.Cart, error) {
	return w.cart.UpdateQuantity(ctx, itemID, quantity)
}

func (w *Widget) RemoveItem(ctx context.Context, itemID string) (*types.Cart, error) {
	return w.cart.RemoveItem(ctx, itemID)
}

func (w *Widget) ApplyCoupon(ctx context.Context, code string) (*types.Cart, error) {
	return w.cart.ApplyCoupon(ctx, code)
}

func (w *Widget) RemoveCoupon(ctx context.Context) (*types.Cart, error) {
	return w.cart.RemoveCoupon(ctx)
}

// ── Checkout wizard ─────────────────────────────────────────────────────

func (w *Widget) Step() enums.CheckoutStep {
	return w.checkout.Step()
}

// Drafts exposes the per-step draft data and their validation state.
func (w *Widget) Drafts() *customer.Drafts {
	return w.checkout.Drafts()
}

func (w *Widget) FieldErrors(step enums.CheckoutStep) pkgerrors.FieldErrors {
	return w.checkout.FieldErrors(step)
}

func (w *Widget) StepMessage(step enums.CheckoutStep) string {
	return w.checkout.StepMessage(step)
}

// OnCustomerChange records an edit to a customer-step field. Changing the
// email restarts email classification.
func (w *Widget) OnCustomerChange(field, value string) {
	drafts := w.checkout.Drafts()
	switch field {
	case "email":
		drafts.Customer.Email = value
		w.auth.SetEmail(value)
	case "first_name":
		drafts.Customer.FirstName = value
	case "last_name":
		drafts.Customer.LastName = value
	case "phone":
		drafts.Customer.Phone = value
	default:
		return
	}
	drafts.MarkEdited("customer." + field)
}

// OnAddressChange records an edit to a shipping or billing field. The
// scope is "shipping" or "billing".
func (w *Widget) OnAddressChange(scope, field, value string) {
	drafts := w.checkout.Drafts()
	var dst *customer.AddressDraft
	switch scope {
	case "shipping":
		dst = &drafts.Shipping
	case "billing":
		dst = &drafts.Billing
	default:
		return
	}
	switch field {
	case "first_name":
		dst.FirstName = value
	case "last_name":
		dst.LastName = value
	case "company":
		dst.Company = value
	case "line1":
		dst.Line1 = value
	case "line2":
		dst.Line2 = value
	case "city":
		dst.City = value
	case "state":
		dst.State = value
	case "postal_code":
		dst.PostalCode = value
	case "country":
		dst.Country = value
	case "phone":
		dst.Phone = value
	default:
		return
	}
	drafts.MarkEdited(scope + "." + field)
}

func (w *Widget) SetSameAsBilling(same bool) {
	w.checkout.Drafts().SameAsBilling = same
}

// OnCheckEmail classifies the entered email, e.g. on field blur.
func (w *Widget) OnCheckEmail(ctx context.Context) error {
	w.auth.SetEmail(w.checkout.Drafts().Customer.Email)
	return w.auth.CheckEmail(ctx)
}

func (w *Widget) OnStepNext(ctx context.Context) error {
	return w.checkout.Next(ctx)
}

func (w *Widget) OnStepBack(ctx context.Context) {
	w.checkout.Back(ctx)
}

func (w *Widget) OnEditStep(ctx context.Context, step enums.CheckoutStep) error {
	return w.checkout.Edit(ctx, step)
}

func (w *Widget) PaymentMethods() []types.PaymentMethod {
	return w.checkout.Methods()
}

func (w *Widget) SelectPaymentMethod(key string) error {
	return w.checkout.SelectMethod(key)
}

func (w *Widget) SelectedPaymentMethod() *types.PaymentMethod {
	return w.checkout.SelectedMethod()
}

func (w *Widget) PaymentStepSkipped() bool {
	return w.checkout.PaymentSkipped()
}

func (w *Widget) SetTermsAccepted(accepted bool) {
	w.checkout.SetTermsAccepted(accepted)
}

// ── Authentication ──────────────────────────────────────────────────────

func (w *Widget) AuthStage() enums.AuthStage {
	return w.auth.Stage()
}

func (w *Widget) AuthMessage() string {
	return w.auth.Message()
}

func (w *Widget) OTP() *authflow.OTPInput {
	return w.auth.OTP()
}

func (w *Widget) CanRequestCode() bool {
	return w.auth.CanRequestCode()
}

func (w *Widget) DismissAuth() {
	w.auth.Dismiss()
}

func (w *Widget) SubmitPassword(ctx context.Context, password string) error {
	return w.auth.SubmitPassword(ctx, password)
}

func (w *Widget) SendAuthCode(ctx context.Context) error {
	return w.auth.SendCode(ctx)
}

func (w *Widget) ResendAuthCode(ctx context.Context) error {
	return w.auth.ResendCode(ctx)
}

func (w *Widget) VerifyAuthCode(ctx context.Context, code string) error {
	return w.auth.VerifyCode(ctx, code)
}

func (w *Widget) IsAuthenticated() bool {
	return w.session.IsAuthenticated()
}

// LoadSavedDetails pre-fills the drafts from the authenticated customer's
// saved profile without clobbering fields already edited.
func (w *Widget) LoadSavedDetails(ctx context.Context) error {
	if !w.session.IsAuthenticated() {
		return pkgerrors.New(pkgerrors.CodeAuthInvalid, "sign in to load saved details")
	}
	account, err := w.client.GetAccount(ctx)
	if err != nil {
		return err
	}
	w.checkout.Drafts().ApplyAccount(*account)
	return nil
}

// Logout clears the session. The server-side revocation is best effort:
// a failed call still drops the local token.
func (w *Widget) Logout(ctx context.Context) {
	if w.session.IsAuthenticated() {
		if err := w.client.Logout(ctx); err != nil {
			w.logg.Warn(ctx, "logout cleanup failed")
		}
	}
	w.session.Clear()
	w.auth.Reset()
}

// ── Submission and result ───────────────────────────────────────────────

// OnSubmit posts the order and enters the result branch. Pending orders
// start background status polling.
func (w *Widget) OnSubmit(ctx context.Context) (*types.OrderDetails, error) {
	order, err := w.checkout.Submit(ctx)
	if err != nil {
		return nil, err
	}

	handler, err := orderresult.NewHandler(orderresult.HandlerParams{
		API:     w.client,
		Session: w.session,
		Logger:  w.logg,
		Metrics: w.metrics,
		Bus:     w.bus,
		Config:  w.cfg.Pending,
	})
	if err != nil {
		return nil, err
	}
	if err := handler.Start(ctx, order); err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.result = handler
	w.mu.Unlock()

	if order.Status == enums.OrderStatusPending {
		go func() {
			if err := handler.Poll(w.ctx); err != nil && w.ctx.Err() == nil {
				w.logg.Warn(w.logg.WithOrderID(w.ctx, order.ID), "pending order polling stopped")
			}
		}()
	}
	return order, nil
}

// ResumeOrder re-enters the result branch after an external payment
// redirect identified by order id.
func (w *Widget) ResumeOrder(ctx context.Context, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	handler, err := orderresult.NewHandler(orderresult.HandlerParams{
		API:     w.client,
		Session: w.session,
		Logger:  w.logg,
		Metrics: w.metrics,
		Bus:     w.bus,
		Config:  w.cfg.Pending,
	})
	if err != nil {
		return err
	}
	if err := handler.StartFromRedirect(ctx, orderID); err != nil {
		return err
	}

	w.mu.Lock()
	w.result = handler
	w.mu.Unlock()

	if handler.State() == orderresult.StatePending {
		go func() {
			if err := handler.Poll(w.ctx); err != nil && w.ctx.Err() == nil {
				w.logg.Warn(w.logg.WithOrderID(w.ctx, orderID), "pending order polling stopped")
			}
		}()
	}
	return nil
}

// ResultState returns the order result state, empty before submission.
func (w *Widget) ResultState() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.result == nil {
		return ""
	}
	return w.result.State()
}

// OrderDetails returns the submitted order snapshot.
func (w *Widget) OrderDetails() *types.OrderDetails {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.result == nil {
		return nil
	}
	return w.result.Order()
}

// FailureKind classifies a failed submission for recovery routing.
func (w *Widget) FailureKind() enums.FailureKind {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.result == nil {
		return enums.FailureKindUnknown
	}
	return w.result.FailureKind()
}

// RecheckOrder is the manual status re-check in the delayed sub-state.
func (w *Widget) RecheckOrder(ctx context.Context) error {
	w.mu.Lock()
	handler := w.result
	w.mu.Unlock()
	if handler == nil {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "no order to re-check")
	}
	return handler.Recheck(ctx)
}

// CreateAccount converts a guest purchase into an account after success.
func (w *Widget) CreateAccount(ctx context.Context, password string) error {
	w.mu.Lock()
	handler := w.result
	w.mu.Unlock()
	if handler == nil {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "no completed order")
	}
	return handler.CreateAccount(ctx, password)
}
