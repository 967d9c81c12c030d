package orderresult

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harborline/storefront-go/pkg/config"
	"github.com/harborline/storefront-go/pkg/enums"
	pkgerrors "github.com/harborline/storefront-go/pkg/errors"
	"github.com/harborline/storefront-go/pkg/events"
	"github.com/harborline/storefront-go/pkg/logger"
	"github.com/harborline/storefront-go/pkg/metrics"
	"github.com/harborline/storefront-go/pkg/session"
	"github.com/harborline/storefront-go/pkg/types"
	"github.com/im-adarsh/go-statemachine/workflow"
)

// Result states. DELAYED is the "taking longer than expected" sub-state of
// a pending order; the order itself is still pending server-side.
const (
	StateInitial  = "INITIAL"
	StateSuccess  = "SUCCESS"
	StatePending  = "PENDING"
	StateDelayed  = "DELAYED"
	StateFailure  = "FAILURE"
	StateNotFound = "NOT_FOUND"
)

const (
	signalResolve = "resolve"
	signalDelay   = "delay"
)

// outcome is the payload threaded through the result workflow.
type outcome struct {
	Order  *types.OrderDetails
	Status enums.OrderStatus
}

func statusKey(_ context.Context, o *outcome) any {
	return o.Status.String()
}

// resultWF classifies every submission outcome. Pending orders re-resolve
// as poll responses arrive; the delay signal surfaces the "taking longer"
// sub-state without abandoning the order.
var resultWF = workflow.Define[*outcome]().
	From(StateInitial, StatePending, StateDelayed).On(signalResolve).
	Switch(statusKey).
	Case(enums.OrderStatusSuccess.String(), StateSuccess).
	Case(enums.OrderStatusPending.String(), StatePending).
	Case(enums.OrderStatusFailure.String(), StateFailure).
	Default(StateNotFound).
	From(StatePending).On(signalDelay).To(StateDelayed).
	MustBuild()

type resultAPI interface {
	GetOrder(ctx context.Context, orderID string) (*types.OrderDetails, error)
	CreateAccount(ctx context.Context, email, password, orderID string) error
}

// Handler owns the terminal branch of a checkout: it classifies the
// submission outcome, polls pending orders within a bounded budget, and
// offers post-purchase account creation to guests.
type Handler struct {
	api     resultAPI
	session *session.Session
	logg    *logger.Logger
	metrics *metrics.CheckoutMetrics
	bus     *events.Bus
	cfg     config.PendingConfig

	mu              sync.Mutex
	exec            *workflow.Execution[*outcome]
	order           *types.OrderDetails
	creatingAccount bool
	accountCreated  bool
}

type HandlerParams struct {
	API     resultAPI
	Session *session.Session
	Logger  *logger.Logger
	Metrics *metrics.CheckoutMetrics
	Bus     *events.Bus
	Config  config.PendingConfig
}

func NewHandler(params HandlerParams) (*Handler, error) {
	if params.API == nil {
		return nil, fmt.Errorf("order api required")
	}
	if params.Session == nil {
		return nil, fmt.Errorf("session required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.PollBudget <= 0 {
		cfg.PollBudget = 2 * time.Minute
	}
	return &Handler{
		api:     params.API,
		session: params.Session,
		logg:    params.Logger,
		metrics: params.Metrics,
		bus:     params.Bus,
		cfg:     cfg,
	}, nil
}

// State returns the current result state, StateInitial before Start.
func (h *Handler) State() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exec == nil {
		return StateInitial
	}
	return h.exec.CurrentState()
}

// Order returns the immutable order snapshot, nil in the not-found state.
func (h *Handler) Order() *types.OrderDetails {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.order
}

// FailureKind classifies a failed order for routing: back to review for
// cart rejections, back to payment for processor declines.
func (h *Handler) FailureKind() enums.FailureKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.order == nil {
		return enums.FailureKindUnknown
	}
	return h.order.FailureKind()
}

// Start classifies a submission response and enters the result branch.
func (h *Handler) Start(ctx context.Context, order *types.OrderDetails) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}

	h.mu.Lock()
	if h.exec != nil {
		h.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeStateConflict, "result handler already started")
	}
	h.exec = resultWF.NewExecution(ctx, StateInitial)
	h.mu.Unlock()

	return h.resolve(ctx, order)
}

// StartFromRedirect recovers the result branch after an external payment
// redirect. An order the server cannot locate lands in not-found.
func (h *Handler) StartFromRedirect(ctx context.Context, orderID string) error {
	h.mu.Lock()
	if h.exec != nil {
		h.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeStateConflict, "result handler already started")
	}
	h.exec = resultWF.NewExecution(ctx, StateInitial)
	h.mu.Unlock()

	order, err := h.api.GetOrder(ctx, orderID)
	if err != nil {
		if pkgerrors.CodeOf(err) == pkgerrors.CodeNotFound {
			return h.resolve(ctx, &types.OrderDetails{ID: orderID, Status: enums.OrderStatusNotFound})
		}
		return err
	}
	return h.resolve(ctx, order)
}

// Poll watches a pending order until it settles or the budget runs out,
// then raises the "taking longer" sub-state. Blocking; run on its own
// goroutine.
func (h *Handler) Poll(ctx context.Context) error {
	h.mu.Lock()
	if h.exec == nil || h.exec.CurrentState() != StatePending {
		h.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeStateConflict, "no pending order to poll")
	}
	orderID := h.order.ID
	exec := h.exec
	h.mu.Unlock()

	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < h.cfg.MaxAttempts(); attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		h.metrics.IncPollAttempt()
		order, err := h.api.GetOrder(ctx, orderID)
		if err != nil {
			if pkgerrors.CodeOf(err) == pkgerrors.CodeNotFound {
				return h.resolve(ctx, &types.OrderDetails{ID: orderID, Status: enums.OrderStatusNotFound})
			}
			// Transient failures keep polling within the budget.
			h.logg.Warn(h.logg.WithOrderID(ctx, orderID), "order poll failed")
			continue
		}
		if order.Status != enums.OrderStatusPending {
			return h.resolve(ctx, order)
		}
	}

	if err := exec.Signal(ctx, signalDelay, h.snapshot()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "enter delayed state")
	}
	h.publish(ctx)
	return nil
}

// Recheck is the manual status re-check offered in the delayed sub-state.
func (h *Handler) Recheck(ctx context.Context) error {
	h.mu.Lock()
	if h.exec == nil || (h.exec.CurrentState() != StateDelayed && h.exec.CurrentState() != StatePending) {
		h.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeStateConflict, "no pending order to re-check")
	}
	orderID := h.order.ID
	h.mu.Unlock()

	h.metrics.IncPollAttempt()
	order, err := h.api.GetOrder(ctx, orderID)
	if err != nil {
		if pkgerrors.CodeOf(err) == pkgerrors.CodeNotFound {
			return h.resolve(ctx, &types.OrderDetails{ID: orderID, Status: enums.OrderStatusNotFound})
		}
		return err
	}
	return h.resolve(ctx, order)
}

// CreateAccount converts a guest purchase into an account. One submission
// at a time; once created, further attempts are rejected.
func (h *Handler) CreateAccount(ctx context.Context, password string) error {
	h.mu.Lock()
	if h.exec == nil || h.exec.CurrentState() != StateSuccess {
		h.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeStateConflict, "account creation requires a successful order")
	}
	if h.session.IsAuthenticated() {
		h.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeStateConflict, "already signed in")
	}
	if h.accountCreated {
		h.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeConflict, "account already created")
	}
	if h.creatingAccount {
		h.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeConflict, "account creation already in progress")
	}
	if len(password) < 8 {
		h.mu.Unlock()
		return pkgerrors.New(pkgerrors.CodeValidation, "password must be at least 8 characters").
			WithDetails(pkgerrors.FieldErrors{"password": "must be at least 8 characters"})
	}
	h.creatingAccount = true
	email := h.order.Email
	orderID := h.order.ID
	h.mu.Unlock()

	err := h.api.CreateAccount(ctx, email, password, orderID)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.creatingAccount = false
	if err != nil {
		return err
	}
	h.accountCreated = true
	h.logg.Info(h.logg.WithOrderID(ctx, orderID), "post-purchase account created")
	return nil
}

func (h *Handler) resolve(ctx context.Context, order *types.OrderDetails) error {
	h.mu.Lock()
	h.order = order
	exec := h.exec
	h.mu.Unlock()

	payload := &outcome{Order: order, Status: order.Status}
	if err := exec.Signal(ctx, signalResolve, payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "classify order result")
	}
	h.publish(ctx)
	return nil
}

func (h *Handler) snapshot() *outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	status := enums.OrderStatusPending
	if h.order != nil {
		status = h.order.Status
	}
	return &outcome{Order: h.order, Status: status}
}

func (h *Handler) publish(ctx context.Context) {
	if h.bus == nil {
		return
	}
	h.mu.Lock()
	state := h.exec.CurrentState()
	orderID := ""
	if h.order != nil {
		orderID = h.order.ID
	}
	h.mu.Unlock()

	if err := h.bus.Publish(events.TopicOrderResult, events.OrderResult{
		State:   state,
		OrderID: orderID,
	}); err != nil {
		h.logg.Warn(ctx, "publish order result failed")
	}
}
