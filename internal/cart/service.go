package cart

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/harborline/storefront-go/internal/api"
	"github.com/harborline/storefront-go/pkg/events"
	pkgerrors "github.com/harborline/storefront-go/pkg/errors"
	"github.com/harborline/storefront-go/pkg/logger"
	"github.com/harborline/storefront-go/pkg/metrics"
	"github.com/harborline/storefront-go/pkg/types"
)

type cartAPI interface {
	GetCart(ctx context.Context, cartID string) (*types.Cart, error)
	AddItem(ctx context.Context, cartID string, input api.AddItemInput) (*types.Cart, error)
	UpdateItemQuantity(ctx context.Context, cartID, itemID string, quantity int) (*types.Cart, error)
	RemoveItem(ctx context.Context, cartID, itemID string) (*types.Cart, error)
	ApplyCoupon(ctx context.Context, cartID, code string) (*types.Cart, error)
	RemoveCoupon(ctx context.Context, cartID string) (*types.Cart, error)
}

// Service owns the client-side cart snapshot. The server is authoritative
// for totals and stock: every mutation round-trips and replaces the whole
// snapshot with the server response, never merging fields locally.
type Service struct {
	api     cartAPI
	logg    *logger.Logger
	metrics *metrics.CheckoutMetrics
	bus     *events.Bus

	// mu serializes mutations per cart. A second mutation waits for the
	// first and then applies against the freshest snapshot.
	mu      sync.Mutex
	current *types.Cart
}

// ServiceParams groups dependencies for the cart service.
type ServiceParams struct {
	API     cartAPI
	Logger  *logger.Logger
	Metrics *metrics.CheckoutMetrics
	Bus     *events.Bus
}

// NewService builds a cart service backed by the storefront API.
func NewService(params ServiceParams) (*Service, error) {
	if params.API == nil {
		return nil, fmt.Errorf("cart api required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		api:     params.API,
		logg:    params.Logger,
		metrics: params.Metrics,
		bus:     params.Bus,
	}, nil
}

// Current returns the latest server-confirmed snapshot, nil before Load.
func (s *Service) Current() *types.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Load fetches the cart fresh from the server.
func (s *Service) Load(ctx context.Context, cartID string) (*types.Cart, error) {
	if strings.TrimSpace(cartID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart, err := s.api.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	s.replaceLocked(ctx, cart)
	return cart, nil
}

// AddItem adds a product line.
func (s *Service) AddItem(ctx context.Context, input api.AddItemInput) (*types.Cart, error) {
	if strings.TrimSpace(input.ProductID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if input.Quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	return s.mutate(ctx, func(ctx context.Context, cartID string) (*types.Cart, error) {
		return s.api.AddItem(ctx, cartID, input)
	})
}

// UpdateQuantity changes a line quantity. The deny inventory policy is
// enforced as a soft gate client-side; the server remains the source of
// truth.
func (s *Service) UpdateQuantity(ctx context.Context, itemID string, quantity int) (*types.Cart, error) {
	if quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	s.mu.Lock()
	if s.current != nil {
		for _, item := range s.current.Items {
			if item.ID != itemID {
				continue
			}
			if limit, capped := item.MaxQuantity(); capped && quantity > limit {
				s.mu.Unlock()
				msg := fmt.Sprintf("only %d in stock", limit)
				return nil, pkgerrors.New(pkgerrors.CodeValidation, msg).
					WithDetails(pkgerrors.FieldErrors{"quantity": msg})
			}
		}
	}
	s.mu.Unlock()

	return s.mutate(ctx, func(ctx context.Context, cartID string) (*types.Cart, error) {
		return s.api.UpdateItemQuantity(ctx, cartID, itemID, quantity)
	})
}

// RemoveItem deletes a line.
func (s *Service) RemoveItem(ctx context.Context, itemID string) (*types.Cart, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item id is required")
	}
	return s.mutate(ctx, func(ctx context.Context, cartID string) (*types.Cart, error) {
		return s.api.RemoveItem(ctx, cartID, itemID)
	})
}

// ApplyCoupon applies a discount code. On rejection the existing snapshot
// is untouched; on success the whole cart is replaced with the server
// response.
func (s *Service) ApplyCoupon(ctx context.Context, code string) (*types.Cart, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount code is required")
	}

	cart, err := s.mutate(ctx, func(ctx context.Context, cartID string) (*types.Cart, error) {
		return s.api.ApplyCoupon(ctx, cartID, trimmed)
	})
	if err != nil {
		s.metrics.ObserveCouponOp("apply", "rejected")
		return nil, err
	}
	s.metrics.ObserveCouponOp("apply", "success")
	return cart, nil
}

// RemoveCoupon clears the applied discount code.
func (s *Service) RemoveCoupon(ctx context.Context) (*types.Cart, error) {
	cart, err := s.mutate(ctx, func(ctx context.Context, cartID string) (*types.Cart, error) {
		return s.api.RemoveCoupon(ctx, cartID)
	})
	if err != nil {
		s.metrics.ObserveCouponOp("remove", "rejected")
		return nil, err
	}
	s.metrics.ObserveCouponOp("remove", "success")
	return cart, nil
}

// Refresh re-fetches the current cart, e.g. to re-check stock before
// leaving review.
func (s *Service) Refresh(ctx context.Context) (*types.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no cart loaded")
	}
	cart, err := s.api.GetCart(ctx, s.current.ID)
	if err != nil {
		return nil, err
	}
	s.replaceLocked(ctx, cart)
	return cart, nil
}

func (s *Service) mutate(ctx context.Context, fn func(ctx context.Context, cartID string) (*types.Cart, error)) (*types.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no cart loaded")
	}

	cart, err := fn(ctx, s.current.ID)
	if err != nil {
		return nil, err
	}
	s.replaceLocked(ctx, cart)
	return cart, nil
}

func (s *Service) replaceLocked(ctx context.Context, cart *types.Cart) {
	s.current = cart
	if s.bus == nil || cart == nil {
		return
	}
	if err := s.bus.Publish(events.TopicCartUpdated, events.CartUpdated{
		CartID:     cart.ID,
		ItemCount:  len(cart.Items),
		TotalMinor: cart.Totals.Total.Amount,
	}); err != nil {
		s.logg.Warn(ctx, "publish cart update failed")
	}
}
