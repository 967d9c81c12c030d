package cart

import (
	"context"
	"io"
	"testing"

	"github.com/harborline/storefront-go/internal/api"
	pkgerrors "github.com/harborline/storefront-go/pkg/errors"
	"github.com/harborline/storefront-go/pkg/enums"
	"github.com/harborline/storefront-go/pkg/logger"
	"github.com/harborline/storefront-go/pkg/types"
	"github.com/rs/zerolog"
)

type stubCartAPI struct {
	getCart     func(ctx context.Context, cartID string) (*types.Cart, error)
	addItem     func(ctx context.Context, cartID string, input api.AddItemInput) (*types.Cart, error)
	updateQty   func(ctx context.Context, cartID, itemID string, quantity int) (*types.Cart, error)
	removeItem  func(ctx context.Context, cartID, itemID string) (*types.Cart, error)
	applyCoupon func(ctx context.Context, cartID, code string) (*types.Cart, error)
	removeCode  func(ctx context.Context, cartID string) (*types.Cart, error)
}

func (s *stubCartAPI) GetCart(ctx context.Context, cartID string) (*types.Cart, error) {
	return s.getCart(ctx, cartID)
}

func (s *stubCartAPI) AddItem(ctx context.Context, cartID string, input api.AddItemInput) (*types.Cart, error) {
	return s.addItem(ctx, cartID, input)
}

func (s *stubCartAPI) UpdateItemQuantity(ctx context.Context, cartID, itemID string, quantity int) (*types.Cart, error) {
	return s.updateQty(ctx, cartID, itemID, quantity)
}

func (s *stubCartAPI) RemoveItem(ctx context.Context, cartID, itemID string) (*types.Cart, error) {
	return s.removeItem(ctx, cartID, itemID)
}

func (s *stubCartAPI) ApplyCoupon(ctx context.Context, cartID, code string) (*types.Cart, error) {
	return s.applyCoupon(ctx, cartID, code)
}

func (s *stubCartAPI) RemoveCoupon(ctx context.Context, cartID string) (*types.Cart, error) {
	return s.removeCode(ctx, cartID)
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard, Level: zerolog.ErrorLevel})
}

func testCart(id string) *types.Cart {
	return &types.Cart{
		ID: id,
		Items: []types.CartItem{
			{
				ID:        "line-1",
				ProductID: "prod-1",
				Quantity:  1,
				UnitPrice: types.NewMoney(2500, enums.CurrencyUSD),
				Subtotal:  types.NewMoney(2500, enums.CurrencyUSD),
			},
		},
		Totals: types.Totals{
			Subtotal: types.NewMoney(2500, enums.CurrencyUSD),
			Total:    types.NewMoney(2500, enums.CurrencyUSD),
		},
		RequiresShipping: true,
	}
}

func newTestService(t *testing.T, stub *stubCartAPI) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{API: stub, Logger: testLogger(t)})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: testLogger(t)}); err == nil {
		t.Fatal("expected error without api")
	}
	if _, err := NewService(ServiceParams{API: &stubCartAPI{}}); err == nil {
		t.Fatal("expected error without logger")
	}
}

func TestLoadReplacesSnapshot(t *testing.T) {
	stub := &stubCartAPI{
		getCart: func(ctx context.Context, cartID string) (*types.Cart, error) {
			return testCart(cartID), nil
		},
	}
	svc := newTestService(t, stub)

	cart, err := svc.Load(context.Background(), "cart-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cart.ID != "cart-1" {
		t.Fatalf("unexpected cart id %q", cart.ID)
	}
	if svc.Current() != cart {
		t.Fatal("Current should return the loaded snapshot")
	}
}

func TestLoadRejectsEmptyCartID(t *testing.T) {
	svc := newTestService(t, &stubCartAPI{})
	_, err := svc.Load(context.Background(), "  ")
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestMutationsRequireLoadedCart(t *testing.T) {
	svc := newTestService(t, &stubCartAPI{})
	_, err := svc.RemoveItem(context.Background(), "line-1")
	if pkgerrors.CodeOf(err) != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestUpdateQuantityEnforcesStockCap(t *testing.T) {
	count := 3
	loaded := testCart("cart-1")
	loaded.Items[0].InventoryPolicy = enums.InventoryPolicyDeny
	loaded.Items[0].InventoryCount = &count

	called := false
	stub := &stubCartAPI{
		getCart: func(ctx context.Context, cartID string) (*types.Cart, error) {
			return loaded, nil
		},
		updateQty: func(ctx context.Context, cartID, itemID string, quantity int) (*types.Cart, error) {
			called = true
			return loaded, nil
		},
	}
	svc := newTestService(t, stub)
	if _, err := svc.Load(context.Background(), "cart-1"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	_, err := svc.UpdateQuantity(context.Background(), "line-1", 5)
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if called {
		t.Fatal("stock-capped update should not reach the server")
	}
	fields := pkgerrors.Fields(err)
	if fields["quantity"] == "" {
		t.Fatal("expected a quantity field error")
	}

	// Within the cap, the server is consulted.
	if _, err := svc.UpdateQuantity(context.Background(), "line-1", 3); err != nil {
		t.Fatalf("UpdateQuantity: %v", err)
	}
	if !called {
		t.Fatal("in-stock update should reach the server")
	}
}

func TestUpdateQuantityContinuePolicyIgnoresCount(t *testing.T) {
	count := 1
	loaded := testCart("cart-1")
	loaded.Items[0].InventoryPolicy = enums.InventoryPolicyContinue
	loaded.Items[0].InventoryCount = &count

	stub := &stubCartAPI{
		getCart: func(ctx context.Context, cartID string) (*types.Cart, error) {
			return loaded, nil
		},
		updateQty: func(ctx context.Context, cartID, itemID string, quantity int) (*types.Cart, error) {
			return loaded, nil
		},
	}
	svc := newTestService(t, stub)
	if _, err := svc.Load(context.Background(), "cart-1"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := svc.UpdateQuantity(context.Background(), "line-1", 10); err != nil {
		t.Fatalf("continue policy should not gate locally: %v", err)
	}
}

func TestApplyCouponRejectionLeavesSnapshot(t *testing.T) {
	loaded := testCart("cart-1")
	stub := &stubCartAPI{
		getCart: func(ctx context.Context, cartID string) (*types.Cart, error) {
			return loaded, nil
		},
		applyCoupon: func(ctx context.Context, cartID, code string) (*types.Cart, error) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid discount code")
		},
	}
	svc := newTestService(t, stub)
	if _, err := svc.Load(context.Background(), "cart-1"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	_, err := svc.ApplyCoupon(context.Background(), "NOPE")
	if pkgerrors.CodeOf(err) != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if svc.Current() != loaded {
		t.Fatal("rejected coupon must not replace the snapshot")
	}
}

func TestApplyCouponReplacesWholeCart(t *testing.T) {
	loaded := testCart("cart-1")
	code := "SAVE10"
	discounted := testCart("cart-1")
	discounted.DiscountCode = &code
	discounted.DiscountType = enums.DiscountTypePercentage
	discounted.Totals.Discount = types.NewMoney(250, enums.CurrencyUSD)
	discounted.Totals.Total = types.NewMoney(2250, enums.CurrencyUSD)

	stub := &stubCartAPI{
		getCart: func(ctx context.Context, cartID string) (*types.Cart, error) {
			return loaded, nil
		},
		applyCoupon: func(ctx context.Context, cartID, got string) (*types.Cart, error) {
			if got != code {
				t.Fatalf("expected trimmed code %q, got %q", code, got)
			}
			return discounted, nil
		},
	}
	svc := newTestService(t, stub)
	if _, err := svc.Load(context.Background(), "cart-1"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cart, err := svc.ApplyCoupon(context.Background(), "  SAVE10  ")
	if err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}
	if !cart.HasDiscount() {
		t.Fatal("expected discount on replaced cart")
	}
	if svc.Current() != discounted {
		t.Fatal("successful coupon must replace the snapshot")
	}
}

func TestRemoveCouponRestoresServerTotals(t *testing.T) {
	code := "SAVE10"
	discounted := testCart("cart-1")
	discounted.DiscountCode = &code
	discounted.Totals.Discount = types.NewMoney(250, enums.CurrencyUSD)
	restored := testCart("cart-1")

	stub := &stubCartAPI{
		getCart: func(ctx context.Context, cartID string) (*types.Cart, error) {
			return discounted, nil
		},
		removeCode: func(ctx context.Context, cartID string) (*types.Cart, error) {
			return restored, nil
		},
	}
	svc := newTestService(t, stub)
	if _, err := svc.Load(context.Background(), "cart-1"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	cart, err := svc.RemoveCoupon(context.Background())
	if err != nil {
		t.Fatalf("RemoveCoupon: %v", err)
	}
	if cart.HasDiscount() {
		t.Fatal("expected discount cleared")
	}
}

func TestMutationsSerialize(t *testing.T) {
	loaded := testCart("cart-1")
	release := make(chan struct{})
	entered := make(chan struct{})

	stub := &stubCartAPI{
		getCart: func(ctx context.Context, cartID string) (*types.Cart, error) {
			return loaded, nil
		},
		addItem: func(ctx context.Context, cartID string, input api.AddItemInput) (*types.Cart, error) {
			close(entered)
			<-release
			return loaded, nil
		},
		removeItem: func(ctx context.Context, cartID, itemID string) (*types.Cart, error) {
			return loaded, nil
		},
	}
	svc := newTestService(t, stub)
	if _, err := svc.Load(context.Background(), "cart-1"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = svc.AddItem(context.Background(), api.AddItemInput{ProductID: "prod-2", Quantity: 1})
	}()
	<-entered

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		_, _ = svc.RemoveItem(context.Background(), "line-1")
	}()

	select {
	case <-secondDone:
		t.Fatal("second mutation finished while first held the lock")
	default:
	}

	close(release)
	<-firstDone
	<-secondDone
}
