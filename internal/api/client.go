package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harborline/storefront-go/pkg/config"
	pkgerrors "github.com/harborline/storefront-go/pkg/errors"
	"github.com/harborline/storefront-go/pkg/types"
)

const responseBodyReadLimit int64 = 64 * 1024

// TokenSource supplies the customer's access token for authenticated
// requests. An empty string means guest.
type TokenSource func() string

// Client talks to the merchant's storefront API. All cart and order state
// is authoritative on the server; every mutation returns the whole fresh
// cart snapshot.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	publicToken string
	tokenSource TokenSource
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTokenSource attaches the session token provider.
func WithTokenSource(source TokenSource) Option {
	return func(c *Client) {
		if source != nil {
			c.tokenSource = source
		}
	}
}

// NewClient builds the storefront API client.
func NewClient(cfg config.APIConfig, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("api base url is required")
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := &Client{
		baseURL:     base,
		publicToken: strings.TrimSpace(cfg.PublicToken),
		httpClient:  &http.Client{Timeout: timeout},
		tokenSource: func() string { return "" },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// AddItemInput identifies a product line to add.
type AddItemInput struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

// SubmitOrderInput is the full checkout payload assembled by the wizard.
type SubmitOrderInput struct {
	Email           string         `json:"email"`
	FirstName       string         `json:"first_name,omitempty"`
	LastName        string         `json:"last_name,omitempty"`
	Phone           string         `json:"phone,omitempty"`
	ShippingAddress *types.Address `json:"shipping_address,omitempty"`
	BillingAddress  *types.Address `json:"billing_address,omitempty"`
	GatewayID       string         `json:"gateway_id"`
	ManualMethodID  *string        `json:"manual_method_id,omitempty"`
	TermsAccepted   bool           `json:"terms_accepted"`
	IdempotencyKey  string         `json:"idempotency_key"`
}

// GetCart fetches the current cart snapshot.
func (c *Client) GetCart(ctx context.Context, cartID string) (*types.Cart, error) {
	var cart types.Cart
	path := "/carts/" + url.PathEscape(cartID)
	if err := c.do(ctx, http.MethodGet, path, nil, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

// AddItem adds a line and returns the fresh cart.
func (c *Client) AddItem(ctx context.Context, cartID string, input AddItemInput) (*types.Cart, error) {
	var cart types.Cart
	path := "/carts/" + url.PathEscape(cartID) + "/items"
	if err := c.do(ctx, http.MethodPost, path, input, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

// UpdateItemQuantity changes a line quantity and returns the fresh cart.
func (c *Client) UpdateItemQuantity(ctx context.Context, cartID, itemID string, quantity int) (*types.Cart, error) {
	var cart types.Cart
	path := "/carts/" + url.PathEscape(cartID) + "/items/" + url.PathEscape(itemID)
	body := map[string]int{"quantity": quantity}
	if err := c.do(ctx, http.MethodPatch, path, body, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

// RemoveItem deletes a line and returns the fresh cart.
func (c *Client) RemoveItem(ctx context.Context, cartID, itemID string) (*types.Cart, error) {
	var cart types.Cart
	path := "/carts/" + url.PathEscape(cartID) + "/items/" + url.PathEscape(itemID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

// ApplyCoupon applies a discount code and returns the fresh cart.
func (c *Client) ApplyCoupon(ctx context.Context, cartID, code string) (*types.Cart, error) {
	var cart types.Cart
	path := "/carts/" + url.PathEscape(cartID) + "/coupon"
	body := map[string]string{"code": code}
	if err := c.do(ctx, http.MethodPost, path, body, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

// RemoveCoupon clears the discount code and returns the fresh cart.
func (c *Client) RemoveCoupon(ctx context.Context, cartID string) (*types.Cart, error) {
	var cart types.Cart
	path := "/carts/" + url.PathEscape(cartID) + "/coupon"
	if err := c.do(ctx, http.MethodDelete, path, nil, &cart); err != nil {
		return nil, err
	}
	return &cart, nil
}

// CheckCustomer classifies an email address.
func (c *Client) CheckCustomer(ctx context.Context, email string) (*types.CustomerCheckResult, error) {
	var result types.CustomerCheckResult
	body := map[string]string{"email": email}
	if err := c.do(ctx, http.MethodPost, "/customers/check", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PasswordLogin authenticates with email and password.
func (c *Client) PasswordLogin(ctx context.Context, email, password string) (*types.AuthResponse, error) {
	var resp types.AuthResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendAuthCode requests a one-time code for the email.
func (c *Client) SendAuthCode(ctx context.Context, email string) error {
	body := map[string]string{"email": email}
	return c.do(ctx, http.MethodPost, "/auth/code", body, nil)
}

// VerifyAuthCode exchanges a one-time code for a session.
func (c *Client) VerifyAuthCode(ctx context.Context, email, code string) (*types.AuthResponse, error) {
	var resp types.AuthResponse
	body := map[string]string{"email": email, "code": code}
	if err := c.do(ctx, http.MethodPost, "/auth/code/verify", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAccount loads the authenticated customer's saved profile.
func (c *Client) GetAccount(ctx context.Context) (*types.CustomerAccount, error) {
	var account types.CustomerAccount
	if err := c.do(ctx, http.MethodGet, "/account", nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// CreateAccount creates an account for a guest after a successful order.
func (c *Client) CreateAccount(ctx context.Context, email, password, orderID string) error {
	body := map[string]string{"email": email, "password": password, "order_id": orderID}
	return c.do(ctx, http.MethodPost, "/account", body, nil)
}

// Logout invalidates the session server-side.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// ListPaymentMethods returns the gateways available for the cart.
func (c *Client) ListPaymentMethods(ctx context.Context, cartID string) ([]types.PaymentMethod, error) {
	var resp struct {
		PaymentMethods []types.PaymentMethod `json:"payment_methods"`
	}
	path := "/carts/" + url.PathEscape(cartID) + "/payment-methods"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.PaymentMethods, nil
}

// SubmitOrder converts the cart into an order.
func (c *Client) SubmitOrder(ctx context.Context, cartID string, input SubmitOrderInput) (*types.OrderDetails, error) {
	var order types.OrderDetails
	path := "/carts/" + url.PathEscape(cartID) + "/checkout"
	if err := c.do(ctx, http.MethodPost, path, input, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder fetches a submitted order's current state.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*types.OrderDetails, error) {
	var order types.OrderDetails
	path := "/orders/" + url.PathEscape(orderID)
	if err := c.do(ctx, http.MethodGet, path, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "storefront api client not configured")
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.publicToken != "" {
		req.Header.Set("X-Storefront-Token", c.publicToken)
	}
	if token := c.tokenSource(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, responseBodyReadLimit))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, responseBodyReadLimit)).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode response")
	}
	return nil
}

// apiError mirrors the wire error object: { message, code?, details? }.
type apiError struct {
	Message string          `json:"message"`
	Code    string          `json:"code,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))

	var wire apiError
	_ = json.Unmarshal(raw, &wire)
	message := strings.TrimSpace(wire.Message)
	if message == "" {
		message = fmt.Sprintf("request failed with status %d", resp.StatusCode)
	}

	code := classify(resp.StatusCode, wire.Code)
	err := pkgerrors.New(code, message)
	if len(wire.Details) > 0 {
		var fields pkgerrors.FieldErrors
		if jsonErr := json.Unmarshal(wire.Details, &fields); jsonErr == nil {
			return err.WithDetails(fields)
		}
		return err.WithDetails(json.RawMessage(wire.Details))
	}
	return err
}

// classify maps HTTP status plus the server's error code onto the SDK
// taxonomy. Rate limiting must stay distinguishable from other 4xx.
func classify(status int, wireCode string) pkgerrors.Code {
	// Throttling wins over whatever domain code the body carries: the
	// caller's next move is to back off, not to re-route the error.
	if status == http.StatusTooManyRequests {
		return pkgerrors.CodeRateLimit
	}

	switch strings.ToUpper(strings.TrimSpace(wireCode)) {
	case string(pkgerrors.CodeCartValidation), "OUT_OF_STOCK", "ADDRESS_REJECTED":
		return pkgerrors.CodeCartValidation
	case string(pkgerrors.CodePayment), "PAYMENT_DECLINED", "GATEWAY_ERROR":
		return pkgerrors.CodePayment
	case string(pkgerrors.CodeAuthExpired), "CODE_EXPIRED":
		return pkgerrors.CodeAuthExpired
	}

	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return pkgerrors.CodeAuthInvalid
	case status == http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case status == http.StatusConflict:
		return pkgerrors.CodeConflict
	case status == http.StatusPaymentRequired:
		return pkgerrors.CodePayment
	case status >= 400 && status < 500:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}
