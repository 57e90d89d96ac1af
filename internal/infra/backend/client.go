package backend

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

	"github.com/RoyceAzure/lab/cartsync/internal/domain/model"
	"github.com/rs/zerolog"
)

// IClient 後端購物車 REST API
// 所有錯誤皆為 *APIError，401/403 可用 errors.Is(err, apperr.ErrSignInRequired) 判斷
type IClient interface {
	GetCart(ctx context.Context, token string) (model.Cart, error)
	// 寫入類 API 若後端沒有回傳購物車，回傳 nil
	AddItem(ctx context.Context, token string, productID string, quantity int) (*model.Cart, error)
	UpdateQuantity(ctx context.Context, token string, itemID string, quantity int) (*model.Cart, error)
	RemoveItem(ctx context.Context, token string, itemID string) (*model.Cart, error)
	RemoveCart(ctx context.Context, token string) error
	ApplyPromo(ctx context.Context, token string, promoCode string) (*model.Cart, error)
	RemovePromo(ctx context.Context, token string) (*model.Cart, error)
	WalletBalance(ctx context.Context, token string) (model.WalletBalance, error)
	InitiatePayment(ctx context.Context, token string, req model.PaymentRequest) (model.PaymentRedirect, error)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	routes     Routes
	logger     *zerolog.Logger
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithRoutes(routes Routes) Option {
	return func(c *Client) {
		c.routes = routes
	}
}

func WithLogger(logger *zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	nop := zerolog.Nop()
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		routes:     DefaultRoutes(),
		logger:     &nop,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ IClient = (*Client)(nil)

type updateQuantityBody struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type addItemBody struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type promoBody struct {
	PromoCode string `json:"promoCode"`
}

func (c *Client) GetCart(ctx context.Context, token string) (model.Cart, error) {
	var cart model.Cart
	found, err := c.do(ctx, token, c.routes.GetCart, nil, nil, &cart)
	if err != nil {
		return model.Cart{}, err
	}
	if !found || cart.Items == nil {
		cart.Items = []model.CartItem{}
	}
	return cart, nil
}

func (c *Client) AddItem(ctx context.Context, token string, productID string, quantity int) (*model.Cart, error) {
	return c.doCart(ctx, token, c.routes.AddItem, nil, addItemBody{ProductID: productID, Quantity: quantity})
}

func (c *Client) UpdateQuantity(ctx context.Context, token string, itemID string, quantity int) (*model.Cart, error) {
	return c.doCart(ctx, token, c.routes.UpdateQuantity, map[string]string{"itemId": itemID},
		updateQuantityBody{ItemID: itemID, Quantity: quantity})
}

func (c *Client) RemoveItem(ctx context.Context, token string, itemID string) (*model.Cart, error) {
	return c.doCart(ctx, token, c.routes.RemoveItem, map[string]string{"itemId": itemID}, nil)
}

func (c *Client) RemoveCart(ctx context.Context, token string) error {
	_, err := c.do(ctx, token, c.routes.RemoveCart, nil, nil, nil)
	return err
}

func (c *Client) ApplyPromo(ctx context.Context, token string, promoCode string) (*model.Cart, error) {
	return c.doCart(ctx, token, c.routes.ApplyPromo, nil, promoBody{PromoCode: promoCode})
}

func (c *Client) RemovePromo(ctx context.Context, token string) (*model.Cart, error) {
	return c.doCart(ctx, token, c.routes.RemovePromo, nil, nil)
}

func (c *Client) WalletBalance(ctx context.Context, token string) (model.WalletBalance, error) {
	var balance model.WalletBalance
	_, err := c.do(ctx, token, c.routes.WalletBalance, nil, nil, &balance)
	return balance, err
}

func (c *Client) InitiatePayment(ctx context.Context, token string, req model.PaymentRequest) (model.PaymentRedirect, error) {
	var redirect model.PaymentRedirect
	_, err := c.do(ctx, token, c.routes.InitiatePayment, nil, req, &redirect)
	if err != nil {
		return model.PaymentRedirect{}, err
	}
	if redirect.RedirectURL == "" {
		return model.PaymentRedirect{}, &APIError{Status: http.StatusBadGateway, Message: "payment redirect url is missing"}
	}
	return redirect, nil
}

func (c *Client) doCart(ctx context.Context, token string, route Route, params map[string]string, body any) (*model.Cart, error) {
	var cart model.Cart
	found, err := c.do(ctx, token, route, params, body, &cart)
	if err != nil {
		return nil, err
	}
	if !found || cart.Items == nil {
		return nil, nil
	}
	return &cart, nil
}

// envelope 後端回應可能包在 data 內
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// do 回傳值 found 表示回應內有可解析的內容
func (c *Client) do(ctx context.Context, token string, route Route, params map[string]string, body any, out any) (bool, error) {
	escaped := make(map[string]string, len(params))
	for k, v := range params {
		escaped[k] = url.PathEscape(v)
	}
	target := c.baseURL + route.expand(escaped)

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, route.Method, target, reader)
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("method", route.Method).Str("url", target).Msg("backend request failed")
		return false, newUnavailableError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, newUnavailableError(err)
	}

	c.logger.Debug().
		Str("method", route.Method).
		Str("url", target).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("backend request completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, &APIError{Status: resp.StatusCode, Message: extractMessage(raw, resp.Status)}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return false, nil
	}

	payload := raw
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		payload = env.Data
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return false, &APIError{Status: http.StatusBadGateway, Message: "unexpected response from cart service", Err: err}
	}
	return true, nil
}

func extractMessage(raw []byte, fallback string) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" && len(s) < 256 {
		return s
	}
	return fallback
}
