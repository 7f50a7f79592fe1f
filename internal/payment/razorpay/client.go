// Package razorpay is the payment gateway adapter: it creates gateway-side
// orders and verifies the signed confirmation the gateway hands back to the
// browser after the payment UI completes.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.razorpay.com"

// ErrUnavailable wraps transport and 5xx failures from the gateway. The
// caller releases its reservation and lets the client retry the checkout.
var ErrUnavailable = errors.New("payment gateway unavailable")

type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type Client struct {
	log       *slog.Logger
	keyID     string
	keySecret string
	baseURL   string
	http      *http.Client
}

func New(log *slog.Logger, keyID, keySecret string) *Client {
	return &Client{
		log:       log,
		keyID:     keyID,
		keySecret: keySecret,
		baseURL:   defaultBaseURL,
		http:      &http.Client{Timeout: 10 * time.Second},
	}
}

// NewWithBaseURL points the client at a non-production endpoint.
func NewWithBaseURL(log *slog.Logger, keyID, keySecret, baseURL string) *Client {
	c := New(log, keyID, keySecret)
	c.baseURL = baseURL
	return c
}

type createOrderReq struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// CreateOrder registers the amount with the gateway and returns the opaque
// order handle the storefront needs to open the payment UI. Amounts are in
// the currency's smallest unit, matching the ledger's cents.
func (c *Client) CreateOrder(ctx context.Context, amountCents int64, currency, receipt string) (GatewayOrder, error) {
	body, err := json.Marshal(createOrderReq{Amount: amountCents, Currency: currency, Receipt: receipt})
	if err != nil {
		return GatewayOrder{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return GatewayOrder{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return GatewayOrder{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return GatewayOrder{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var gw GatewayOrder
	if err := json.NewDecoder(resp.Body).Decode(&gw); err != nil {
		return GatewayOrder{}, fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
	}
	c.log.Info("gateway order created", "gateway_order_ref", gw.ID, "amount", gw.Amount)
	return gw, nil
}
