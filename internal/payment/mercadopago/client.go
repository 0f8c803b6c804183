// Package mercadopago adapts the MercadoPago Checkout Pro API: preferences,
// payments and merchant orders.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"shop-backend/internal/payment"
)

type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
	Currency    string
	Digits      int32

	// Sandbox selects sandbox_init_point as the buyer redirect.
	Sandbox bool
	// BackURL receives the buyer after checkout when the request carries no return url.
	BackURL string
	// NotificationURL is where MercadoPago posts webhooks.
	NotificationURL string
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *log.Logger
	newKey func() string
}

func New(cfg Config, httpClient *http.Client, logger *log.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: httpClient, logger: logger, newKey: uuid.NewString}
}

func (c *Client) Name() string { return payment.ProviderMercadoPago }

type preferenceItem struct {
	ID         string      `json:"id,omitempty"`
	Title      string      `json:"title"`
	Quantity   int         `json:"quantity"`
	UnitPrice  json.Number `json:"unit_price"`
	CurrencyID string      `json:"currency_id,omitempty"`
}

type backURLs struct {
	Success string `json:"success"`
	Failure string `json:"failure"`
	Pending string `json:"pending"`
}

type preferenceBody struct {
	Items             []preferenceItem  `json:"items"`
	ExternalReference string            `json:"external_reference"`
	BackURLs          backURLs          `json:"back_urls"`
	AutoReturn        string            `json:"auto_return,omitempty"`
	NotificationURL   string            `json:"notification_url,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type preferenceResponse struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

type paymentResponse struct {
	ID                flexID          `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	ExternalReference string          `json:"external_reference"`
	Order             struct {
		ID flexID `json:"id"`
	} `json:"order"`
}

type merchantOrderResponse struct {
	ID                flexID `json:"id"`
	PreferenceID      string `json:"preference_id"`
	ExternalReference string `json:"external_reference"`
	Payments          []struct {
		ID                flexID          `json:"id"`
		Status            string          `json:"status"`
		StatusDetail      string          `json:"status_detail"`
		TransactionAmount decimal.Decimal `json:"transaction_amount"`
	} `json:"payments"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// flexID accepts ids that arrive either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

func (c *Client) CreateTransaction(ctx context.Context, req payment.CreateRequest) (payment.CreateResult, error) {
	if len(req.Items) == 0 {
		return payment.CreateResult{}, errors.New("mercadopago: at least one item required")
	}
	items := make([]preferenceItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, preferenceItem{
			ID:         it.ID,
			Title:      it.Title,
			Quantity:   it.Quantity,
			UnitPrice:  json.Number(payment.FromMinor(it.UnitPrice, c.cfg.Digits).String()),
			CurrencyID: c.cfg.Currency,
		})
	}
	back := req.ReturnURL
	if back == "" {
		back = c.cfg.BackURL
	}
	body := preferenceBody{
		Items:             items,
		ExternalReference: req.ExternalReference,
		BackURLs:          backURLs{Success: back, Failure: back, Pending: back},
		NotificationURL:   c.cfg.NotificationURL,
		Metadata:          map[string]string{"buy_order": req.BuyOrder, "buyer_id": req.BuyerID},
	}
	if strings.HasPrefix(back, "https://") {
		// MercadoPago refuses auto_return with non-https back urls.
		body.AutoReturn = "approved"
	}

	var out preferenceResponse
	headers := map[string]string{"X-Idempotency-Key": c.newKey()}
	if err := c.do(ctx, http.MethodPost, "/checkout/preferences", body, &out, headers); err != nil {
		c.logger.Printf("mercadopago: create preference external_reference=%s error=%v", req.ExternalReference, err)
		return payment.CreateResult{}, err
	}
	if out.ID == "" {
		return payment.CreateResult{}, fmt.Errorf("%w: mercadopago returned no preference id", payment.ErrProviderUnavailable)
	}
	redirect := out.InitPoint
	if c.cfg.Sandbox && out.SandboxInitPoint != "" {
		redirect = out.SandboxInitPoint
	}
	c.logger.Printf("mercadopago: created preference id=%s external_reference=%s", out.ID, req.ExternalReference)
	return payment.CreateResult{Token: out.ID, RedirectURL: redirect}, nil
}

// FetchPaymentInfo reads a payment. The payment resource does not name its
// preference, so PreferenceRef is left empty; callers learn it from the
// preference_id redirect parameter or from FetchMerchantOrder.
func (c *Client) FetchPaymentInfo(ctx context.Context, paymentID string) (payment.PaymentInfo, error) {
	if strings.TrimSpace(paymentID) == "" {
		return payment.PaymentInfo{}, errors.New("mercadopago: payment id required")
	}
	var out paymentResponse
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentID), nil, &out, nil); err != nil {
		c.logger.Printf("mercadopago: fetch payment id=%s error=%v", paymentID, err)
		return payment.PaymentInfo{}, err
	}
	return payment.PaymentInfo{
		ID:                string(out.ID),
		Status:            mapStatus(out.Status),
		Amount:            payment.ToMinor(out.TransactionAmount, c.cfg.Digits),
		ExternalReference: out.ExternalReference,
		StatusDetail:      out.StatusDetail,
		MerchantOrderRef:  string(out.Order.ID),
	}, nil
}

func (c *Client) FetchMerchantOrder(ctx context.Context, id string) (payment.MerchantOrder, error) {
	if strings.TrimSpace(id) == "" {
		return payment.MerchantOrder{}, errors.New("mercadopago: merchant order id required")
	}
	var out merchantOrderResponse
	if err := c.do(ctx, http.MethodGet, "/merchant_orders/"+url.PathEscape(id), nil, &out, nil); err != nil {
		c.logger.Printf("mercadopago: fetch merchant order id=%s error=%v", id, err)
		return payment.MerchantOrder{}, err
	}
	mo := payment.MerchantOrder{
		ID:                string(out.ID),
		PreferenceRef:     out.PreferenceID,
		ExternalReference: out.ExternalReference,
	}
	for _, p := range out.Payments {
		mo.Payments = append(mo.Payments, payment.PaymentInfo{
			ID:                string(p.ID),
			Status:            mapStatus(p.Status),
			Amount:            payment.ToMinor(p.TransactionAmount, c.cfg.Digits),
			PreferenceRef:     out.PreferenceID,
			ExternalReference: out.ExternalReference,
			StatusDetail:      p.StatusDetail,
			MerchantOrderRef:  string(out.ID),
		})
	}
	return mo, nil
}

func mapStatus(s string) payment.PaymentStatus {
	switch s {
	case "approved":
		return payment.PaymentApproved
	case "pending", "in_process", "authorized", "in_mediation":
		return payment.PaymentPending
	default:
		return payment.PaymentRejected
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, headers map[string]string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", payment.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", payment.ErrProviderUnavailable, err)
	}
	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", payment.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		var e errorResponse
		_ = json.Unmarshal(raw, &e)
		c.logger.Printf("mercadopago: %s %s status=%d message=%q", method, path, resp.StatusCode, e.Message)
		return &payment.RejectionError{
			Kind:    payment.ErrProviderRejected,
			Code:    strconv.Itoa(resp.StatusCode),
			Message: payment.Message(""),
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", payment.ErrProviderUnavailable, err)
	}
	return nil
}
