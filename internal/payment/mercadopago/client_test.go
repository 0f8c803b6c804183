package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"shop-backend/internal/payment"
)

func newTestClient(t *testing.T, sandbox bool, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(Config{
		BaseURL:         srv.URL,
		AccessToken:     "TEST-token",
		Timeout:         time.Second,
		Sandbox:         sandbox,
		Currency:        "CLP",
		NotificationURL: "https://api.shop/orders/mercadopago/webhook",
	}, nil, nil)
	c.newKey = func() string { return "key-1" }
	return c
}

func TestCreateTransactionBuildsPreference(t *testing.T) {
	c := newTestClient(t, true, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkout/preferences", r.URL.Path)
		assert.Equal(t, "Bearer TEST-token", r.Header.Get("Authorization"))
		assert.Equal(t, "key-1", r.Header.Get("X-Idempotency-Key"))

		var body struct {
			Items []struct {
				Title     string  `json:"title"`
				Quantity  int     `json:"quantity"`
				UnitPrice float64 `json:"unit_price"`
			} `json:"items"`
			ExternalReference string `json:"external_reference"`
			AutoReturn        string `json:"auto_return"`
			NotificationURL   string `json:"notification_url"`
			BackURLs          struct {
				Success string `json:"success"`
			} `json:"back_urls"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Items, 1)
		assert.Equal(t, "Mug", body.Items[0].Title)
		assert.Equal(t, 2, body.Items[0].Quantity)
		assert.Equal(t, 1000.0, body.Items[0].UnitPrice)
		assert.Equal(t, "BUYER-U1-1700000000000", body.ExternalReference)
		assert.Equal(t, "approved", body.AutoReturn)
		assert.Equal(t, "https://shop/orders/confirm", body.BackURLs.Success)
		assert.Equal(t, "https://api.shop/orders/mercadopago/webhook", body.NotificationURL)

		_, _ = w.Write([]byte(`{"id":"P1","init_point":"https://mp/live","sandbox_init_point":"https://mp/sandbox"}`))
	})

	res, err := c.CreateTransaction(context.Background(), payment.CreateRequest{
		BuyOrder:          "ORDER-1",
		BuyerID:           "U1",
		Amount:            2000,
		ReturnURL:         "https://shop/orders/confirm",
		ExternalReference: "BUYER-U1-1700000000000",
		Items:             []payment.Item{{ID: "p1", Title: "Mug", Quantity: 2, UnitPrice: 1000}},
	})
	require.NoError(t, err)
	assert.Equal(t, "P1", res.Token)
	assert.Equal(t, "https://mp/sandbox", res.RedirectURL)
}

func TestCreateTransactionLiveRedirect(t *testing.T) {
	c := newTestClient(t, false, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"P1","init_point":"https://mp/live","sandbox_init_point":"https://mp/sandbox"}`))
	})
	res, err := c.CreateTransaction(context.Background(), payment.CreateRequest{
		Items: []payment.Item{{Title: "Mug", Quantity: 1, UnitPrice: 1000}},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://mp/live", res.RedirectURL)
}

func TestCreateTransactionRequiresItems(t *testing.T) {
	c := New(Config{BaseURL: "http://unused"}, nil, nil)
	_, err := c.CreateTransaction(context.Background(), payment.CreateRequest{})
	require.Error(t, err)
}

func TestFetchPaymentInfo(t *testing.T) {
	c := newTestClient(t, false, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments/PAY1", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"id": 123456,
			"status": "approved",
			"status_detail": "accredited",
			"transaction_amount": 2000,
			"external_reference": "BUYER-U1-1700000000000",
			"order": {"id": 987},
			"metadata": {"buy_order": "ORDER-1", "buyer_id": "U1"}
		}`))
	})

	info, err := c.FetchPaymentInfo(context.Background(), "PAY1")
	require.NoError(t, err)
	assert.Equal(t, "123456", info.ID)
	assert.Equal(t, payment.PaymentApproved, info.Status)
	assert.Equal(t, int64(2000), info.Amount)
	assert.Empty(t, info.PreferenceRef, "preference comes from the merchant order")
	assert.Equal(t, "987", info.MerchantOrderRef)
	assert.Equal(t, "accredited", info.StatusDetail)
}

func TestFetchMerchantOrder(t *testing.T) {
	c := newTestClient(t, false, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/merchant_orders/987", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"id": 987,
			"preference_id": "P1",
			"external_reference": "BUYER-U1-1700000000000",
			"payments": [
				{"id": 1, "status": "rejected", "status_detail": "cc_rejected_insufficient_amount", "transaction_amount": 2000},
				{"id": "2", "status": "approved", "transaction_amount": 2000.0}
			]
		}`))
	})

	mo, err := c.FetchMerchantOrder(context.Background(), "987")
	require.NoError(t, err)
	assert.Equal(t, "P1", mo.PreferenceRef)
	require.Len(t, mo.Payments, 2)
	assert.Equal(t, "1", mo.Payments[0].ID)
	assert.Equal(t, payment.PaymentRejected, mo.Payments[0].Status)
	assert.Equal(t, "2", mo.Payments[1].ID)
	assert.Equal(t, payment.PaymentApproved, mo.Payments[1].Status)
	assert.Equal(t, "P1", mo.Payments[1].PreferenceRef)
}

func TestMapStatus(t *testing.T) {
	cases := map[string]payment.PaymentStatus{
		"approved":   payment.PaymentApproved,
		"pending":    payment.PaymentPending,
		"in_process": payment.PaymentPending,
		"authorized": payment.PaymentPending,
		"rejected":   payment.PaymentRejected,
		"cancelled":  payment.PaymentRejected,
		"":           payment.PaymentRejected,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapStatus(in), in)
	}
}

func TestErrorClassification(t *testing.T) {
	c := newTestClient(t, false, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payments/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Payment not found","error":"not_found"}`))
		case "/v1/payments/busy":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})

	_, err := c.FetchPaymentInfo(context.Background(), "missing")
	assert.True(t, errors.Is(err, payment.ErrProviderRejected), "got %v", err)

	_, err = c.FetchPaymentInfo(context.Background(), "busy")
	assert.True(t, errors.Is(err, payment.ErrProviderUnavailable), "got %v", err)

	_, err = c.FetchPaymentInfo(context.Background(), "boom")
	assert.True(t, errors.Is(err, payment.ErrProviderUnavailable), "got %v", err)
}
