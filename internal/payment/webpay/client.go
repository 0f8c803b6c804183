// Package webpay adapts the Transbank Webpay Plus REST API (redirect and commit).
package webpay

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

	"github.com/shopspring/decimal"
	"shop-backend/internal/payment"
)

const transactionsPath = "/rswebpaytransaction/api/webpay/v1.2/transactions"

// Webpay limits on buy_order and session_id lengths.
const (
	maxBuyOrderLen  = 26
	maxSessionIDLen = 61
)

type Config struct {
	BaseURL      string
	CommerceCode string
	APIKey       string
	Timeout      time.Duration
	// Digits is the currency's fraction digits; CLP has none.
	Digits int32
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *log.Logger
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
	return &Client{cfg: cfg, http: httpClient, logger: logger}
}

func (c *Client) Name() string { return payment.ProviderWebpay }

type createBody struct {
	BuyOrder  string      `json:"buy_order"`
	SessionID string      `json:"session_id"`
	Amount    json.Number `json:"amount"`
	ReturnURL string      `json:"return_url"`
}

type createResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

type commitResponse struct {
	VCI          string          `json:"vci"`
	Amount       decimal.Decimal `json:"amount"`
	Status       string          `json:"status"`
	BuyOrder     string          `json:"buy_order"`
	SessionID    string          `json:"session_id"`
	ResponseCode int             `json:"response_code"`
	CardDetail   struct {
		CardNumber string `json:"card_number"`
	} `json:"card_detail"`
	AuthorizationCode string `json:"authorization_code"`
	PaymentTypeCode   string `json:"payment_type_code"`
}

type errorResponse struct {
	ErrorMessage string `json:"error_message"`
}

func (c *Client) CreateTransaction(ctx context.Context, req payment.CreateRequest) (payment.CreateResult, error) {
	if len(req.BuyOrder) > maxBuyOrderLen {
		return payment.CreateResult{}, fmt.Errorf("webpay: buy_order longer than %d chars", maxBuyOrderLen)
	}
	session := req.BuyerID
	if len(session) > maxSessionIDLen {
		session = session[:maxSessionIDLen]
	}
	body := createBody{
		BuyOrder:  req.BuyOrder,
		SessionID: session,
		Amount:    json.Number(payment.FromMinor(req.Amount, c.cfg.Digits).String()),
		ReturnURL: req.ReturnURL,
	}
	var out createResponse
	if err := c.do(ctx, http.MethodPost, transactionsPath, body, &out); err != nil {
		c.logger.Printf("webpay: create buy_order=%s error=%v", req.BuyOrder, err)
		return payment.CreateResult{}, err
	}
	if out.Token == "" || out.URL == "" {
		return payment.CreateResult{}, fmt.Errorf("%w: webpay returned no token or url", payment.ErrProviderUnavailable)
	}
	c.logger.Printf("webpay: created buy_order=%s token=%s", req.BuyOrder, out.Token)
	return payment.CreateResult{
		Token:       out.Token,
		RedirectURL: out.URL + "?token_ws=" + url.QueryEscape(out.Token),
	}, nil
}

// ConfirmTransaction commits the transaction. Webpay accepts a single commit
// per token; a second commit is rejected by the provider.
func (c *Client) ConfirmTransaction(ctx context.Context, token string) (payment.Commit, error) {
	if strings.TrimSpace(token) == "" {
		return payment.Commit{}, errors.New("webpay: token required")
	}
	var out commitResponse
	if err := c.do(ctx, http.MethodPut, transactionsPath+"/"+url.PathEscape(token), nil, &out); err != nil {
		c.logger.Printf("webpay: commit token=%s error=%v", token, err)
		return payment.Commit{}, err
	}
	c.logger.Printf("webpay: commit token=%s status=%s response_code=%d", token, out.Status, out.ResponseCode)
	return c.toCommit(out), nil
}

// TransactionStatus reads the outcome of an already committed transaction.
// It is safe to repeat.
func (c *Client) TransactionStatus(ctx context.Context, token string) (payment.Commit, error) {
	if strings.TrimSpace(token) == "" {
		return payment.Commit{}, errors.New("webpay: token required")
	}
	var out commitResponse
	if err := c.do(ctx, http.MethodGet, transactionsPath+"/"+url.PathEscape(token), nil, &out); err != nil {
		c.logger.Printf("webpay: status token=%s error=%v", token, err)
		return payment.Commit{}, err
	}
	c.logger.Printf("webpay: status token=%s status=%s response_code=%d", token, out.Status, out.ResponseCode)
	return c.toCommit(out), nil
}

func (c *Client) toCommit(out commitResponse) payment.Commit {
	commit := payment.Commit{
		Status:           payment.CommitRejected,
		ProviderOrderRef: out.BuyOrder,
		Amount:           payment.ToMinor(out.Amount, c.cfg.Digits),
		CardSuffix:       out.CardDetail.CardNumber,
		ResponseCode:     strconv.Itoa(out.ResponseCode),
	}
	if out.Status == "AUTHORIZED" && out.ResponseCode == 0 {
		commit.Status = payment.CommitAuthorized
	}
	return commit
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
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
	req.Header.Set("Tbk-Api-Key-Id", c.cfg.CommerceCode)
	req.Header.Set("Tbk-Api-Key-Secret", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

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
		return &payment.RejectionError{
			Kind:    payment.ErrProviderRejected,
			Code:    strconv.Itoa(resp.StatusCode),
			Message: rejectionMessage(e.ErrorMessage),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", payment.ErrProviderUnavailable, err)
	}
	return nil
}

func rejectionMessage(providerMsg string) string {
	lower := strings.ToLower(providerMsg)
	if strings.Contains(lower, "locked") || strings.Contains(lower, "already") {
		return payment.Message("already_committed")
	}
	return payment.Message("")
}
