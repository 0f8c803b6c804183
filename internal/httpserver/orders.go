package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"shop-backend/internal/domain"
	"shop-backend/internal/payment"
	"shop-backend/internal/service/checkout"
)

type initiateResponse struct {
	Token        string `json:"token"`
	PreferenceID string `json:"preferenceId,omitempty"`
	RedirectURL  string `json:"redirectUrl"`
	BuyOrder     string `json:"buyOrder"`
	Total        int64  `json:"total"`
}

func (h *handlers) initiate(c *gin.Context) {
	res, err := h.deps.CheckoutSvc.Initiate(c.Request.Context(), c.Param("provider"), currentUser(c).ID)
	if err != nil {
		h.writeError(c, "initiate checkout", err)
		return
	}
	out := initiateResponse{Token: res.Token, RedirectURL: res.RedirectURL, BuyOrder: res.BuyOrder, Total: res.Total}
	if res.Provider == payment.ProviderMercadoPago {
		out.PreferenceID = res.Token
	}
	c.JSON(http.StatusOK, out)
}

// webhook always answers 200 with an empty body, whatever happens downstream.
func (h *handlers) webhook(c *gin.Context) {
	body, _ := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	n := parseNotification(c.Request.URL.Query(), body)
	h.deps.CheckoutSvc.HandleWebhook(c.Request.Context(), c.Param("provider"), n)
	c.Status(http.StatusOK)
}

type notificationBody struct {
	Type     string `json:"type"`
	Topic    string `json:"topic"`
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Data     struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

// parseNotification accepts both the JSON webhook shape and the query-string
// IPN shape. Anything unreadable yields an empty Notification.
func parseNotification(q map[string][]string, body []byte) checkout.Notification {
	var n checkout.Notification
	var b notificationBody
	if len(body) > 0 && json.Unmarshal(body, &b) == nil {
		n.Topic = firstNonEmpty(b.Type, b.Topic)
		n.ResourceID = rawID(b.Data.ID)
		if n.ResourceID == "" {
			n.ResourceID = lastPathSegment(b.Resource)
		}
	}
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	if n.Topic == "" {
		n.Topic = firstNonEmpty(get("type"), get("topic"))
	}
	if n.ResourceID == "" {
		n.ResourceID = firstNonEmpty(get("data.id"), get("id"))
	}
	return n
}

func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var num json.Number
	if json.Unmarshal(raw, &num) == nil {
		return num.String()
	}
	return ""
}

func lastPathSegment(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), "/")
	if i := strings.LastIndexByte(s, '/'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func (h *handlers) confirm(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid parameters"})
		return
	}
	res, err := h.deps.CheckoutSvc.ConfirmRedirect(c.Request.Context(), c.Param("provider"), currentUser(c).ID, c.Request.Form)
	if err != nil {
		h.writeError(c, "confirm payment", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) listOrders(c *gin.Context) {
	orders, err := h.deps.CheckoutSvc.ListOrders(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.writeError(c, "list orders", err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	c.JSON(http.StatusOK, orders)
}

type testCard struct {
	Brand  string `json:"brand"`
	Number string `json:"number"`
	CVV    string `json:"cvv"`
	Expiry string `json:"expiry"`
}

type testHolder struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

var mercadoPagoTestCards = gin.H{
	"cards": []testCard{
		{Brand: "mastercard", Number: "5416 7526 0258 2580", CVV: "123", Expiry: "11/30"},
		{Brand: "visa", Number: "4168 8188 4444 7115", CVV: "123", Expiry: "11/30"},
		{Brand: "amex", Number: "3757 781744 61804", CVV: "1234", Expiry: "11/30"},
		{Brand: "mastercard debit", Number: "5241 0198 2664 6950", CVV: "123", Expiry: "11/30"},
	},
	"holders": []testHolder{
		{Name: "APRO", Result: "approved"},
		{Name: "CONT", Result: "pending"},
		{Name: "OTHE", Result: "rejected: general error"},
		{Name: "FUND", Result: "rejected: insufficient amount"},
		{Name: "SECU", Result: "rejected: invalid security code"},
		{Name: "EXPI", Result: "rejected: expiration date"},
		{Name: "FORM", Result: "rejected: form error"},
	},
	"document": gin.H{"type": "RUT", "number": "11111111-1"},
}

func (h *handlers) testCards(c *gin.Context) {
	c.JSON(http.StatusOK, mercadoPagoTestCards)
}
