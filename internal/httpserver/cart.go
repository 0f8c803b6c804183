package httpserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"shop-backend/internal/domain"
	cartsvc "shop-backend/internal/service/cart"
)

type cartResponse struct {
	domain.Cart
	TotalQuantity int `json:"totalQuantity"`
}

func toCartResponse(cart *domain.Cart) cartResponse {
	out := cartResponse{Cart: *cart, TotalQuantity: cart.TotalItems()}
	if out.Items == nil {
		out.Items = []domain.CartItem{}
	}
	return out
}

func (h *handlers) getCart(c *gin.Context) {
	cart, err := h.deps.CartSvc.Get(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.writeError(c, "get cart", err)
		return
	}
	c.JSON(http.StatusOK, toCartResponse(cart))
}

func (h *handlers) countCart(c *gin.Context) {
	n, err := h.deps.CartSvc.Count(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		h.writeError(c, "count cart", err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func (h *handlers) addToCart(c *gin.Context) {
	var req cartsvc.AddInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid body"})
		return
	}
	cart, err := h.deps.CartSvc.Add(c.Request.Context(), currentUser(c).ID, req)
	if err != nil {
		h.writeError(c, "add to cart", err)
		return
	}
	c.JSON(http.StatusOK, toCartResponse(cart))
}

func (h *handlers) removeFromCart(c *gin.Context) {
	cart, err := h.deps.CartSvc.Remove(c.Request.Context(), currentUser(c).ID, c.Param("productId"))
	if err != nil {
		h.writeError(c, "remove from cart", err)
		return
	}
	c.JSON(http.StatusOK, toCartResponse(cart))
}
