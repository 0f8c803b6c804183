package httpserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"shop-backend/internal/domain"
	"shop-backend/internal/payment"
	authsvc "shop-backend/internal/service/auth"
	cartsvc "shop-backend/internal/service/cart"
)

// writeError maps service errors to status codes. Unknown errors are logged
// and hidden behind a generic 500.
func (h *handlers) writeError(c *gin.Context, op string, err error) {
	var rej *payment.RejectionError
	switch {
	case errors.Is(err, payment.ErrProviderUnavailable):
		h.logger.Printf("%s: provider unavailable error=%v", op, err)
		c.JSON(http.StatusBadGateway, gin.H{"message": "payment provider unavailable, please retry", "retryable": true})
	case errors.As(err, &rej):
		c.JSON(http.StatusPaymentRequired, gin.H{"message": rej.Message, "code": rej.Code})
	case errors.Is(err, payment.ErrPaymentNotApproved), errors.Is(err, payment.ErrProviderRejected):
		c.JSON(http.StatusPaymentRequired, gin.H{"message": payment.Message("")})
	case errors.Is(err, payment.ErrUnknownProvider):
		c.JSON(http.StatusNotFound, gin.H{"message": "unknown payment provider"})
	case errors.Is(err, domain.ErrEmptyCart), errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	case errors.Is(err, authsvc.ErrEmailTaken):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	case errors.Is(err, authsvc.ErrInvalidCredentials), errors.Is(err, authsvc.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
	case errors.Is(err, cartsvc.ErrProductNotFound), errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "not found"})
	default:
		h.logger.Printf("%s: error=%v", op, err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error"})
	}
}
