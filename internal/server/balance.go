package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	balancedomain "github.com/smallbiznis/checkout/internal/balance/domain"
)

type chargeBalanceRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) ChargeBalance(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}

	var req chargeBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("amount", "invalid_amount", "invalid amount"))
		return
	}

	resp, err := s.balanceSvc.Charge(c.Request.Context(), balancedomain.ChargeRequest{
		UserID: userID,
		Amount: req.Amount,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetBalance(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}

	resp, err := s.balanceSvc.Get(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
