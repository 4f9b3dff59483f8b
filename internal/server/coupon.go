package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	coupondomain "github.com/smallbiznis/checkout/internal/coupon/domain"
)

type createCouponRequest struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	DiscountRate decimal.Decimal `json:"discount_rate"`
	MaxIssuance  int             `json:"max_issuance"`
	StartDate    time.Time       `json:"start_date"`
	EndDate      time.Time       `json:"end_date"`
}

type issueCouponRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) CreateCoupon(c *gin.Context) {
	var req createCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.couponSvc.Create(c.Request.Context(), coupondomain.CreateRequest{
		Code:         strings.TrimSpace(req.Code),
		Name:         strings.TrimSpace(req.Name),
		DiscountRate: req.DiscountRate,
		MaxIssuance:  req.MaxIssuance,
		StartDate:    req.StartDate.UTC(),
		EndDate:      req.EndDate.UTC(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetCoupon(c *gin.Context) {
	couponID, ok := pathID(c, "coupon_id")
	if !ok {
		return
	}

	resp, err := s.couponSvc.Get(c.Request.Context(), couponID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) IssueCoupon(c *gin.Context) {
	couponID, ok := pathID(c, "coupon_id")
	if !ok {
		return
	}

	var req issueCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, ok := fieldID(c, "user_id", req.UserID)
	if !ok {
		return
	}

	resp, err := s.couponSvc.Issue(c.Request.Context(), userID, couponID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListUserCoupons(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	page, ok := bindPage(c)
	if !ok {
		return
	}

	resp, err := s.couponSvc.ListForUser(c.Request.Context(), userID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
