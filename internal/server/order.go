package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/checkout/internal/order/domain"
)

type orderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	UserID string             `json:"user_id"`
	Items  []orderItemRequest `json:"items"`
}

type payOrderRequest struct {
	UserID   string `json:"user_id"`
	CouponID string `json:"coupon_id"`
}

type cancelOrderRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, ok := fieldID(c, "user_id", req.UserID)
	if !ok {
		return
	}

	items := make([]orderdomain.ItemRequest, 0, len(req.Items))
	for _, item := range req.Items {
		productID, ok := fieldID(c, "product_id", item.ProductID)
		if !ok {
			return
		}
		items = append(items, orderdomain.ItemRequest{ProductID: productID, Quantity: item.Quantity})
	}

	resp, err := s.orderSvc.Create(c.Request.Context(), orderdomain.CreateRequest{
		UserID: userID,
		Items:  items,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetOrder(c *gin.Context) {
	orderID, ok := pathID(c, "order_id")
	if !ok {
		return
	}
	userID, ok := fieldID(c, "user_id", c.Query("user_id"))
	if !ok {
		return
	}

	resp, err := s.orderSvc.Get(c.Request.Context(), userID, orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) PayOrder(c *gin.Context) {
	orderID, ok := pathID(c, "order_id")
	if !ok {
		return
	}

	var req payOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, ok := fieldID(c, "user_id", req.UserID)
	if !ok {
		return
	}
	couponID, err := parseOptionalSnowflakeID(req.CouponID)
	if err != nil {
		AbortWithError(c, newValidationError("coupon_id", "invalid_coupon_id", "invalid coupon id"))
		return
	}

	resp, err := s.orderSvc.Pay(c.Request.Context(), orderdomain.PayRequest{
		UserID:   userID,
		OrderID:  orderID,
		CouponID: couponID,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelOrder(c *gin.Context) {
	orderID, ok := pathID(c, "order_id")
	if !ok {
		return
	}

	var req cancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	userID, ok := fieldID(c, "user_id", req.UserID)
	if !ok {
		return
	}

	resp, err := s.orderSvc.Cancel(c.Request.Context(), userID, orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListUserOrders(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	page, ok := bindPage(c)
	if !ok {
		return
	}

	resp, err := s.orderSvc.List(c.Request.Context(), userID, page)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
