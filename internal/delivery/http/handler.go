package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/entity"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/repository"
	"github.com/raviteja-iiith/e-merchandise-sub001/internal/service"
)

const (
	headerUserID         = "X-User-ID"
	headerVendorID       = "X-Vendor-ID"
	headerIdempotencyKey = "Idempotency-Key"
)

// Handler handles HTTP requests for the application.
type Handler struct {
	orderSvc *service.OrderService
	cartSvc  *service.CartService
	products repository.ProductRepository
	gatherer prometheus.Gatherer
}

func NewHandler(orderSvc *service.OrderService, cartSvc *service.CartService, products repository.ProductRepository, gatherer prometheus.Gatherer) *Handler {
	return &Handler{
		orderSvc: orderSvc,
		cartSvc:  cartSvc,
		products: products,
		gatherer: gatherer,
	}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(), EnableCORS())
	h.RegisterRoutes(router)
	return router
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	api.GET("/products", h.handleGetProducts)

	cart := api.Group("/cart")
	{
		cart.GET("", h.handleGetCart)
		cart.DELETE("", h.handleClearCart)
		cart.POST("/items", h.handleAddCartItem)
		cart.PATCH("/items/:productId", h.handleUpdateCartItem)
		cart.DELETE("/items/:productId", h.handleRemoveCartItem)
		cart.POST("/coupon", h.handleApplyCoupon)
		cart.DELETE("/coupon", h.handleRemoveCoupon)
	}

	api.POST("/checkout", h.handleCheckout)

	orders := api.Group("/orders")
	{
		orders.GET("", h.handleGetOrders)
		orders.GET("/:id", h.handleGetOrder)
		orders.GET("/:id/events", h.handleGetOrderEvents)
		orders.POST("/:id/cancel", h.handleCancelOrder)
		orders.POST("/:id/return", h.handleReturnOrder)
		orders.POST("/:id/payment", h.handleConfirmPayment)
		orders.PATCH("/:id/items/:itemId", h.handleUpdateItemStatus)
	}

	api.GET("/vendor/orders", h.handleGetVendorOrders)
}

func (h *Handler) handleGetProducts(c *gin.Context) {
	products, err := h.products.FindAll(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": products, "total_count": len(products)})
}

// --- Cart ---

type addCartItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Variant   string `json:"variant"`
	Quantity  int    `json:"quantity" binding:"required"`
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity" binding:"required"`
}

type applyCouponRequest struct {
	Code string `json:"code" binding:"required"`
}

func (h *Handler) handleGetCart(c *gin.Context) {
	cart, err := h.cartSvc.GetCart(c.Request.Context(), c.GetHeader(headerUserID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) handleClearCart(c *gin.Context) {
	if err := h.cartSvc.ClearCart(c.Request.Context(), c.GetHeader(headerUserID)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) handleAddCartItem(c *gin.Context) {
	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	cart, err := h.cartSvc.AddItem(c.Request.Context(), c.GetHeader(headerUserID), req.ProductID, req.Variant, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) handleUpdateCartItem(c *gin.Context) {
	var req updateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	cart, err := h.cartSvc.UpdateItemQuantity(c.Request.Context(), c.GetHeader(headerUserID), c.Param("productId"), c.Query("variant"), req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) handleRemoveCartItem(c *gin.Context) {
	cart, err := h.cartSvc.RemoveItem(c.Request.Context(), c.GetHeader(headerUserID), c.Param("productId"), c.Query("variant"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) handleApplyCoupon(c *gin.Context) {
	var req applyCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	cart, err := h.cartSvc.ApplyCoupon(c.Request.Context(), c.GetHeader(headerUserID), req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

func (h *Handler) handleRemoveCoupon(c *gin.Context) {
	cart, err := h.cartSvc.RemoveCoupon(c.Request.Context(), c.GetHeader(headerUserID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart)
}

// --- Orders ---

type checkoutRequest struct {
	ShippingAddress entity.Address `json:"shipping_address"`
	PaymentMethod   string         `json:"payment_method"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type updateItemStatusRequest struct {
	Status         string `json:"status" binding:"required"`
	TrackingNumber string `json:"tracking_number"`
}

func (h *Handler) handleCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	order, err := h.orderSvc.Checkout(c.Request.Context(), service.CheckoutCommand{
		UserID:          c.GetHeader(headerUserID),
		IdempotencyKey:  c.GetHeader(headerIdempotencyKey),
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (h *Handler) handleGetOrders(c *gin.Context) {
	orders, err := h.orderSvc.ListOrdersByUser(c.Request.Context(), c.GetHeader(headerUserID), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": orders, "total_count": len(orders)})
}

func (h *Handler) handleGetVendorOrders(c *gin.Context) {
	orders, err := h.orderSvc.ListOrdersByVendor(c.Request.Context(), c.GetHeader(headerVendorID), queryLimit(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": orders, "total_count": len(orders)})
}

func (h *Handler) handleGetOrder(c *gin.Context) {
	order, err := h.orderSvc.GetOrder(c.Request.Context(), c.Param("id"), c.GetHeader(headerUserID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) handleGetOrderEvents(c *gin.Context) {
	events, err := h.orderSvc.History(c.Request.Context(), c.Param("id"), c.GetHeader(headerUserID))
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]gin.H, len(events))
	for i, e := range events {
		items[i] = gin.H{
			"version":    e.Version,
			"event_type": e.EventType,
			"payload":    jsonRaw(e.Payload),
			"created_at": e.CreatedAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total_count": len(items)})
}

func (h *Handler) handleCancelOrder(c *gin.Context) {
	var req reasonRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	order, err := h.orderSvc.Cancel(c.Request.Context(), c.Param("id"), c.GetHeader(headerUserID), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) handleReturnOrder(c *gin.Context) {
	var req reasonRequest
	if !bindOptionalJSON(c, &req) {
		return
	}

	order, err := h.orderSvc.RequestReturn(c.Request.Context(), c.Param("id"), c.GetHeader(headerUserID), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) handleConfirmPayment(c *gin.Context) {
	order, err := h.orderSvc.ConfirmPayment(c.Request.Context(), c.Param("id"), c.GetHeader(headerUserID))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) handleUpdateItemStatus(c *gin.Context) {
	var req updateItemStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	status, err := entity.ParseFulfillmentStatus(req.Status)
	if err != nil {
		respondError(c, err)
		return
	}

	order, err := h.orderSvc.UpdateItemStatus(c.Request.Context(), service.UpdateItemStatusCommand{
		OrderID:        c.Param("id"),
		ItemID:         c.Param("itemId"),
		VendorID:       c.GetHeader(headerVendorID),
		Status:         status,
		TrackingNumber: req.TrackingNumber,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// bindOptionalJSON decodes the body when there is one. It writes the 400
// itself and reports false on a malformed body.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.Query("limit"))
	if err != nil || limit <= 0 {
		return 0
	}
	return limit
}

// respondError maps error categories to status codes.
func respondError(c *gin.Context, err error) {
	var stockErr *entity.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":        err.Error(),
			"product_id":   stockErr.ProductID,
			"product_name": stockErr.ProductName,
			"requested":    stockErr.Requested,
		})
	case errors.Is(err, entity.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, entity.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, entity.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, entity.ErrAuthorization):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		slog.Error("Request failed", "method", c.Request.Method, "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
