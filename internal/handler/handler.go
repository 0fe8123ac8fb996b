package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nathanyu/level2-book/internal/domain"
	"github.com/nathanyu/level2-book/internal/marketdata"
	"github.com/nathanyu/level2-book/internal/sequencer"
	"github.com/nathanyu/level2-book/internal/session"
)

// HTTPSessionID is the session id under which REST commands are sequenced.
const HTTPSessionID = "http"

// Handler holds the HTTP handler dependencies.
type Handler struct {
	seq       *sequencer.Sequencer
	publisher *marketdata.Publisher
	hub       *session.Hub
	symbol    string
}

// NewHandler creates a new Handler.
func NewHandler(seq *sequencer.Sequencer, publisher *marketdata.Publisher, hub *session.Hub, symbol string) *Handler {
	return &Handler{
		seq:       seq,
		publisher: publisher,
		hub:       hub,
		symbol:    symbol,
	}
}

// RegisterRoutes sets up the Gin routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	v1 := r.Group("/v1")
	{
		v1.GET("/stream", h.Stream)
		v1.POST("/order", h.PlaceOrder)
		v1.PATCH("/order/:id", h.AmendOrder)
		v1.DELETE("/order/:id", h.CancelOrder)
		v1.GET("/marketdata/orderBook/L2", h.GetL2OrderBook)
		v1.GET("/marketdata/deltas", h.GetDeltas)
		v1.GET("/marketdata/top", h.GetTop)
		v1.GET("/marketdata/depth", h.GetDepth)
		v1.GET("/marketdata/size", h.GetSize)
		v1.GET("/sessions", h.GetSessions)
	}
}

// Health returns a health check response.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"service":    "l2book",
		"instrument": h.symbol,
		"seq":        h.seq.CurrentSeq(),
		"sessions":   h.hub.Len(),
	})
}

// Stream handles GET /v1/stream, the WebSocket command and market data stream.
func (h *Handler) Stream(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}

// PlaceOrderRequest is the request body for placing an order.
type PlaceOrderRequest struct {
	Side     string `json:"side" binding:"required"`
	Price    *int64 `json:"price" binding:"required"`
	Quantity *int64 `json:"quantity" binding:"required"`
}

// PlaceOrder handles POST /v1/order.
func (h *Handler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	side, err := domain.ParseSide(req.Side)
	if err != nil {
		writeError(c, err)
		return
	}

	h.submit(c, http.StatusCreated, domain.Command{
		Kind:     domain.CommandPlace,
		Side:     side,
		Price:    *req.Price,
		Quantity: *req.Quantity,
	})
}

// AmendOrderRequest is the request body for amending an order.
type AmendOrderRequest struct {
	Quantity *int64 `json:"quantity" binding:"required"`
}

// AmendOrder handles PATCH /v1/order/:id.
func (h *Handler) AmendOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}

	var req AmendOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.submit(c, http.StatusOK, domain.Command{Kind: domain.CommandAmend, OrderID: id, Quantity: *req.Quantity})
}

// CancelOrder handles DELETE /v1/order/:id.
func (h *Handler) CancelOrder(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	h.submit(c, http.StatusOK, domain.Command{Kind: domain.CommandCancel, OrderID: id})
}

// GetL2OrderBook handles GET /v1/marketdata/orderBook/L2.
func (h *Handler) GetL2OrderBook(c *gin.Context) {
	// Zero or absent depth returns the full book.
	depth, err := strconv.Atoi(c.DefaultQuery("depth", "0"))
	if err != nil || depth < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "depth must be a non-negative integer"})
		return
	}

	res, err := h.seq.Submit(c.Request.Context(), HTTPSessionID, domain.Command{Kind: domain.CommandSnapshot, Depth: depth})
	if err != nil {
		writeError(c, err)
		return
	}
	snap := res.Snapshot
	if snap.Bids == nil {
		snap.Bids = []domain.PriceLevel{}
	}
	if snap.Asks == nil {
		snap.Asks = []domain.PriceLevel{}
	}
	c.JSON(http.StatusOK, snap)
}

// GetDeltas handles GET /v1/marketdata/deltas.
func (h *Handler) GetDeltas(c *gin.Context) {
	countStr := c.DefaultQuery("count", "100")
	count, err := strconv.Atoi(countStr)
	if err != nil || count <= 0 {
		count = 100
	}

	deltas := h.publisher.Recent(count)
	if deltas == nil {
		deltas = []domain.Delta{}
	}
	c.JSON(http.StatusOK, deltas)
}

// GetTop handles GET /v1/marketdata/top?side=.
func (h *Handler) GetTop(c *gin.Context) {
	h.query(c, domain.CommandTop)
}

// GetDepth handles GET /v1/marketdata/depth?side=.
func (h *Handler) GetDepth(c *gin.Context) {
	h.query(c, domain.CommandDepth)
}

// GetSize handles GET /v1/marketdata/size?side=&price=.
func (h *Handler) GetSize(c *gin.Context) {
	h.query(c, domain.CommandSize)
}

// GetSessions handles GET /v1/sessions.
func (h *Handler) GetSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.hub.Sessions())
}

func (h *Handler) query(c *gin.Context, kind domain.CommandKind) {
	side, err := domain.ParseSide(c.Query("side"))
	if err != nil {
		writeError(c, err)
		return
	}

	cmd := domain.Command{Kind: kind, Side: side}
	if kind == domain.CommandSize {
		price, err := strconv.ParseInt(c.Query("price"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "price must be an integer"})
			return
		}
		cmd.Price = price
	}
	h.submit(c, http.StatusOK, cmd)
}

func (h *Handler) submit(c *gin.Context, status int, cmd domain.Command) {
	res, err := h.seq.Submit(c.Request.Context(), HTTPSessionID, cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(status, res)
}

func orderID(c *gin.Context) (domain.OrderID, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order id must be a positive integer"})
		return 0, false
	}
	return domain.OrderID(id), true
}

func writeError(c *gin.Context, err error) {
	kind := domain.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case domain.KindInvalidQuantity, domain.KindInvalidPrice, domain.KindProtocolError:
		status = http.StatusBadRequest
	case domain.KindOrderNotFound, domain.KindEmptyBook, domain.KindPriceLevelNotFound:
		status = http.StatusNotFound
	case domain.KindOverloaded:
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
}
