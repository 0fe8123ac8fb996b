package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nathanyu/level2-book/internal/domain"
	"github.com/nathanyu/level2-book/internal/marketdata"
	"github.com/nathanyu/level2-book/internal/middleware"
	"github.com/nathanyu/level2-book/internal/orderbook"
	"github.com/nathanyu/level2-book/internal/protocol"
	"github.com/nathanyu/level2-book/internal/sequencer"
	"github.com/nathanyu/level2-book/internal/session"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pub := marketdata.NewPublisher(16, zap.NewNop())
	seq := sequencer.NewSequencer(orderbook.NewOrderBook("TEST"), pub, 64, zap.NewNop())
	seq.Start()
	hub := session.NewHub(seq, pub, session.Config{}, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		seq.Stop()
	})

	r := gin.New()
	r.Use(middleware.PrometheusMiddleware())
	NewHandler(seq, pub, hub, "TEST").RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	r := newRouter(t)

	w := do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "TEST", body["instrument"])
}

func TestOrderLifecycle(t *testing.T) {
	r := newRouter(t)

	w := do(r, http.MethodPost, "/v1/order", `{"side":"bid","price":100,"quantity":10}`)
	require.Equal(t, http.StatusCreated, w.Code)
	placed := decode[domain.Result](t, w)
	assert.Equal(t, domain.OrderID(1), placed.OrderID)
	assert.Equal(t, uint64(1), placed.Seq)

	w = do(r, http.MethodPost, "/v1/order", `{"side":"buy","price":100,"quantity":5}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodPatch, "/v1/order/1", `{"quantity":20}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/v1/marketdata/orderBook/L2?depth=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[domain.L2OrderBook](t, w)
	assert.Equal(t, "TEST", snap.Symbol)
	assert.Equal(t, uint64(3), snap.Seq)
	assert.Equal(t, []domain.PriceLevel{{Price: 100, Quantity: 25}}, snap.Bids)
	assert.Empty(t, snap.Asks)

	w = do(r, http.MethodDelete, "/v1/order/1", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodDelete, "/v1/order/1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(domain.KindOrderNotFound), decode[map[string]any](t, w)["kind"])

	w = do(r, http.MethodGet, "/v1/marketdata/deltas?count=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	deltas := decode[[]domain.Delta](t, w)
	require.Len(t, deltas, 2)
	assert.Equal(t, domain.Delta{Seq: 4, Side: domain.SideBid, Price: 100, Quantity: 5}, deltas[1])
}

func TestPlaceOrderValidation(t *testing.T) {
	r := newRouter(t)

	tests := []struct {
		name string
		body string
		kind domain.ErrorKind
	}{
		{"zero quantity", `{"side":"ask","price":100,"quantity":0}`, domain.KindInvalidQuantity},
		{"negative price", `{"side":"ask","price":-1,"quantity":1}`, domain.KindInvalidPrice},
		{"bad side", `{"side":"up","price":100,"quantity":1}`, domain.KindProtocolError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/v1/order", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, string(tt.kind), decode[map[string]any](t, w)["kind"])
		})
	}

	w := do(r, http.MethodPost, "/v1/order", `{"side":"ask","price":100}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodDelete, "/v1/order/abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueries(t *testing.T) {
	r := newRouter(t)

	w := do(r, http.MethodGet, "/v1/marketdata/top?side=ask", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(domain.KindEmptyBook), decode[map[string]any](t, w)["kind"])

	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/v1/order", `{"side":"ask","price":101,"quantity":4}`).Code)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/v1/order", `{"side":"ask","price":102,"quantity":6}`).Code)

	w = do(r, http.MethodGet, "/v1/marketdata/top?side=ask", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(101), decode[domain.Result](t, w).Price)

	w = do(r, http.MethodGet, "/v1/marketdata/depth?side=ask", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[domain.Result](t, w).Levels)

	w = do(r, http.MethodGet, "/v1/marketdata/size?side=ask&price=102", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(6), decode[domain.Result](t, w).Quantity)

	w = do(r, http.MethodGet, "/v1/marketdata/size?side=ask&price=103", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/v1/marketdata/size?side=ask&price=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestL2OrderBookDepth(t *testing.T) {
	r := newRouter(t)

	for price := 1; price <= 12; price++ {
		body := `{"side":"bid","price":` + strconv.Itoa(price) + `,"quantity":1}`
		require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/v1/order", body).Code)
	}

	for _, path := range []string{"/v1/marketdata/orderBook/L2", "/v1/marketdata/orderBook/L2?depth=0"} {
		w := do(r, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, w.Code, path)
		snap := decode[domain.L2OrderBook](t, w)
		assert.Len(t, snap.Bids, 12, path)
		assert.Equal(t, int64(12), snap.Bids[0].Price)
	}

	w := do(r, http.MethodGet, "/v1/marketdata/orderBook/L2?depth=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[domain.L2OrderBook](t, w).Bids, 3)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/marketdata/orderBook/L2?depth=-1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/marketdata/orderBook/L2?depth=x", "").Code)
}

func TestStreamAndSessions(t *testing.T) {
	r := newRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.DecodeServerMessage(frame)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeConnected, msg.Type)

	resp, err := http.Get(srv.URL + "/v1/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	var infos []session.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	require.Len(t, infos, 1)
	assert.Equal(t, msg.Session, infos[0].ID)
}
