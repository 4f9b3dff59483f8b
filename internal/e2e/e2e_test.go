package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/checkout/internal/balance"
	"github.com/smallbiznis/checkout/internal/cache"
	"github.com/smallbiznis/checkout/internal/clock"
	"github.com/smallbiznis/checkout/internal/config"
	"github.com/smallbiznis/checkout/internal/counter"
	"github.com/smallbiznis/checkout/internal/coupon"
	"github.com/smallbiznis/checkout/internal/events/handlers"
	"github.com/smallbiznis/checkout/internal/events/outbox"
	"github.com/smallbiznis/checkout/internal/invalidation"
	"github.com/smallbiznis/checkout/internal/lock"
	"github.com/smallbiznis/checkout/internal/logger"
	"github.com/smallbiznis/checkout/internal/migration"
	"github.com/smallbiznis/checkout/internal/observability"
	"github.com/smallbiznis/checkout/internal/orchestrator"
	"github.com/smallbiznis/checkout/internal/order"
	"github.com/smallbiznis/checkout/internal/product"
	"github.com/smallbiznis/checkout/internal/ratelimit"
	"github.com/smallbiznis/checkout/internal/scheduler"
	"github.com/smallbiznis/checkout/internal/server"
	"github.com/smallbiznis/checkout/internal/user"
	"github.com/smallbiznis/checkout/internal/worker"
	"github.com/smallbiznis/checkout/pkg/db"
	"github.com/smallbiznis/checkout/pkg/redisclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type testEnv struct {
	app     *fx.App
	db      *gorm.DB
	baseURL string
	httpSrv *httptest.Server
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	setDefaultEnv()

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

// startEnv boots the production graph on sqlite with in-memory coordination.
func startEnv() (*testEnv, error) {
	var (
		engine *gin.Engine
		dbConn *gorm.DB
	)

	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		clock.Module,
		db.Module,
		migration.Module,
		redisclient.Module,
		lock.Module,
		counter.Module,
		cache.Module,
		invalidation.Module,
		worker.Module,
		outbox.Module,
		handlers.Module,
		orchestrator.Module,
		user.Module,
		balance.Module,
		product.Module,
		coupon.Module,
		order.Module,
		scheduler.Module,
		ratelimit.Module,
		server.Module,
		fx.NopLogger,
		fx.Populate(&engine, &dbConn),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return nil, err
	}

	httpSrv := httptest.NewServer(engine)
	return &testEnv{
		app:     app,
		db:      dbConn,
		baseURL: httpSrv.URL,
		httpSrv: httpSrv,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
	if e.app != nil {
		_ = e.app.Stop(context.Background())
	}
}

func setDefaultEnv() {
	setEnvIfEmpty("ENVIRONMENT", "test")
	setEnvIfEmpty("LOG_LEVEL", "error")
	setEnvIfEmpty("HTTP_ADDR", "127.0.0.1:0")
	setEnvIfEmpty("DB_TYPE", "sqlite")
	setEnvIfEmpty("DB_NAME", "file:checkout_e2e?mode=memory&cache=shared")
	// The in-memory database lives as long as its only connection.
	setEnvIfEmpty("DB_MAX_OPEN_CONN", "1")
	setEnvIfEmpty("DB_CONN_MAX_LIFETIME", "0")
	setEnvIfEmpty("DB_CONN_MAX_IDLE_TIME", "0")
	setEnvIfEmpty("COORDINATION_IN_MEMORY", "true")
	setEnvIfEmpty("SCHEDULER_RUN_INTERVAL", "100ms")
}

func setEnvIfEmpty(key, value string) {
	if strings.TrimSpace(os.Getenv(key)) != "" {
		return
	}
	_ = os.Setenv(key, value)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Type      string `json:"type"`
		Code      string `json:"code"`
		Retryable bool   `json:"retryable"`
	} `json:"error"`
}

func doJSON(t *testing.T, method, path string, payload any) (int, envelope) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, env.baseURL+path, body)
	require.NoError(t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out envelope
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

// postStatus is safe to call from goroutines other than the test's.
func postStatus(path string, payload any) (int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	resp, err := http.Post(env.baseURL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func mustData[T any](t *testing.T, status int, env envelope) T {
	t.Helper()
	require.Equal(t, http.StatusOK, status, "error: %+v", env.Error)
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

type idView struct {
	ID string `json:"id"`
}

type balanceView struct {
	Amount decimal.Decimal `json:"amount"`
}

type payView struct {
	Order struct {
		Status string `json:"status"`
	} `json:"order"`
	Payment struct {
		Amount         decimal.Decimal `json:"amount"`
		DiscountAmount decimal.Decimal `json:"discount_amount"`
	} `json:"payment"`
}

type stockView struct {
	Stock     int `json:"stock"`
	Reserved  int `json:"reserved"`
	Available int `json:"available"`
}

type popularView struct {
	ID           string `json:"id"`
	SoldQuantity int64  `json:"sold_quantity"`
}

func createUser(t *testing.T, name string) string {
	t.Helper()
	status, out := doJSON(t, http.MethodPost, "/v1/users", map[string]any{"name": name})
	return mustData[idView](t, status, out).ID
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestE2E_CheckoutWithCoupon(t *testing.T) {
	userID := createUser(t, "buyer")

	status, out := doJSON(t, http.MethodPost, "/v1/balances/"+userID+"/charge", map[string]any{"amount": 10000})
	bal := mustData[balanceView](t, status, out)
	assert.True(t, bal.Amount.Equal(decimal.NewFromInt(10000)))

	status, out = doJSON(t, http.MethodPost, "/v1/products", map[string]any{
		"name": "keyboard", "price": 1000, "stock": 5,
	})
	productID := mustData[idView](t, status, out).ID

	now := time.Now().UTC()
	status, out = doJSON(t, http.MethodPost, "/v1/coupons", map[string]any{
		"code":          fmt.Sprintf("E2E-%d", now.UnixNano()),
		"name":          "ten off",
		"discount_rate": "0.1",
		"max_issuance":  1,
		"start_date":    now.Add(-time.Hour),
		"end_date":      now.Add(24 * time.Hour),
	})
	couponID := mustData[idView](t, status, out).ID

	status, out = doJSON(t, http.MethodPost, "/v1/coupons/"+couponID+"/issue", map[string]any{"user_id": userID})
	mustData[idView](t, status, out)

	status, out = doJSON(t, http.MethodPost, "/v1/coupons/"+couponID+"/issue", map[string]any{"user_id": userID})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "C005", out.Error.Code)

	status, out = doJSON(t, http.MethodPost, "/v1/orders", map[string]any{
		"user_id": userID,
		"items":   []map[string]any{{"product_id": productID, "quantity": 2}},
	})
	orderID := mustData[idView](t, status, out).ID

	status, out = doJSON(t, http.MethodGet, "/v1/products/"+productID+"/stock", nil)
	stock := mustData[stockView](t, status, out)
	assert.Equal(t, 2, stock.Reserved)
	assert.Equal(t, 3, stock.Available)

	status, out = doJSON(t, http.MethodPost, "/v1/orders/"+orderID+"/pay", map[string]any{
		"user_id": userID, "coupon_id": couponID,
	})
	paid := mustData[payView](t, status, out)
	assert.Equal(t, "COMPLETED", paid.Order.Status)
	assert.True(t, paid.Payment.Amount.Equal(decimal.NewFromInt(1800)), paid.Payment.Amount.String())
	assert.True(t, paid.Payment.DiscountAmount.Equal(decimal.NewFromInt(200)))

	status, out = doJSON(t, http.MethodPost, "/v1/orders/"+orderID+"/pay", map[string]any{"user_id": userID})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "O003", out.Error.Code)

	status, out = doJSON(t, http.MethodGet, "/v1/balances/"+userID, nil)
	bal = mustData[balanceView](t, status, out)
	assert.True(t, bal.Amount.Equal(decimal.NewFromInt(8200)), bal.Amount.String())

	status, out = doJSON(t, http.MethodGet, "/v1/products/"+productID+"/stock", nil)
	stock = mustData[stockView](t, status, out)
	assert.Equal(t, 3, stock.Stock)
	assert.Equal(t, 0, stock.Reserved)

	// Popularity is fed by the outbox relay.
	require.Eventually(t, func() bool {
		var pending int64
		require.NoError(t, env.db.Table("outbox_events").Where("published_at IS NULL").Count(&pending).Error)
		return pending == 0
	}, 10*time.Second, 50*time.Millisecond)

	status, out = doJSON(t, http.MethodGet, "/v1/products/popular?days=1&limit=50", nil)
	popular := mustData[[]popularView](t, status, out)
	found := false
	for _, p := range popular {
		if p.ID == productID {
			found = true
			assert.Equal(t, int64(2), p.SoldQuantity)
		}
	}
	assert.True(t, found, "product missing from popular list")
}

func TestE2E_CouponContention(t *testing.T) {
	now := time.Now().UTC()
	status, out := doJSON(t, http.MethodPost, "/v1/coupons", map[string]any{
		"code":          fmt.Sprintf("RUSH-%d", now.UnixNano()),
		"name":          "rush",
		"discount_rate": "0.5",
		"max_issuance":  3,
		"start_date":    now.Add(-time.Hour),
		"end_date":      now.Add(time.Hour),
	})
	couponID := mustData[idView](t, status, out).ID

	users := make([]string, 10)
	for i := range users {
		users[i] = createUser(t, fmt.Sprintf("rush-%d", i))
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	for _, u := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			status, err := postStatus("/v1/coupons/"+couponID+"/issue", map[string]any{"user_id": userID})
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			statuses[status]++
			mu.Unlock()
		}(u)
	}
	wg.Wait()

	assert.Equal(t, 3, statuses[http.StatusOK])
	assert.Equal(t, 7, statuses[http.StatusConflict])

	var issued int64
	require.NoError(t, env.db.Table("coupon_histories").Where("coupon_id = ?", couponID).Count(&issued).Error)
	assert.Equal(t, int64(3), issued)
}

func TestE2E_UnknownUser(t *testing.T) {
	status, out := doJSON(t, http.MethodPost, "/v1/balances/123456/charge", map[string]any{"amount": 5000})

	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "U001", out.Error.Code)
}
