package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cnop-core/internal/apperrors"
	"cnop-core/internal/auth"
	"cnop-core/internal/dao"
	"cnop-core/internal/kvstore"
	"cnop-core/internal/lock"
	"cnop-core/internal/models"
	"cnop-core/internal/transaction"
)

type testServer struct {
	server *httptest.Server
	assets *dao.AssetDAO
	tokens *auth.TokenService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	tables := dao.Tables{Users: "users", Orders: "orders", Inventory: "inventory"}
	cfg := models.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 10,
		MaxIdleConns: 2,
		PingTimeout:  5 * time.Second,
		MaxRetries:   2,
	}
	store, err := kvstore.NewStore(context.Background(), cfg, dao.TableSpecs(tables)...)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	users := dao.NewUserDAO(store, tables)
	balances := dao.NewBalanceDAO(store, tables)
	orders := dao.NewOrderDAO(store, tables)
	holdings := dao.NewAssetBalanceDAO(store, tables)
	assetTxs := dao.NewAssetTransactionDAO(store, tables)
	assets := dao.NewAssetDAO(store, tables)
	locks := lock.NewManager(store, tables.Users, models.LockConfig{})

	manager := transaction.NewManager(transaction.Deps{
		Users:      users,
		Balances:   balances,
		Orders:     orders,
		Holdings:   holdings,
		AssetTxs:   assetTxs,
		Assets:     assets,
		Locks:      locks,
		BcryptCost: 4,
	})

	tokens, err := auth.NewTokenService("test-secret", time.Hour)
	require.NoError(t, err)

	handler := NewHandler(manager, users, assets, tokens)
	server := httptest.NewServer(NewRouter(handler))
	t.Cleanup(server.Close)

	return &testServer{server: server, assets: assets, tokens: tokens}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (ts *testServer) register(t *testing.T, username string) {
	t.Helper()
	resp, _ := ts.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"username":   username,
		"email":      username + "@example.com",
		"password":   "Sup3rSecret!pw",
		"first_name": "Test",
		"last_name":  "User",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func (ts *testServer) login(t *testing.T, username string) string {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/auth/login", "", map[string]any{
		"username": username,
		"password": "Sup3rSecret!pw",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func (ts *testServer) seedAsset(t *testing.T, assetID string, price int64) {
	t.Helper()
	require.NoError(t, ts.assets.Put(context.Background(), models.Asset{
		AssetID:  assetID,
		Name:     assetID,
		Category: "Cryptocurrency",
		PriceUSD: decimal.NewFromInt(price),
		Amount:   decimal.NewFromInt(1000),
		IsActive: true,
	}))
}

func errorKind(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	kind, _ := e["kind"].(string)
	return kind
}

func TestRegisterReturnsUserAndZeroBalance(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"username":   "alice",
		"email":      "alice@example.com",
		"password":   "Sup3rSecret!pw",
		"first_name": "Alice",
		"last_name":  "Tester",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	user, _ := body["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, "customer", user["role"])
	assert.NotContains(t, user, "password_hash")

	balance, _ := body["balance"].(map[string]any)
	assert.Equal(t, "0", balance["current_balance"])

	// Every response carries the request id header.
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRegisterValidationAndDuplicates(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "bob")

	// Weak password fails transport validation.
	resp, body := ts.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"username":   "bob2",
		"email":      "bob2@example.com",
		"password":   "weak",
		"first_name": "Bob",
		"last_name":  "Two",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "ValidationError", errorKind(body))

	// Duplicate email conflicts.
	resp, body = ts.do(t, http.MethodPost, "/auth/register", "", map[string]any{
		"username":   "bob2",
		"email":      "bob@example.com",
		"password":   "Sup3rSecret!pw",
		"first_name": "Bob",
		"last_name":  "Two",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "EntityAlreadyExists", errorKind(body))
}

func TestLoginAndMe(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "carol")

	token := ts.login(t, "carol")
	resp, body := ts.do(t, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "carol", body["username"])

	// Wrong password is a 401.
	resp, body = ts.do(t, http.MethodPost, "/auth/login", "", map[string]any{
		"username": "carol",
		"password": "WrongPassword1!",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "InvalidCredentials", errorKind(body))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "InvalidCredentials", errorKind(body))

	resp, _ = ts.do(t, http.MethodGet, "/balance", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGatewayAssertedIdentity(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "dave")

	req, err := http.NewRequest(http.MethodGet, ts.server.URL+"/balance", nil)
	require.NoError(t, err)
	req.Header.Set(headerAuthenticated, "true")
	req.Header.Set(headerUserName, "dave")
	req.Header.Set(headerUserRole, models.RoleCustomer)

	resp, err := ts.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDepositWithdrawFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "erin")
	token := ts.login(t, "erin")

	resp, body := ts.do(t, http.MethodPost, "/balance/deposit", token, map[string]any{"amount": "150.50"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "150.5", body["balance"])

	// Overdraw is a 400 with a machine-readable kind.
	resp, body = ts.do(t, http.MethodPost, "/balance/withdraw", token, map[string]any{"amount": "150.51"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "InsufficientBalance", errorKind(body))

	resp, body = ts.do(t, http.MethodGet, "/balance", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "150.5", body["current_balance"])

	resp, body = ts.do(t, http.MethodGet, "/balance/transactions", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items, _ := body["items"].([]any)
	assert.Len(t, items, 1)

	// A malformed amount never reaches the core.
	resp, body = ts.do(t, http.MethodPost, "/balance/deposit", token, map[string]any{"amount": "not-a-number"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "ValidationError", errorKind(body))
}

func TestOrderFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "frank")
	ts.seedAsset(t, "BTC", 100)
	token := ts.login(t, "frank")

	resp, _ := ts.do(t, http.MethodPost, "/balance/deposit", token, map[string]any{"amount": "1000"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/orders", token, map[string]any{
		"order_type": "MARKET_BUY",
		"asset_id":   "BTC",
		"quantity":   "2",
		"price":      "100",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "800", body["balance"])

	order, _ := body["order"].(map[string]any)
	orderID, _ := order["order_id"].(string)
	require.NotEmpty(t, orderID)
	assert.Equal(t, "COMPLETED", order["status"])

	resp, body = ts.do(t, http.MethodGet, "/orders/"+orderID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "frank", body["username"])

	// A completed market order cannot be cancelled.
	resp, body = ts.do(t, http.MethodDelete, "/orders/"+orderID, token, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "ValidationError", errorKind(body))

	resp, body = ts.do(t, http.MethodGet, "/users/frank/orders", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items, _ := body["items"].([]any)
	assert.Len(t, items, 1)

	resp, body = ts.do(t, http.MethodGet, "/portfolio", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	holdings, _ := body["holdings"].([]any)
	require.Len(t, holdings, 1)

	// Unknown order type is rejected before dispatch.
	resp, body = ts.do(t, http.MethodPost, "/orders", token, map[string]any{
		"order_type": "LIMIT_BUY",
		"asset_id":   "BTC",
		"quantity":   "1",
		"price":      "100",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "ValidationError", errorKind(body))
}

func TestListOtherUsersOrdersForbidden(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "grace")
	ts.register(t, "heidi")
	token := ts.login(t, "grace")

	resp, body := ts.do(t, http.MethodGet, "/users/heidi/orders", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "AccessDenied", errorKind(body))
}

func TestInventoryEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.seedAsset(t, "BTC", 65000)
	ts.seedAsset(t, "ETH", 3500)
	require.NoError(t, ts.assets.Put(context.Background(), models.Asset{
		AssetID: "DEAD", Name: "Delisted", PriceUSD: decimal.NewFromInt(1), IsActive: false,
	}))

	// The catalog is public: no token needed.
	resp, body := ts.do(t, http.MethodGet, "/inventory", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items, _ := body["items"].([]any)
	assert.Len(t, items, 2)

	resp, body = ts.do(t, http.MethodGet, "/inventory?active_only=false", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items, _ = body["items"].([]any)
	assert.Len(t, items, 3)

	resp, body = ts.do(t, http.MethodGet, "/inventory/BTC", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "BTC", body["asset_id"])

	resp, body = ts.do(t, http.MethodGet, "/inventory/DOGE", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "EntityNotFound", errorKind(body))
}

func TestUpdateProfile(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "ivan")
	token := ts.login(t, "ivan")

	resp, body := ts.do(t, http.MethodPut, "/auth/me", token, map[string]any{
		"first_name": "Ivan",
		"last_name":  "Renamed",
		"phone":      "555-0100",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Renamed", body["last_name"])
	assert.Equal(t, "555-0100", body["phone"])
	assert.Equal(t, fmt.Sprintf("%s@example.com", "ivan"), body["email"])
}

func TestServerErrorEnvelopeHidesStoreDetail(t *testing.T) {
	h := NewHandler(nil, nil, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/balance/deposit", nil)

	// A transient store failure carries the driver text internally; the
	// envelope must not.
	rec := httptest.NewRecorder()
	h.writeError(rec, req, fmt.Errorf("%w: unable to put item: database is locked", apperrors.ErrStoreUnavailable))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "StoreUnavailable", resp.Error.Kind)
	assert.True(t, resp.Error.Retryable)
	assert.Equal(t, "service temporarily unavailable", resp.Error.Message)
	assert.NotContains(t, rec.Body.String(), "database is locked")
	assert.NotContains(t, rec.Body.String(), "unable to put item")

	rec = httptest.NewRecorder()
	h.writeError(rec, req, fmt.Errorf("%w: compensation failed for tx abc123", apperrors.ErrInternal))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "internal error", resp.Error.Message)
	assert.NotContains(t, rec.Body.String(), "abc123")

	// Taxonomy rejections stay verbatim: their text is the user's feedback.
	rec = httptest.NewRecorder()
	h.writeError(rec, req, fmt.Errorf("%w: invalid amount %q", apperrors.ErrValidation, "abc"))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error.Message, "invalid amount")
}
