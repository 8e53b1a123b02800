package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/cartservice/internal/domain"
	"github.com/utafrali/cartservice/internal/service"
	apperrors "github.com/utafrali/cartservice/pkg/errors"
	"github.com/utafrali/cartservice/pkg/health"
	"github.com/utafrali/cartservice/pkg/middleware"
)

// ============================================================================
// Mock CartService
// ============================================================================

type mockCartService struct {
	mock.Mock
}

func (m *mockCartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	args := m.Called(ctx, userID)
	return cartArg(args, 0), args.Error(1)
}

func (m *mockCartService) AddItem(ctx context.Context, userID string, input service.AddItemInput) (*domain.Cart, error) {
	args := m.Called(ctx, userID, input)
	return cartArg(args, 0), args.Error(1)
}

func (m *mockCartService) UpdateQuantity(ctx context.Context, userID string, input service.UpdateQuantityInput) (*domain.Cart, error) {
	args := m.Called(ctx, userID, input)
	return cartArg(args, 0), args.Error(1)
}

func (m *mockCartService) RemoveItem(ctx context.Context, userID, productID string) (*domain.Cart, error) {
	args := m.Called(ctx, userID, productID)
	return cartArg(args, 0), args.Error(1)
}

func (m *mockCartService) ClearCart(ctx context.Context, userID string) (*domain.Cart, error) {
	args := m.Called(ctx, userID)
	return cartArg(args, 0), args.Error(1)
}

func cartArg(args mock.Arguments, i int) *domain.Cart {
	if args.Get(i) == nil {
		return nil
	}
	return args.Get(i).(*domain.Cart)
}

// ============================================================================
// Test helpers
// ============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupRouter(svc CartService) http.Handler {
	return NewRouter(svc, health.NewHandler(), testLogger(), middleware.DefaultCORSConfig())
}

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code      string            `json:"code"`
		Message   string            `json:"message"`
		Fields    map[string]string `json:"fields"`
		RequestID string            `json:"request_id"`
	} `json:"error"`
}

func do(t *testing.T, h http.Handler, method, target, userID string, body []byte) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func sampleCart() *domain.Cart {
	cart := domain.NewCart("cart-1", "user-1", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	cart.AddItem(domain.Product{ID: "P1", Name: "Mug", Price: decimal.RequireFromString("9.99")}, 3, false)
	cart.RecalculateTotal()
	return cart
}

// ============================================================================
// GET /
// ============================================================================

func TestGetCart_Success(t *testing.T) {
	svc := new(mockCartService)
	svc.On("GetCart", mock.Anything, "user-1").Return(sampleCart(), nil)

	rec, env := do(t, setupRouter(svc), http.MethodGet, "/", "user-1", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "cart-1", data["id"])
	assert.Equal(t, "user-1", data["userId"])
	assert.Equal(t, 29.97, data["totalPrice"])
	items := data["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "P1", items[0].(map[string]any)["productId"])
}

func TestGetCart_NoCartRendersNullData(t *testing.T) {
	svc := new(mockCartService)
	svc.On("GetCart", mock.Anything, "user-1").Return(nil, nil)

	rec, env := do(t, setupRouter(svc), http.MethodGet, "/", "user-1", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", string(env.Data))
	assert.Contains(t, rec.Body.String(), `"data":null`)
}

func TestGetCart_StoreErrorIsGeneric(t *testing.T) {
	svc := new(mockCartService)
	svc.On("GetCart", mock.Anything, "user-1").
		Return(nil, apperrors.Store("get cart", errors.New("mongo: connection pool cleared for 10.0.0.5")))

	rec, env := do(t, setupRouter(svc), http.MethodGet, "/", "user-1", nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "STORE_ERROR", env.Error.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
	assert.NotEmpty(t, env.Error.RequestID)
}

// ============================================================================
// POST /add
// ============================================================================

func TestAddItem_Success(t *testing.T) {
	svc := new(mockCartService)
	svc.On("AddItem", mock.Anything, "user-1", service.AddItemInput{ProductID: "P1", Quantity: 3}).
		Return(sampleCart(), nil)

	rec, env := do(t, setupRouter(svc), http.MethodPost, "/add", "user-1", []byte(`{"productId":"P1","quantity":3}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Item added successfully", env.Message)
	assert.Contains(t, string(env.Data), `"totalPrice":29.97`)
	svc.AssertExpectations(t)
}

func TestAddItem_UnknownProduct(t *testing.T) {
	svc := new(mockCartService)
	svc.On("AddItem", mock.Anything, "user-1", mock.Anything).Return(nil, apperrors.NotFound("product", "ghost"))

	rec, env := do(t, setupRouter(svc), http.MethodPost, "/add", "user-1", []byte(`{"productId":"ghost","quantity":1}`))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
	assert.Contains(t, env.Error.Message, "product")
}

func TestAddItem_CatalogFailures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"upstream", apperrors.Upstream("catalog", errors.New("status 500")), http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"circuit open", apperrors.ServiceUnavailable("catalog service is temporarily unavailable"), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockCartService)
			svc.On("AddItem", mock.Anything, "user-1", mock.Anything).Return(nil, tt.err)

			rec, env := do(t, setupRouter(svc), http.MethodPost, "/add", "user-1", []byte(`{"productId":"P1","quantity":1}`))

			assert.Equal(t, tt.wantStatus, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantCode, env.Error.Code)
		})
	}
}

func TestAddItem_BadBodies(t *testing.T) {
	tests := []struct {
		name     string
		body     []byte
		wantCode string
	}{
		{"malformed json", []byte(`{"productId":`), "INVALID_INPUT"},
		{"quantity as string", []byte(`{"productId":"P1","quantity":"2"}`), "INVALID_INPUT"},
		{"missing product", []byte(`{"quantity":1}`), "VALIDATION_ERROR"},
		{"zero quantity", []byte(`{"productId":"P1","quantity":0}`), "VALIDATION_ERROR"},
		{"negative quantity", []byte(`{"productId":"P1","quantity":-1}`), "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockCartService)

			rec, env := do(t, setupRouter(svc), http.MethodPost, "/add", "user-1", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantCode, env.Error.Code)
			svc.AssertNotCalled(t, "AddItem", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestAddItem_OversizedBody(t *testing.T) {
	svc := new(mockCartService)
	body := []byte(`{"productId":"` + strings.Repeat("a", maxBodyBytes) + `","quantity":1}`)

	rec, env := do(t, setupRouter(svc), http.MethodPost, "/add", "user-1", body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "PAYLOAD_TOO_LARGE", env.Error.Code)
	svc.AssertNotCalled(t, "AddItem", mock.Anything, mock.Anything, mock.Anything)
}

func TestAddItem_DecodeErrorMessageIsFixed(t *testing.T) {
	svc := new(mockCartService)

	rec, env := do(t, setupRouter(svc), http.MethodPost, "/add", "user-1", []byte(`{"productId":"P1","quantity":"2"}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "request body is not valid JSON", env.Error.Message)
	assert.NotContains(t, env.Error.Message, "Go struct field")
}

func TestAddItem_ValidationFields(t *testing.T) {
	svc := new(mockCartService)

	_, env := do(t, setupRouter(svc), http.MethodPost, "/add", "user-1", []byte(`{"quantity":-2}`))

	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Fields, "productId")
	assert.Contains(t, env.Error.Fields, "quantity")
}

func TestAddItem_EmptyBody(t *testing.T) {
	svc := new(mockCartService)

	rec, env := do(t, setupRouter(svc), http.MethodPost, "/add", "user-1", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)
}

func TestAddItem_RejectsNonJSONContentType(t *testing.T) {
	svc := new(mockCartService)
	req := httptest.NewRequest(http.MethodPost, "/add", strings.NewReader("productId=P1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()

	setupRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

// ============================================================================
// PUT /update
// ============================================================================

func TestUpdateQuantity_Success(t *testing.T) {
	svc := new(mockCartService)
	svc.On("UpdateQuantity", mock.Anything, "user-1", service.UpdateQuantityInput{ProductID: "P1", Quantity: 1}).
		Return(sampleCart(), nil)

	rec, env := do(t, setupRouter(svc), http.MethodPut, "/update", "user-1", []byte(`{"productId":"P1","quantity":1}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Quantity updated successfully", env.Message)
	svc.AssertExpectations(t)
}

func TestUpdateQuantity_NotFound(t *testing.T) {
	for _, resource := range []string{"cart", "item"} {
		t.Run(resource, func(t *testing.T) {
			svc := new(mockCartService)
			svc.On("UpdateQuantity", mock.Anything, "user-1", mock.Anything).Return(nil, apperrors.NotFound(resource, "P1"))

			rec, env := do(t, setupRouter(svc), http.MethodPut, "/update", "user-1", []byte(`{"productId":"P1","quantity":1}`))

			assert.Equal(t, http.StatusNotFound, rec.Code)
			require.NotNil(t, env.Error)
			assert.True(t, strings.HasPrefix(env.Error.Message, resource))
		})
	}
}

// ============================================================================
// DELETE /remove
// ============================================================================

func TestRemoveItem_Success(t *testing.T) {
	svc := new(mockCartService)
	svc.On("RemoveItem", mock.Anything, "user-1", "P1").Return(sampleCart(), nil)

	rec, env := do(t, setupRouter(svc), http.MethodDelete, "/remove?productId=P1", "user-1", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Item removed successfully", env.Message)
	svc.AssertExpectations(t)
}

func TestRemoveItem_MissingProductID(t *testing.T) {
	svc := new(mockCartService)

	rec, env := do(t, setupRouter(svc), http.MethodDelete, "/remove", "user-1", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)
	svc.AssertNotCalled(t, "RemoveItem", mock.Anything, mock.Anything, mock.Anything)
}

func TestRemoveItem_CartNotFound(t *testing.T) {
	svc := new(mockCartService)
	svc.On("RemoveItem", mock.Anything, "user-1", "P1").Return(nil, apperrors.NotFound("cart", "user-1"))

	rec, _ := do(t, setupRouter(svc), http.MethodDelete, "/remove?productId=P1", "user-1", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ============================================================================
// DELETE /clear
// ============================================================================

func TestClearCart_ReturnsDeletedCart(t *testing.T) {
	svc := new(mockCartService)
	svc.On("ClearCart", mock.Anything, "user-1").Return(sampleCart(), nil)

	rec, env := do(t, setupRouter(svc), http.MethodDelete, "/clear", "user-1", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Cart cleared successfully", env.Message)
	assert.Contains(t, string(env.Data), `"id":"cart-1"`)
}

func TestClearCart_NothingToClear(t *testing.T) {
	svc := new(mockCartService)
	svc.On("ClearCart", mock.Anything, "user-1").Return(nil, nil)

	rec, env := do(t, setupRouter(svc), http.MethodDelete, "/clear", "user-1", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", string(env.Data))
}

// ============================================================================
// Cross-cutting
// ============================================================================

func TestAllEndpoints_RejectMissingUserID(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		target      string
		body        []byte
		contentType string
	}{
		{"get cart", http.MethodGet, "/", nil, ""},
		{"add item", http.MethodPost, "/add", []byte(`{"productId":"P1","quantity":1}`), ""},
		{"add item non-JSON body", http.MethodPost, "/add", []byte("productId=P1"), "text/plain"},
		{"update quantity", http.MethodPut, "/update", []byte(`{"productId":"P1","quantity":1}`), ""},
		{"update quantity non-JSON body", http.MethodPut, "/update", []byte("quantity=2"), "application/x-www-form-urlencoded"},
		{"remove item", http.MethodDelete, "/remove?productId=P1", nil, ""},
		{"clear cart", http.MethodDelete, "/clear", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockCartService)

			var (
				rec *httptest.ResponseRecorder
				env envelope
			)
			if tt.contentType == "" {
				rec, env = do(t, setupRouter(svc), tt.method, tt.target, "", tt.body)
			} else {
				// The identity check runs before the media type check.
				req := httptest.NewRequest(tt.method, tt.target, bytes.NewReader(tt.body))
				req.Header.Set("Content-Type", tt.contentType)
				rec = httptest.NewRecorder()
				setupRouter(svc).ServeHTTP(rec, req)
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
			}

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, "INVALID_INPUT", env.Error.Code)
			assert.Empty(t, svc.Calls, "service must not be reached")
		})
	}
}

func TestUserIDFromHeader_SetsContext(t *testing.T) {
	var got string
	h := UserIDFromHeader(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = userIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-user-id", " user-42 ")

	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "user-42", got)
}

func TestUserIDFromContext_Empty(t *testing.T) {
	assert.Empty(t, userIDFromContext(context.Background()))
}

func TestCORS_TrustedOrigin(t *testing.T) {
	svc := new(mockCartService)
	svc.On("GetCart", mock.Anything, "user-1").Return(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()

	setupRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:4200", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_UntrustedOrigin(t *testing.T) {
	svc := new(mockCartService)
	svc.On("GetCart", mock.Anything, "user-1").Return(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("X-User-ID", "user-1")
	rec := httptest.NewRecorder()

	setupRouter(svc).ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_PreflightWithoutUserID(t *testing.T) {
	svc := new(mockCartService)
	req := httptest.NewRequest(http.MethodOptions, "/add", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()

	setupRouter(svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:4200", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOperationalEndpoints(t *testing.T) {
	h := setupRouter(new(mockCartService))

	for _, target := range []string{"/health/live", "/health/ready", "/metrics"} {
		t.Run(target, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, target, nil)
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}
