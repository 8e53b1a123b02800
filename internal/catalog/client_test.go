package catalog

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/cartservice/pkg/errors"
	"github.com/utafrali/cartservice/pkg/httpclient"
	"github.com/utafrali/cartservice/pkg/logger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(httpclient.New(httpclient.DefaultConfig()), srv.URL+"/", testLogger())
}

func appError(t *testing.T, err error) *apperrors.AppError {
	t.Helper()
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %T: %v", err, err)
	return appErr
}

func TestGetProduct_BareBody(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"_id":"p1","name":"Mug","price":9.99,"stock":4}`))
	})

	p, err := c.GetProduct(context.Background(), "p1")

	require.NoError(t, err)
	assert.Equal(t, "/products/p1", gotPath)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, "Mug", p.Name)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("9.99")))
}

func TestGetProduct_WrappedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"name":"Tea","price":"4.50"}}`))
	})

	p, err := c.GetProduct(context.Background(), "p2")

	require.NoError(t, err)
	assert.Equal(t, "Tea", p.Name)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("4.5")))
}

func TestGetProduct_EscapesProductID(t *testing.T) {
	var gotRawPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotRawPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"name":"x","price":1}`))
	})

	_, err := c.GetProduct(context.Background(), "a/b c")

	require.NoError(t, err)
	assert.Equal(t, "/products/a%2Fb%20c", gotRawPath)
}

func TestGetProduct_ForwardsCorrelationID(t *testing.T) {
	var got string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Correlation-ID")
		_, _ = w.Write([]byte(`{"name":"x","price":1}`))
	})

	ctx := logger.WithCorrelationID(context.Background(), "corr-123")
	_, err := c.GetProduct(ctx, "p1")

	require.NoError(t, err)
	assert.Equal(t, "corr-123", got)
}

func TestGetProduct_UnknownProduct(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"404", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"message":"Product not found"}`, http.StatusNotFound)
		}},
		{"empty body", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}},
		{"null body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("null"))
		}},
		{"null data", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":null}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)

			p, err := c.GetProduct(context.Background(), "ghost")

			assert.Nil(t, p)
			assert.ErrorIs(t, err, apperrors.ErrNotFound)
			assert.Equal(t, http.StatusNotFound, appError(t, err).Status)
		})
	}
}

func TestGetProduct_UpstreamFailures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
	}{
		{"500", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}, http.StatusBadGateway},
		{"503", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}, http.StatusServiceUnavailable},
		{"400", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}, http.StatusBadGateway},
		{"malformed json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"name":`))
		}, http.StatusBadGateway},
		{"missing price", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"name":"Mug"}`))
		}, http.StatusBadGateway},
		{"negative price", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"name":"Mug","price":-1}`))
		}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)

			p, err := c.GetProduct(context.Background(), "p1")

			assert.Nil(t, p)
			require.Error(t, err)
			assert.Equal(t, tt.wantStatus, appError(t, err).Status)
		})
	}
}

func TestGetProduct_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(httpclient.New(httpclient.DefaultConfig()), srv.URL, testLogger())

	_, err := c.GetProduct(context.Background(), "p1")

	assert.ErrorIs(t, err, apperrors.ErrUpstream)
	assert.Equal(t, http.StatusBadGateway, appError(t, err).Status)
}

func TestGetProduct_CircuitOpen(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	cbCfg := httpclient.DefaultCircuitBreakerConfig("catalog-test-open")
	cbCfg.MinRequests = 1
	breaker := httpclient.NewCircuitBreakerClient(httpclient.New(httpclient.DefaultConfig()), cbCfg, testLogger())
	c := NewClient(breaker, srv.URL, testLogger())

	_, err := c.GetProduct(context.Background(), "p1")
	assert.Equal(t, http.StatusBadGateway, appError(t, err).Status)

	_, err = c.GetProduct(context.Background(), "p1")
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.Equal(t, http.StatusServiceUnavailable, appError(t, err).Status)
	assert.Equal(t, int32(1), hits.Load(), "open breaker must not reach the catalog")
}

func TestGetProduct_CoalescesConcurrentLookups(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"name":"Mug","price":9.99}`))
	})

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.GetProduct(context.Background(), "p1")
		}()
	}

	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestGetProduct_CallerCancellation(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte(`{"name":"Mug","price":9.99}`))
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.GetProduct(ctx, "p1")

	assert.ErrorIs(t, err, apperrors.ErrUpstream)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDecodeProduct(t *testing.T) {
	p, err := decodeProduct([]byte(`  {"data":{"name":"A","price":1.25}}  `))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "A", p.Name)

	p, err = decodeProduct([]byte(`{}`))
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = decodeProduct([]byte(`[1,2]`))
	assert.Error(t, err)
}

func TestGetProduct_CircuitOpenFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	cbCfg := httpclient.DefaultCircuitBreakerConfig("catalog-test-fallback")
	cbCfg.MinRequests = 1
	breaker := httpclient.NewCircuitBreakerClient(httpclient.New(httpclient.DefaultConfig()), cbCfg, testLogger()).
		WithFallback(CircuitOpenFallback)
	c := NewClient(breaker, srv.URL, testLogger())

	_, _ = c.GetProduct(context.Background(), "p1")
	_, err := c.GetProduct(context.Background(), "p1")

	appErr := appError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, appErr.Status)
	assert.Contains(t, appErr.Message, "catalog service is temporarily unavailable")
}
