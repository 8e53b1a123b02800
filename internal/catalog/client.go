package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/utafrali/cartservice/internal/domain"
	apperrors "github.com/utafrali/cartservice/pkg/errors"
	"github.com/utafrali/cartservice/pkg/httpclient"
	"github.com/utafrali/cartservice/pkg/logger"
	"github.com/utafrali/cartservice/pkg/tracing"
)

const (
	serviceName = "catalog"
	tracerName  = "github.com/utafrali/cartservice/internal/catalog"

	maxBodySize = 1 << 20
)

// CircuitOpenFallback answers lookups while the catalog breaker is open with a
// structured 503 instead of the raw gobreaker error.
func CircuitOpenFallback(_ context.Context, _ error) (*http.Response, error) {
	return nil, apperrors.ServiceUnavailable("catalog service is temporarily unavailable, please retry later")
}

// HTTPDoer is the interface for executing HTTP requests.
// Both httpclient.Client and httpclient.CircuitBreakerClient satisfy this.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client looks up products in the catalog service. Concurrent lookups of the
// same product id share one HTTP call.
type Client struct {
	doer    HTTPDoer
	baseURL string
	logger  *slog.Logger
	group   singleflight.Group
}

// NewClient creates a catalog client rooted at baseURL (for example
// http://catalog:3000).
func NewClient(doer HTTPDoer, baseURL string, logger *slog.Logger) *Client {
	return &Client{
		doer:    doer,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// productPayload is the subset of the catalog product document the cart reads.
type productPayload struct {
	Name  string           `json:"name"`
	Price *decimal.Decimal `json:"price"`
}

// GetProduct resolves the current name and price of productID. An unknown
// product yields a NotFound error; transport failures yield an upstream or
// service-unavailable error.
func (c *Client) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	ctx, span := tracing.Tracer(tracerName).Start(ctx, "catalog.GetProduct",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("product.id", productID)),
	)
	defer span.End()

	// The shared call must not die with whichever caller happened to start it;
	// the HTTP client timeout bounds it instead.
	ch := c.group.DoChan(productID, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), productID)
	})

	select {
	case <-ctx.Done():
		err := apperrors.Upstream(serviceName, ctx.Err())
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup abandoned")
		return nil, err
	case res := <-ch:
		span.SetAttributes(attribute.Bool("catalog.shared", res.Shared))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			return nil, res.Err
		}
		p := *res.Val.(*domain.Product)
		return &p, nil
	}
}

func (c *Client) fetch(ctx context.Context, productID string) (*domain.Product, error) {
	endpoint := c.baseURL + "/products/" + url.PathEscape(productID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("create catalog request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		c.logger.WarnContext(ctx, "catalog lookup failed",
			slog.String("product_id", productID),
			slog.String("error", err.Error()),
		)
		return nil, httpclient.TranslateError(err, serviceName)
	}

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		_ = resp.Body.Close()
		return nil, apperrors.NotFound("product", productID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpclient.ParseResponseError(resp, serviceName)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, apperrors.Upstream(serviceName, fmt.Errorf("read product body: %w", err))
	}

	payload, err := decodeProduct(body)
	if err != nil {
		return nil, apperrors.Upstream(serviceName, err)
	}
	if payload == nil {
		return nil, apperrors.NotFound("product", productID)
	}
	if payload.Price == nil {
		return nil, apperrors.Upstream(serviceName, fmt.Errorf("product %s has no price", productID))
	}
	if payload.Price.IsNegative() {
		return nil, apperrors.Upstream(serviceName, fmt.Errorf("product %s has negative price %s", productID, payload.Price))
	}

	return &domain.Product{
		ID:    productID,
		Name:  payload.Name,
		Price: *payload.Price,
	}, nil
}

// decodeProduct accepts a bare product document or one wrapped in {"data": ...}.
// It returns nil, nil when the body carries no product.
func decodeProduct(body []byte) (*productPayload, error) {
	body = bytes.TrimSpace(body)
	if isEmptyJSON(body) {
		return nil, nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode product response: %w", err)
	}
	if envelope.Data != nil {
		body = bytes.TrimSpace(envelope.Data)
		if isEmptyJSON(body) {
			return nil, nil
		}
	}

	var p productPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode product response: %w", err)
	}
	return &p, nil
}

func isEmptyJSON(b []byte) bool {
	return len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte("{}"))
}
