package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/cartservice/pkg/errors"
)

// DownstreamErrorResponse mirrors the httputil.ErrorResponse envelope. Services that
// answer with it get their code and message carried into the returned error.
type DownstreamErrorResponse struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError consumes and closes the body of a non-2xx response and turns it
// into an AppError. 503 maps to ServiceUnavailable; every other status is reported as
// an upstream failure of serviceName. Callers that give 404 a domain meaning must
// check for it before calling.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return apperrors.Upstream(serviceName,
			fmt.Errorf("status %d (failed to read body: %w)", resp.StatusCode, err))
	}

	detail := string(bodyBytes)
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}
	var downstream DownstreamErrorResponse
	if json.Unmarshal(bodyBytes, &downstream) == nil && downstream.Error != nil {
		detail = downstream.Error.Code + ": " + downstream.Error.Message
	}

	if resp.StatusCode == http.StatusServiceUnavailable {
		return apperrors.Unavailable(serviceName, errors.New(detail))
	}
	return apperrors.Upstream(serviceName, fmt.Errorf("status %d: %s", resp.StatusCode, detail))
}

// TranslateError maps a transport error from Do into an AppError: an open breaker
// becomes 503, an existing AppError is kept, anything else (timeouts included) is an
// upstream failure.
func TranslateError(err error, serviceName string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrTooManyRequests):
		return apperrors.Unavailable(serviceName, err)
	default:
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return apperrors.Upstream(serviceName, err)
	}
}
