package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/utafrali/cartservice/internal/domain"
	"github.com/utafrali/cartservice/internal/service"
	apperrors "github.com/utafrali/cartservice/pkg/errors"
	"github.com/utafrali/cartservice/pkg/httputil"
	"github.com/utafrali/cartservice/pkg/validator"
)

// maxBodyBytes bounds the JSON bodies accepted by mutation endpoints.
const maxBodyBytes = 1 << 20

// CartService is the cart engine the handlers drive.
type CartService interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	AddItem(ctx context.Context, userID string, input service.AddItemInput) (*domain.Cart, error)
	UpdateQuantity(ctx context.Context, userID string, input service.UpdateQuantityInput) (*domain.Cart, error)
	RemoveItem(ctx context.Context, userID, productID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, userID string) (*domain.Cart, error)
}

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	service CartService
	logger  *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(svc CartService, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// AddItemRequest is the JSON request body for adding an item to the cart.
type AddItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gte=1,lte=100"`
}

// UpdateQuantityRequest is the JSON request body for overwriting an item's quantity.
type UpdateQuantityRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gte=1,lte=100"`
}

// cartResponse always carries data so an absent cart renders as "data": null.
type cartResponse struct {
	Message string       `json:"message,omitempty"`
	Data    *domain.Cart `json:"data"`
}

// --- Handlers ---

// GetCart handles GET /
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.service.GetCart(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, cartResponse{Data: cart})
}

// AddItem handles POST /add
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	cart, err := h.service.AddItem(r.Context(), userIDFromContext(r.Context()), service.AddItemInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, cartResponse{Message: "Item added successfully", Data: cart})
}

// UpdateQuantity handles PUT /update
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req UpdateQuantityRequest
	if err := decode(w, r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	cart, err := h.service.UpdateQuantity(r.Context(), userIDFromContext(r.Context()), service.UpdateQuantityInput{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, cartResponse{Message: "Quantity updated successfully", Data: cart})
}

// RemoveItem handles DELETE /remove?productId=
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID := r.URL.Query().Get("productId")
	if productID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: apperrors.CodeInvalidInput, Message: "productId query parameter is required"},
		})
		return
	}

	cart, err := h.service.RemoveItem(r.Context(), userIDFromContext(r.Context()), productID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, cartResponse{Message: "Item removed successfully", Data: cart})
}

// ClearCart handles DELETE /clear
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.service.ClearCart(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, cartResponse{Message: "Cart cleared successfully", Data: cart})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body != nil && r.Body != http.NoBody {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	}
	return validator.DecodeAndValidate(r, dst)
}
