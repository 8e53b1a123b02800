package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/cartservice/internal/domain"
	"github.com/utafrali/cartservice/internal/repository"
	apperrors "github.com/utafrali/cartservice/pkg/errors"
)

// AddItemInput holds the parameters for adding an item to the cart.
type AddItemInput struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gte=1,lte=100"`
}

// UpdateQuantityInput holds the parameters for overwriting an item quantity.
type UpdateQuantityInput struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gte=1,lte=100"`
}

// ProductCatalog resolves the current name and price of a product.
type ProductCatalog interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
}

// EventPublisher publishes cart domain events.
type EventPublisher interface {
	PublishCartUpdated(ctx context.Context, cart *domain.Cart) error
	PublishCartCleared(ctx context.Context, userID string, cart *domain.Cart) error
}

// Options tune cart engine behaviour.
type Options struct {
	// RefreshPriceOnRestock makes a repeated add overwrite the captured unit
	// price and name of an existing line with the current catalog values.
	RefreshPriceOnRestock bool
}

// CartService implements the business logic for cart operations.
type CartService struct {
	repo      repository.CartRepository
	catalog   ProductCatalog
	publisher EventPublisher
	logger    *slog.Logger
	opts      Options
	now       func() time.Time
}

// NewCartService creates a new cart service.
func NewCartService(repo repository.CartRepository, catalog ProductCatalog, publisher EventPublisher, logger *slog.Logger, opts Options) *CartService {
	return &CartService{
		repo:      repo,
		catalog:   catalog,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetCart retrieves the cart for a user. It returns nil, nil when the user
// has no cart.
func (s *CartService) GetCart(ctx context.Context, userID string) (_ *domain.Cart, err error) {
	defer func() { observe(opGet, err) }()

	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}

	cart, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return cart, nil
}

// AddItem adds quantity units of a product to the user's cart, creating the
// cart on first use. A product already in the cart has its quantity increased.
func (s *CartService) AddItem(ctx context.Context, userID string, input AddItemInput) (_ *domain.Cart, err error) {
	defer func() { observe(opAdd, err) }()

	if err := validateLine(userID, input.ProductID, input.Quantity); err != nil {
		return nil, err
	}

	product, err := s.catalog.GetProduct(ctx, input.ProductID)
	if err != nil {
		return nil, fmt.Errorf("resolve product: %w", err)
	}

	cart, err := s.getOrInitCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := cart.AddItem(*product, input.Quantity, s.opts.RefreshPriceOnRestock); err != nil {
		if errors.Is(err, domain.ErrQuantityLimit) {
			return nil, apperrors.InvalidInput(fmt.Sprintf("combined quantity must not exceed %d", domain.MaxQuantityPerItem))
		}
		return nil, err
	}
	if err := s.persist(ctx, cart); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "item added to cart",
		slog.String("user_id", userID),
		slog.String("product_id", input.ProductID),
		slog.Int("quantity", input.Quantity),
		slog.String("total_price", cart.TotalPrice.String()),
	)
	return cart, nil
}

// UpdateQuantity overwrites the quantity of a product already in the cart.
func (s *CartService) UpdateQuantity(ctx context.Context, userID string, input UpdateQuantityInput) (_ *domain.Cart, err error) {
	defer func() { observe(opUpdate, err) }()

	if err := validateLine(userID, input.ProductID, input.Quantity); err != nil {
		return nil, err
	}

	cart, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart for update: %w", err)
	}

	idx := cart.FindItemIndex(input.ProductID)
	if idx < 0 {
		return nil, apperrors.NotFound("item", input.ProductID)
	}
	cart.Items[idx].Quantity = input.Quantity

	if err := s.persist(ctx, cart); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "cart item quantity updated",
		slog.String("user_id", userID),
		slog.String("product_id", input.ProductID),
		slog.Int("quantity", input.Quantity),
	)
	return cart, nil
}

// RemoveItem removes a product from the cart. Removing a product that is not
// in the cart is not an error.
func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) (_ *domain.Cart, err error) {
	defer func() { observe(opRemove, err) }()

	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}
	if productID == "" {
		return nil, apperrors.InvalidInput("product id is required")
	}

	cart, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart for remove: %w", err)
	}

	removed := cart.RemoveItem(productID)
	if err := s.persist(ctx, cart); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "item removed from cart",
		slog.String("user_id", userID),
		slog.String("product_id", productID),
		slog.Bool("was_present", removed),
	)
	return cart, nil
}

// ClearCart deletes the user's cart and returns it, or nil when there was none.
func (s *CartService) ClearCart(ctx context.Context, userID string) (_ *domain.Cart, err error) {
	defer func() { observe(opClear, err) }()

	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}

	ctx = context.WithoutCancel(ctx)
	cart, err := s.repo.Delete(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("delete cart: %w", err)
	}

	if err := s.publisher.PublishCartCleared(ctx, userID, cart); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.cleared event",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "cart cleared",
		slog.String("user_id", userID),
		slog.Bool("existed", cart != nil),
	)
	return cart, nil
}

// persist recomputes the total, stamps the cart and writes it with one upsert.
// The write and the following event publish are detached from request
// cancellation.
func (s *CartService) persist(ctx context.Context, cart *domain.Cart) error {
	cart.RecalculateTotal()
	cart.UpdatedAt = s.now()

	ctx = context.WithoutCancel(ctx)
	if err := s.repo.Save(ctx, cart); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}

	if err := s.publisher.PublishCartUpdated(ctx, cart); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.updated event",
			slog.String("user_id", cart.UserID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// getOrInitCart loads the user's cart or starts a new, unsaved one.
func (s *CartService) getOrInitCart(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return domain.NewCart(uuid.New().String(), userID, s.now()), nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return cart, nil
}

func validateLine(userID, productID string, quantity int) error {
	if userID == "" {
		return apperrors.InvalidInput("user id is required")
	}
	if productID == "" {
		return apperrors.InvalidInput("product id is required")
	}
	if quantity < 1 {
		return apperrors.InvalidInput("quantity must be at least 1")
	}
	if quantity > domain.MaxQuantityPerItem {
		return apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", domain.MaxQuantityPerItem))
	}
	return nil
}
