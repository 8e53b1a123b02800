package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/cartservice/internal/domain"
	"github.com/utafrali/cartservice/pkg/database"
	apperrors "github.com/utafrali/cartservice/pkg/errors"
)

const (
	keyPrefix = "cart:"
	system    = "redis"
)

// CartRepository implements repository.CartRepository using Redis.
// Each cart is a JSON document under cart:<userID> with a sliding TTL.
type CartRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCartRepository creates a new Redis-backed cart repository.
func NewCartRepository(client *redis.Client, ttl time.Duration) *CartRepository {
	return &CartRepository{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves a cart by user ID from Redis.
func (r *CartRepository) Get(ctx context.Context, userID string) (_ *domain.Cart, err error) {
	ctx, end := database.TraceOperation(ctx, system, "get")
	defer func() { end(ignoreNotFound(err)) }()

	data, err := r.client.Get(ctx, keyPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("cart", userID)
		}
		return nil, apperrors.Store("get cart", err)
	}

	return decode(data)
}

// Save persists a cart to Redis with the configured TTL.
func (r *CartRepository) Save(ctx context.Context, cart *domain.Cart) (err error) {
	ctx, end := database.TraceOperation(ctx, system, "set")
	defer func() { end(err) }()

	data, err := json.Marshal(cart)
	if err != nil {
		return apperrors.Store("save cart", fmt.Errorf("marshal cart: %w", err))
	}

	if err := r.client.Set(ctx, keyPrefix+cart.UserID, data, r.ttl).Err(); err != nil {
		return apperrors.Store("save cart", err)
	}

	return nil
}

// Delete atomically reads and removes the cart for the user ID.
func (r *CartRepository) Delete(ctx context.Context, userID string) (_ *domain.Cart, err error) {
	ctx, end := database.TraceOperation(ctx, system, "getdel")
	defer func() { end(err) }()

	data, err := r.client.GetDel(ctx, keyPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, apperrors.Store("delete cart", err)
	}

	return decode(data)
}

func decode(data []byte) (*domain.Cart, error) {
	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, apperrors.Store("decode cart", fmt.Errorf("unmarshal cart: %w", err))
	}
	if cart.Items == nil {
		cart.Items = []domain.CartItem{}
	}
	return &cart, nil
}

func ignoreNotFound(err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	return err
}
