package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/utafrali/cartservice/internal/domain"
	pkgkafka "github.com/utafrali/cartservice/pkg/kafka"
	"github.com/utafrali/cartservice/pkg/logger"
)

// Kafka topic constants for cart domain events.
var (
	TopicCartUpdated = pkgkafka.Topic("cart", "updated")
	TopicCartCleared = pkgkafka.Topic("cart", "cleared")
)

// Aggregate type constant.
const AggregateTypeCart = "cart"

// Source identifier for events originating from the cart service.
const SourceCartService = "cart-service"

// CartUpdatedData is the payload for a cart.updated event.
type CartUpdatedData struct {
	CartID     string          `json:"cart_id"`
	UserID     string          `json:"user_id"`
	Items      []CartItemData  `json:"items"`
	ItemCount  int             `json:"item_count"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

// CartItemData is the item payload within cart events.
type CartItemData struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// CartClearedData is the payload for a cart.cleared event.
type CartClearedData struct {
	CartID string `json:"cart_id,omitempty"`
	UserID string `json:"user_id"`
}

// Writer is the subset of pkgkafka.Producer the event producer needs.
type Writer interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes cart domain events to Kafka.
type Producer struct {
	kafka  Writer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the cart service.
func NewProducer(kafka Writer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishCartUpdated publishes a cart.updated event.
func (p *Producer) PublishCartUpdated(ctx context.Context, cart *domain.Cart) error {
	items := make([]CartItemData, len(cart.Items))
	for i, item := range cart.Items {
		items[i] = CartItemData{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		}
	}

	data := CartUpdatedData{
		CartID:     cart.ID,
		UserID:     cart.UserID,
		Items:      items,
		ItemCount:  cart.ItemCount(),
		TotalPrice: cart.TotalPrice,
	}

	opts := []pkgkafka.EventOption{pkgkafka.WithMetadata("cart_id", cart.ID)}
	if !cart.UpdatedAt.IsZero() {
		opts = append(opts, pkgkafka.WithTimestamp(cart.UpdatedAt))
	}
	if err := p.publish(ctx, TopicCartUpdated, cart.UserID, data, opts...); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published cart.updated event",
		slog.String("user_id", cart.UserID),
		slog.Int("item_count", data.ItemCount),
	)
	return nil
}

// PublishCartCleared publishes a cart.cleared event. cart is the deleted cart
// and may be nil when the user had none.
func (p *Producer) PublishCartCleared(ctx context.Context, userID string, cart *domain.Cart) error {
	data := CartClearedData{UserID: userID}
	var opts []pkgkafka.EventOption
	if cart != nil {
		data.CartID = cart.ID
		opts = append(opts, pkgkafka.WithMetadata("cart_id", cart.ID))
	}

	if err := p.publish(ctx, TopicCartCleared, userID, data, opts...); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published cart.cleared event",
		slog.String("user_id", userID),
	)
	return nil
}

// publish wraps data in an envelope keyed by userID. The envelope time is the
// cart's UpdatedAt when opts carry it.
func (p *Producer) publish(ctx context.Context, topic, userID string, data any, opts ...pkgkafka.EventOption) error {
	opts = append(opts, pkgkafka.WithCorrelationID(logger.CorrelationIDFromContext(ctx)))
	event, err := pkgkafka.NewEvent(topic, userID, AggregateTypeCart, SourceCartService, data, opts...)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}

// NoopProducer discards events. It is used when EVENTS_ENABLED is false.
type NoopProducer struct{}

func (NoopProducer) PublishCartUpdated(context.Context, *domain.Cart) error { return nil }

func (NoopProducer) PublishCartCleared(context.Context, string, *domain.Cart) error { return nil }
