package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/utafrali/cartservice/internal/domain"
	"github.com/utafrali/cartservice/pkg/database"
	apperrors "github.com/utafrali/cartservice/pkg/errors"
)

const system = "mongodb"

type cartDocument struct {
	ID         string               `bson:"_id"`
	UserID     string               `bson:"user_id"`
	Items      []itemDocument       `bson:"items"`
	TotalPrice primitive.Decimal128 `bson:"total_price"`
	CreatedAt  time.Time            `bson:"created_at"`
	UpdatedAt  time.Time            `bson:"updated_at"`
}

type itemDocument struct {
	ProductID string               `bson:"product_id"`
	Name      string               `bson:"name"`
	Quantity  int                  `bson:"quantity"`
	UnitPrice primitive.Decimal128 `bson:"unit_price"`
}

// CartRepository implements repository.CartRepository on a MongoDB collection
// holding one document per user.
type CartRepository struct {
	coll *mongo.Collection
}

// NewCartRepository creates a new MongoDB-backed cart repository.
func NewCartRepository(db *mongo.Database, collection string) *CartRepository {
	return &CartRepository{coll: db.Collection(collection)}
}

// EnsureIndexes creates the unique user_id index the upsert relies on.
func (r *CartRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("user_id_unique"),
	})
	if err != nil {
		return fmt.Errorf("create cart indexes: %w", err)
	}
	return nil
}

// Get retrieves a cart by user ID.
func (r *CartRepository) Get(ctx context.Context, userID string) (_ *domain.Cart, err error) {
	ctx, end := database.TraceOperation(ctx, system, "carts.findOne")
	defer func() {
		if errors.Is(err, apperrors.ErrNotFound) {
			end(nil)
			return
		}
		end(err)
	}()

	var doc cartDocument
	err = r.coll.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperrors.NotFound("cart", userID)
		}
		return nil, apperrors.Store("get cart", err)
	}

	return fromDocument(doc)
}

// Save upserts the cart document for cart.UserID.
func (r *CartRepository) Save(ctx context.Context, cart *domain.Cart) (err error) {
	ctx, end := database.TraceOperation(ctx, system, "carts.replaceOne")
	defer func() { end(err) }()

	doc, err := toDocument(cart)
	if err != nil {
		return apperrors.Store("save cart", err)
	}

	_, err = r.coll.ReplaceOne(ctx,
		bson.M{"user_id": cart.UserID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return apperrors.Store("save cart", err)
	}
	return nil
}

// Delete removes the cart for userID and returns the removed document, or nil
// when there was none.
func (r *CartRepository) Delete(ctx context.Context, userID string) (_ *domain.Cart, err error) {
	ctx, end := database.TraceOperation(ctx, system, "carts.findOneAndDelete")
	defer func() { end(err) }()

	var doc cartDocument
	err = r.coll.FindOneAndDelete(ctx, bson.M{"user_id": userID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, apperrors.Store("delete cart", err)
	}

	return fromDocument(doc)
}

func toDocument(cart *domain.Cart) (cartDocument, error) {
	total, err := toDecimal128(cart.TotalPrice)
	if err != nil {
		return cartDocument{}, err
	}

	items := make([]itemDocument, 0, len(cart.Items))
	for _, item := range cart.Items {
		price, err := toDecimal128(item.UnitPrice)
		if err != nil {
			return cartDocument{}, err
		}
		items = append(items, itemDocument{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
	}

	return cartDocument{
		ID:         cart.ID,
		UserID:     cart.UserID,
		Items:      items,
		TotalPrice: total,
		CreatedAt:  cart.CreatedAt,
		UpdatedAt:  cart.UpdatedAt,
	}, nil
}

func fromDocument(doc cartDocument) (*domain.Cart, error) {
	total, err := fromDecimal128(doc.TotalPrice)
	if err != nil {
		return nil, apperrors.Store("decode cart", err)
	}

	items := make([]domain.CartItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		price, err := fromDecimal128(item.UnitPrice)
		if err != nil {
			return nil, apperrors.Store("decode cart", err)
		}
		items = append(items, domain.CartItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: price,
		})
	}

	return &domain.Cart{
		ID:         doc.ID,
		UserID:     doc.UserID,
		Items:      items,
		TotalPrice: total,
		CreatedAt:  doc.CreatedAt.UTC(),
		UpdatedAt:  doc.UpdatedAt.UTC(),
	}, nil
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("encode decimal %s: %w", d, err)
	}
	return v, nil
}

func fromDecimal128(v primitive.Decimal128) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode decimal %s: %w", v, err)
	}
	return d, nil
}
