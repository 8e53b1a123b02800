package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MaxQuantityPerItem is the largest quantity a single line may hold.
const MaxQuantityPerItem = 100

// ErrQuantityLimit is returned when a line would exceed MaxQuantityPerItem.
var ErrQuantityLimit = errors.New("quantity limit exceeded")

func init() {
	// Money is rendered as JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Cart is the persisted aggregate of line items owned by one user.
type Cart struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	Items      []CartItem      `json:"items"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// CartItem is one product line. UnitPrice is the price captured when the
// item was added, not a live catalog reference.
type CartItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

// Product is the slice of catalog data a cart line needs.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
}

// NewCart starts an empty cart for userID.
func NewCart(id, userID string, now time.Time) *Cart {
	return &Cart{
		ID:         id,
		UserID:     userID,
		Items:      []CartItem{},
		TotalPrice: decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Subtotal is the line total.
func (i CartItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// RecalculateTotal recomputes TotalPrice from scratch over every line.
func (c *Cart) RecalculateTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Subtotal())
	}
	c.TotalPrice = total
	return total
}

// ItemCount returns the total number of units in the cart.
func (c *Cart) ItemCount() int {
	var count int
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// FindItemIndex returns the index of the line for productID, or -1.
func (c *Cart) FindItemIndex(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// AddItem merges quantity into an existing line or appends a new one.
// An existing line keeps its captured price and name unless refresh is set.
// The cart is left unchanged when the resulting line quantity would fall
// outside 1..MaxQuantityPerItem.
func (c *Cart) AddItem(p Product, quantity int, refresh bool) error {
	if quantity < 1 || quantity > MaxQuantityPerItem {
		return ErrQuantityLimit
	}
	if idx := c.FindItemIndex(p.ID); idx >= 0 {
		if c.Items[idx].Quantity > MaxQuantityPerItem-quantity {
			return ErrQuantityLimit
		}
		c.Items[idx].Quantity += quantity
		if refresh {
			c.Items[idx].UnitPrice = p.Price
			c.Items[idx].Name = p.Name
		}
		return nil
	}
	c.Items = append(c.Items, CartItem{
		ProductID: p.ID,
		Name:      p.Name,
		Quantity:  quantity,
		UnitPrice: p.Price,
	})
	return nil
}

// RemoveItem drops the line for productID and reports whether one existed.
func (c *Cart) RemoveItem(productID string) bool {
	idx := c.FindItemIndex(productID)
	if idx < 0 {
		return false
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	return true
}
