// Package cart models the line items held in a browser checkout session.
package cart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/money"
)

// ErrInvalidInput is returned when an item or index is not acceptable.
var ErrInvalidInput = errors.New("invalid input")

// Item is a product line in the cart. Price is in the canonical currency.
type Item struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// Subtotal returns price times quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.qty())))
}

func (i Item) qty() int {
	if i.Quantity <= 0 {
		return 1
	}
	return i.Quantity
}

// Normalize applies defaults and validates the item.
func (i Item) Normalize() (Item, error) {
	i.ProductID = strings.TrimSpace(i.ProductID)
	i.Name = strings.TrimSpace(i.Name)
	if i.ProductID == "" {
		return Item{}, fmt.Errorf("product id required: %w", ErrInvalidInput)
	}
	if i.Price.IsNegative() {
		return Item{}, fmt.Errorf("price must not be negative: %w", ErrInvalidInput)
	}
	if i.Quantity < 0 {
		return Item{}, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	i.Quantity = i.qty()
	i.Price = i.Price.Round(money.CanonicalPlaces)
	return i, nil
}

// Cart is an ordered list of items.
type Cart []Item

// Total is the sum of item subtotals rounded to the canonical minor unit.
func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c {
		total = total.Add(item.Subtotal())
	}
	return total.Round(money.CanonicalPlaces)
}

// Empty reports whether the cart has no items.
func (c Cart) Empty() bool { return len(c) == 0 }

// Snapshot returns a copy detached from the receiver's backing array.
func (c Cart) Snapshot() Cart {
	if c == nil {
		return nil
	}
	out := make(Cart, len(c))
	copy(out, c)
	return out
}

// Add appends an item.
func (c Cart) Add(item Item) (Cart, error) {
	item, err := item.Normalize()
	if err != nil {
		return c, err
	}
	return append(c, item), nil
}

// UpdateQuantity sets the quantity of the item at index.
func (c Cart) UpdateQuantity(index, qty int) (Cart, error) {
	if index < 0 || index >= len(c) {
		return c, fmt.Errorf("index %d out of range: %w", index, ErrInvalidInput)
	}
	if qty <= 0 {
		return c, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	out := c.Snapshot()
	out[index].Quantity = qty
	return out, nil
}

// RemoveIndices drops the items at the given indices and keeps the relative
// order of everything else. Out-of-range indices are ignored.
func (c Cart) RemoveIndices(indices ...int) Cart {
	if len(indices) == 0 {
		return c.Snapshot()
	}
	drop := make(map[int]struct{}, len(indices))
	for _, idx := range indices {
		drop[idx] = struct{}{}
	}
	out := make(Cart, 0, len(c))
	for i, item := range c {
		if _, ok := drop[i]; ok {
			continue
		}
		out = append(out, item)
	}
	return out
}
