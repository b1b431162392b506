// Package session keeps the per-browser checkout state (cart, plus pending
// billing and the cart snapshot per payment method) across the provider
// redirect round trip.
package session

import (
	"time"

	"github.com/noah-isme/toko-checkout/internal/billing"
	"github.com/noah-isme/toko-checkout/internal/cart"
)

// Context is the checkout state of one browser session.
type Context struct {
	ID        string                  `json:"id"`
	Cart      cart.Cart               `json:"cart"`
	Billing   map[string]billing.Info `json:"billing,omitempty"`
	Snapshots map[string]cart.Cart    `json:"snapshots,omitempty"`
	CreatedAt time.Time               `json:"createdAt"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

// AddItem appends a line item.
func (c *Context) AddItem(item cart.Item) error {
	next, err := c.Cart.Add(item)
	if err != nil {
		return err
	}
	c.Cart = next
	return nil
}

// UpdateQuantity sets the quantity of the item at index.
func (c *Context) UpdateQuantity(index, qty int) error {
	next, err := c.Cart.UpdateQuantity(index, qty)
	if err != nil {
		return err
	}
	c.Cart = next
	return nil
}

// RemoveIndices drops items by index, keeping the order of the rest.
func (c *Context) RemoveIndices(indices ...int) {
	c.Cart = c.Cart.RemoveIndices(indices...)
}

// PutBilling stores the billing info entered for a payment method.
func (c *Context) PutBilling(method string, info billing.Info) {
	if c.Billing == nil {
		c.Billing = make(map[string]billing.Info)
	}
	c.Billing[method] = info
}

// PendingBilling returns the billing slot for method.
func (c Context) PendingBilling(method string) (billing.Info, bool) {
	info, ok := c.Billing[method]
	return info, ok
}

// PutSnapshot records the cart a payment for method was started with. An
// empty cart drops the slot.
func (c *Context) PutSnapshot(method string, items cart.Cart) {
	if items.Empty() {
		delete(c.Snapshots, method)
		return
	}
	if c.Snapshots == nil {
		c.Snapshots = make(map[string]cart.Cart)
	}
	c.Snapshots[method] = items.Snapshot()
}

// PendingSnapshot returns the cart captured when method was initiated.
func (c Context) PendingSnapshot(method string) (cart.Cart, bool) {
	items, ok := c.Snapshots[method]
	if !ok {
		return nil, false
	}
	return items.Snapshot(), true
}

// ClearCheckout empties the cart, every billing slot and every snapshot.
// Only a durably created order may trigger it.
func (c *Context) ClearCheckout() {
	c.Cart = nil
	c.Billing = nil
	c.Snapshots = nil
}
