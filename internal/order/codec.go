package order

import (
	"encoding/json"
	"fmt"

	"github.com/noah-isme/toko-checkout/internal/cart"
	"github.com/noah-isme/toko-checkout/internal/money"
)

const selectColumns = `id, first_name, last_name, email, address, country, city, state, zip_code,
items, total_minor, authorized_minor, currency, payment_method, payment_id,
payment_status, order_status, raw_payload`

// row is the column image shared by both stores.
type row struct {
	itemsJSON  []byte
	totalMinor int64
	authMinor  int64
	status     string
	raw        []byte
}

func (r *row) dest(o *Order) []any {
	return []any{
		&o.ID, &o.Billing.FirstName, &o.Billing.LastName, &o.Billing.Email, &o.Billing.Address,
		&o.Billing.Country, &o.Billing.City, &o.Billing.State, &o.Billing.ZipCode,
		&r.itemsJSON, &r.totalMinor, &r.authMinor, &o.Currency, &o.PaymentMethod, &o.PaymentID,
		&o.PaymentStatus, &r.status, &r.raw,
	}
}

func (r *row) hydrate(o *Order) error {
	o.Items = cart.Cart{}
	if len(r.itemsJSON) > 0 {
		if err := json.Unmarshal(r.itemsJSON, &o.Items); err != nil {
			return fmt.Errorf("decode order items: %w", err)
		}
	}
	o.Total = money.FromMinor(r.totalMinor)
	o.AuthorizedAmount = money.FromMinor(r.authMinor)
	o.OrderStatus = Status(r.status)
	if len(r.raw) > 0 {
		o.RawPayload = append(o.RawPayload[:0], r.raw...)
	}
	return nil
}

func encodeItems(items cart.Cart) ([]byte, error) {
	if items == nil {
		items = cart.Cart{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode order items: %w", err)
	}
	return b, nil
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return []byte(raw)
}
