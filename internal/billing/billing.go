// Package billing extracts the customer's billing details from loosely
// shaped form or JSON payloads.
package billing

import (
	"fmt"
	"strings"
)

// Info is the billing identity attached to an order.
type Info struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Address   string `json:"address"`
	Country   string `json:"country"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zipCode"`
}

// fields lists the accepted keys for each attribute, most preferred first.
var fields = []struct {
	keys []string
	set  func(*Info, string)
}{
	{[]string{"firstName", "firstname"}, func(i *Info, v string) { i.FirstName = v }},
	{[]string{"lastName", "lastname"}, func(i *Info, v string) { i.LastName = v }},
	{[]string{"email"}, func(i *Info, v string) { i.Email = v }},
	{[]string{"address"}, func(i *Info, v string) { i.Address = v }},
	{[]string{"country"}, func(i *Info, v string) { i.Country = v }},
	{[]string{"city"}, func(i *Info, v string) { i.City = v }},
	{[]string{"state"}, func(i *Info, v string) { i.State = v }},
	{[]string{"zipCode", "zipcode"}, func(i *Info, v string) { i.ZipCode = v }},
}

// Extract builds Info from a raw map. It never fails: missing or unusable
// values become empty strings.
func Extract(raw map[string]any) Info {
	var info Info
	if raw == nil {
		return info
	}
	for _, f := range fields {
		for _, key := range f.keys {
			v, ok := raw[key]
			if !ok {
				continue
			}
			if s, ok := stringify(v); ok && s != "" {
				f.set(&info, s)
				break
			}
		}
	}
	return info
}

// FromValues extracts Info from url.Values-style form input.
func FromValues(values map[string][]string) Info {
	raw := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) > 0 {
			raw[k] = v[0]
		}
	}
	return Extract(raw)
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return strings.TrimSpace(t), true
	case bool, int, int32, int64, uint, uint32, uint64:
		return fmt.Sprint(t), true
	case float32, float64:
		return strings.TrimSpace(fmt.Sprintf("%v", t)), true
	default:
		return "", false
	}
}

// Merge fills any empty field of i from fallback.
func (i Info) Merge(fallback Info) Info {
	pick := func(a, b string) string {
		if strings.TrimSpace(a) != "" {
			return a
		}
		return b
	}
	return Info{
		FirstName: pick(i.FirstName, fallback.FirstName),
		LastName:  pick(i.LastName, fallback.LastName),
		Email:     pick(i.Email, fallback.Email),
		Address:   pick(i.Address, fallback.Address),
		Country:   pick(i.Country, fallback.Country),
		City:      pick(i.City, fallback.City),
		State:     pick(i.State, fallback.State),
		ZipCode:   pick(i.ZipCode, fallback.ZipCode),
	}
}

// Complete reports whether the fields an order requires are present. State
// is optional because many countries have none.
func (i Info) Complete() bool {
	for _, v := range []string{i.FirstName, i.LastName, i.Email, i.Address, i.Country, i.City, i.ZipCode} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// IsZero reports whether no field is set.
func (i Info) IsZero() bool {
	return i == Info{}
}

// SplitName splits a full name on the first space.
func SplitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}
	first, last, _ = strings.Cut(full, " ")
	return first, strings.TrimSpace(last)
}
