package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/noah-isme/toko-checkout/internal/billing"
	"github.com/noah-isme/toko-checkout/internal/money"
)

// PayPalConfig holds the Orders v2 credentials and return URLs.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	APIBase      string
	ReturnURL    string
	CancelURL    string
	Currency     string
	Description  string
}

// PayPal implements the redirect-capture flow against PayPal Orders v2.
type PayPal struct {
	cfg    PayPalConfig
	client *http.Client
	unit   money.Unit
}

// NewPayPal builds the adapter. client should be a single-attempt provider
// client; it is used for both the token exchange and the Orders API.
func NewPayPal(cfg PayPalConfig, client *http.Client) *PayPal {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api-m.sandbox.paypal.com"
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.Description == "" {
		cfg.Description = "Online Store Purchase"
	}
	unit := money.USD
	if cfg.Currency != "" {
		unit.Currency = strings.ToUpper(cfg.Currency)
	}
	return &PayPal{cfg: cfg, client: client, unit: unit}
}

func (p *PayPal) Method() Method { return MethodPayPal }

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalOrder struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []paypalLink `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string       `json:"id"`
				Status string       `json:"status"`
				Amount paypalAmount `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
		Shipping struct {
			Address struct {
				Line1       string `json:"address_line_1"`
				AdminArea2  string `json:"admin_area_2"`
				AdminArea1  string `json:"admin_area_1"`
				PostalCode  string `json:"postal_code"`
				CountryCode string `json:"country_code"`
			} `json:"address"`
		} `json:"shipping"`
	} `json:"purchase_units"`
	Payer struct {
		Name struct {
			GivenName string `json:"given_name"`
			Surname   string `json:"surname"`
		} `json:"name"`
		Email string `json:"email_address"`
	} `json:"payer"`
}

type paypalError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Issue string `json:"issue"`
	} `json:"details"`
}

func (e paypalError) code() string {
	if len(e.Details) > 0 && e.Details[0].Issue != "" {
		return e.Details[0].Issue
	}
	return e.Name
}

// Initiate creates a CAPTURE order and returns the buyer approval link.
func (p *PayPal) Initiate(ctx context.Context, req InitiateRequest) (Initiation, error) {
	value, err := money.ToProviderUnit(req.Amount, p.unit)
	if err != nil {
		return Initiation{}, fail(MethodPayPal, ReasonInvalidAmount, "", err)
	}
	token, err := p.accessToken(ctx)
	if err != nil {
		return Initiation{}, err
	}
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"amount":      paypalAmount{CurrencyCode: p.unit.Currency, Value: value.StringFixed(p.unit.Places)},
			"description": p.cfg.Description,
		}},
		"application_context": map[string]string{
			"return_url": p.cfg.ReturnURL,
			"cancel_url": p.cfg.CancelURL,
		},
	}
	var order paypalOrder
	if err := p.call(ctx, http.MethodPost, "/v2/checkout/orders", token, body, &order); err != nil {
		return Initiation{}, err
	}
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return Initiation{Kind: KindRedirect, URL: link.Href, Reference: order.ID}, nil
		}
	}
	return Initiation{}, fail(MethodPayPal, ReasonDeclined, "NO_APPROVAL_LINK", errors.New("paypal order has no approval link"))
}

// CallbackKey returns the PayPal order id carried in the return URL.
func (p *PayPal) CallbackKey(cb Callback) (string, bool) {
	token := strings.TrimSpace(cb.Params.Get("token"))
	return token, token != ""
}

// Confirm captures the approved order. A refreshed return URL for an order
// that was already captured resolves to the existing capture.
func (p *PayPal) Confirm(ctx context.Context, cb Callback) (Outcome, error) {
	if cb.Cancelled {
		return Outcome{}, fail(MethodPayPal, ReasonCancelled, "", nil)
	}
	orderID, ok := p.CallbackKey(cb)
	if !ok {
		return Outcome{}, fail(MethodPayPal, ReasonMalformedCallback, "", errors.New("missing token"))
	}
	token, err := p.accessToken(ctx)
	if err != nil {
		return Outcome{}, err
	}

	var order paypalOrder
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	err = p.call(ctx, http.MethodPost, path, token, struct{}{}, &order)
	var f *Failure
	if errors.As(err, &f) && f.Code == "ORDER_ALREADY_CAPTURED" {
		err = p.call(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(orderID), token, nil, &order)
	}
	if err != nil {
		return Outcome{}, err
	}
	return p.outcome(orderID, order)
}

func (p *PayPal) outcome(orderID string, order paypalOrder) (Outcome, error) {
	if order.Status != "COMPLETED" {
		return Outcome{}, fail(MethodPayPal, ReasonDeclined, order.Status, nil)
	}
	if len(order.PurchaseUnits) == 0 || len(order.PurchaseUnits[0].Payments.Captures) == 0 {
		return Outcome{}, fail(MethodPayPal, ReasonMalformedCallback, "", errors.New("capture response has no captures"))
	}
	capture := order.PurchaseUnits[0].Payments.Captures[0]
	if capture.Status != "COMPLETED" {
		return Outcome{}, fail(MethodPayPal, ReasonDeclined, capture.Status, nil)
	}
	value, err := decimal.NewFromString(capture.Amount.Value)
	if err != nil {
		return Outcome{}, fail(MethodPayPal, ReasonMalformedCallback, "", fmt.Errorf("capture amount: %w", err))
	}
	amount, err := money.FromProviderUnit(value, p.unit)
	if err != nil {
		return Outcome{}, fail(MethodPayPal, ReasonMalformedCallback, "", err)
	}

	addr := order.PurchaseUnits[0].Shipping.Address
	payer := billing.Info{
		FirstName: order.Payer.Name.GivenName,
		LastName:  order.Payer.Name.Surname,
		Email:     order.Payer.Email,
		Address:   addr.Line1,
		City:      addr.AdminArea2,
		State:     addr.AdminArea1,
		ZipCode:   addr.PostalCode,
		Country:   addr.CountryCode,
	}
	id := order.ID
	if id == "" {
		id = orderID
	}
	return Outcome{
		Method:        MethodPayPal,
		TransactionID: id,
		Amount:        amount,
		Raw:           toJSON(order),
		Billing:       payer,
	}, nil
}

// accessToken performs a fresh client-credentials exchange. Tokens are not
// cached; every flow step gets its own.
func (p *PayPal) accessToken(ctx context.Context) (string, error) {
	if p.cfg.ClientID == "" || p.cfg.ClientSecret == "" {
		return "", fail(MethodPayPal, ReasonProviderAuthFailed, "", errors.New("paypal credentials not configured"))
	}
	cc := clientcredentials.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		TokenURL:     p.cfg.APIBase + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tok, err := cc.Token(context.WithValue(ctx, oauth2.HTTPClient, p.client))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
			return "", fail(MethodPayPal, ReasonProviderAuthFailed, strconv.Itoa(re.Response.StatusCode), err)
		}
		return "", AsFailure(MethodPayPal, err)
	}
	return tok.AccessToken, nil
}

func (p *PayPal) call(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fail(MethodPayPal, ReasonMalformedCallback, "", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.APIBase+path, body)
	if err != nil {
		return fail(MethodPayPal, ReasonMalformedCallback, "", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return AsFailure(MethodPayPal, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return AsFailure(MethodPayPal, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fail(MethodPayPal, ReasonProviderAuthFailed, strconv.Itoa(resp.StatusCode), nil)
	case resp.StatusCode >= 500:
		return fail(MethodPayPal, ReasonProviderUnreachable, strconv.Itoa(resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		var perr paypalError
		_ = json.Unmarshal(raw, &perr)
		code := perr.code()
		if code == "" {
			code = strconv.Itoa(resp.StatusCode)
		}
		return fail(MethodPayPal, ReasonDeclined, code, errors.New(perr.Message))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fail(MethodPayPal, ReasonMalformedCallback, "", fmt.Errorf("decode paypal response: %w", err))
	}
	return nil
}
