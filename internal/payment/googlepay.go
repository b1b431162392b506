package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/money"
)

// GooglePayConfig holds the merchant and gateway tokenization settings.
type GooglePayConfig struct {
	Environment       string
	MerchantName      string
	MerchantID        string
	Gateway           string
	GatewayMerchantID string
	Currency          string
	CountryCode       string
}

// GooglePay implements the client-tokenized flow: the browser SDK collects
// the token, the server only validates what comes back.
type GooglePay struct {
	cfg  GooglePayConfig
	unit money.Unit
}

var (
	googlePayNetworks    = []string{"AMEX", "DISCOVER", "INTERAC", "JCB", "MASTERCARD", "VISA"}
	googlePayAuthMethods = []string{"PAN_ONLY", "CRYPTOGRAM_3DS"}
)

// NewGooglePay builds the adapter.
func NewGooglePay(cfg GooglePayConfig) *GooglePay {
	if cfg.Environment == "" {
		cfg.Environment = "TEST"
	}
	if cfg.MerchantName == "" {
		cfg.MerchantName = "Demo Store"
	}
	if cfg.Gateway == "" {
		cfg.Gateway = "example"
	}
	if cfg.GatewayMerchantID == "" {
		cfg.GatewayMerchantID = "exampleGatewayMerchantId"
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = "US"
	}
	unit := money.USD
	if cfg.Currency != "" {
		unit.Currency = strings.ToUpper(cfg.Currency)
	}
	return &GooglePay{cfg: cfg, unit: unit}
}

func (g *GooglePay) Method() Method { return MethodGooglePay }

// Initiate returns the request objects the browser feeds to the Google Pay
// JS client. No provider call happens here.
func (g *GooglePay) Initiate(_ context.Context, req InitiateRequest) (Initiation, error) {
	price, err := money.ToProviderUnit(req.Amount, g.unit)
	if err != nil {
		return Initiation{}, fail(MethodGooglePay, ReasonInvalidAmount, "", err)
	}
	card := map[string]any{
		"type": "CARD",
		"parameters": map[string]any{
			"allowedAuthMethods":     googlePayAuthMethods,
			"allowedCardNetworks":    googlePayNetworks,
			"billingAddressRequired": true,
		},
	}
	tokenized := map[string]any{
		"type":       "CARD",
		"parameters": card["parameters"],
		"tokenizationSpecification": map[string]any{
			"type": "PAYMENT_GATEWAY",
			"parameters": map[string]string{
				"gateway":           g.cfg.Gateway,
				"gatewayMerchantId": g.cfg.GatewayMerchantID,
			},
		},
	}
	merchant := map[string]string{"merchantName": g.cfg.MerchantName}
	if g.cfg.MerchantID != "" {
		merchant["merchantId"] = g.cfg.MerchantID
	}
	return Initiation{
		Kind: KindClientAction,
		Config: map[string]any{
			"environment": g.cfg.Environment,
			"isReadyToPayRequest": map[string]any{
				"apiVersion":            2,
				"apiVersionMinor":       0,
				"allowedPaymentMethods": []any{card},
			},
			"paymentDataRequest": map[string]any{
				"apiVersion":            2,
				"apiVersionMinor":       0,
				"allowedPaymentMethods": []any{tokenized},
				"transactionInfo": map[string]string{
					"totalPriceStatus": "FINAL",
					"totalPrice":       price.StringFixed(g.unit.Places),
					"currencyCode":     g.unit.Currency,
					"countryCode":      g.cfg.CountryCode,
				},
				"merchantInfo":    merchant,
				"callbackIntents": []string{"PAYMENT_AUTHORIZATION"},
			},
		},
	}, nil
}

// CallbackKey derives the transaction id from the payment token.
func (g *GooglePay) CallbackKey(cb Callback) (string, bool) {
	token := lookupString(cb.Payload, "paymentMethodData", "tokenizationData", "token")
	if token == "" {
		return "", false
	}
	sum := sha256.Sum256([]byte(token))
	return "gp_" + hex.EncodeToString(sum[:]), true
}

// Confirm validates the payment data posted back by the browser. The
// provider-asserted total wins; a client total is only accepted when it
// matches the cart total held on the server.
func (g *GooglePay) Confirm(_ context.Context, cb Callback) (Outcome, error) {
	if cb.Cancelled {
		return Outcome{}, fail(MethodGooglePay, ReasonCancelled, "", nil)
	}
	token := lookupString(cb.Payload, "paymentMethodData", "tokenizationData", "token")
	if token == "" {
		return Outcome{}, fail(MethodGooglePay, ReasonMalformedCallback, "", errors.New("missing payment token"))
	}
	if cb.Billing.IsZero() {
		return Outcome{}, fail(MethodGooglePay, ReasonMalformedCallback, "", errors.New("missing billing info"))
	}

	amount, err := g.resolveAmount(cb)
	if err != nil {
		return Outcome{}, err
	}

	txID, _ := g.CallbackKey(cb)
	raw := map[string]any{
		"tokenSha256": txID[3:],
		"description": lookupString(cb.Payload, "paymentMethodData", "description"),
		"cardNetwork": lookupString(cb.Payload, "paymentMethodData", "info", "cardNetwork"),
		"cardDetails": lookupString(cb.Payload, "paymentMethodData", "info", "cardDetails"),
	}
	return Outcome{
		Method:        MethodGooglePay,
		TransactionID: txID,
		Amount:        amount,
		Raw:           toJSON(raw),
	}, nil
}

func (g *GooglePay) resolveAmount(cb Callback) (decimal.Decimal, error) {
	if asserted := lookupString(cb.Payload, "transactionInfo", "totalPrice"); asserted != "" {
		v, err := money.ParseAmount(asserted)
		if err != nil {
			return decimal.Zero, fail(MethodGooglePay, ReasonMalformedCallback, "", err)
		}
		amount, err := money.FromProviderUnit(v, g.unit)
		if err != nil {
			return decimal.Zero, fail(MethodGooglePay, ReasonMalformedCallback, "", err)
		}
		return amount, nil
	}
	if strings.TrimSpace(cb.ClientTotal) == "" {
		return decimal.Zero, fail(MethodGooglePay, ReasonMalformedCallback, "", errors.New("no total in payment data"))
	}
	client, err := money.ParseAmount(cb.ClientTotal)
	if err != nil {
		return decimal.Zero, fail(MethodGooglePay, ReasonMalformedCallback, "", err)
	}
	if !cb.CartTotal.IsPositive() {
		return decimal.Zero, fail(MethodGooglePay, ReasonMalformedCallback, "", errors.New("client total cannot be verified without a cart"))
	}
	if !money.WithinMinorUnit(client, cb.CartTotal) {
		return decimal.Zero, fail(MethodGooglePay, ReasonMalformedCallback, "AMOUNT_MISMATCH",
			fmt.Errorf("client total %s does not match cart total %s", money.Format(client), money.Format(cb.CartTotal)))
	}
	return cb.CartTotal, nil
}

// lookupString walks nested JSON objects and returns the string at path.
func lookupString(m map[string]any, path ...string) string {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = obj[key]
	}
	switch v := cur.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return decimal.NewFromFloat(v).String()
	default:
		return ""
	}
}
