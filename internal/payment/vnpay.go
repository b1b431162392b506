package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/money"
)

const (
	vnpayVersion    = "2.1.0"
	vnpayTimeLayout = "20060102150405"
	vnpayExpireIn   = 15 * time.Minute
	vnpayApproved   = "00"
)

// vnpayZone is GMT+7, the timezone VNPay expects for create/expire dates.
var vnpayZone = time.FixedZone("ICT", 7*60*60)

// VNPayConfig holds the merchant terminal settings.
type VNPayConfig struct {
	TmnCode    string
	HashSecret string
	PayURL     string
	ReturnURL  string
	Rate       int64
	Locale     string
}

// VNPay implements the signed-return flow. No server-to-server call is made:
// the payment URL is signed locally and the return URL is verified locally.
type VNPay struct {
	cfg    VNPayConfig
	unit   money.Unit
	now    func() time.Time
	newRef func(time.Time) string
}

// NewVNPay builds the adapter.
func NewVNPay(cfg VNPayConfig) *VNPay {
	if cfg.PayURL == "" {
		cfg.PayURL = "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	return &VNPay{
		cfg:  cfg,
		unit: money.VND(cfg.Rate),
		now:  time.Now,
		newRef: func(t time.Time) string {
			return strconv.FormatInt(t.UnixMilli(), 10) + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
		},
	}
}

func (v *VNPay) Method() Method { return MethodVNPay }

// Initiate converts the amount to VND and returns the signed payment URL.
func (v *VNPay) Initiate(_ context.Context, req InitiateRequest) (Initiation, error) {
	vnd, err := money.ToProviderUnit(req.Amount, v.unit)
	if err != nil {
		return Initiation{}, fail(MethodVNPay, ReasonInvalidAmount, "", err)
	}
	if v.cfg.TmnCode == "" || v.cfg.HashSecret == "" {
		return Initiation{}, fail(MethodVNPay, ReasonProviderAuthFailed, "", errors.New("vnpay terminal not configured"))
	}
	now := v.now().In(vnpayZone)
	ref := v.newRef(now)
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}

	params := url.Values{}
	params.Set("vnp_Version", vnpayVersion)
	params.Set("vnp_Command", "pay")
	params.Set("vnp_TmnCode", v.cfg.TmnCode)
	params.Set("vnp_Amount", vnd.Mul(decimal.NewFromInt(100)).StringFixed(0))
	params.Set("vnp_CurrCode", "VND")
	params.Set("vnp_TxnRef", ref)
	params.Set("vnp_OrderInfo", "Thanh toan don hang "+ref)
	params.Set("vnp_OrderType", "other")
	params.Set("vnp_Locale", v.cfg.Locale)
	params.Set("vnp_ReturnUrl", v.cfg.ReturnURL)
	params.Set("vnp_IpAddr", ip)
	params.Set("vnp_CreateDate", now.Format(vnpayTimeLayout))
	params.Set("vnp_ExpireDate", now.Add(vnpayExpireIn).Format(vnpayTimeLayout))

	signData := params.Encode()
	payURL := fmt.Sprintf("%s?%s&vnp_SecureHash=%s", v.cfg.PayURL, signData, v.sign(signData))
	return Initiation{Kind: KindRedirect, URL: payURL, Reference: ref}, nil
}

// CallbackKey returns vnp_TxnRef from a return URL whose signature checks out.
func (v *VNPay) CallbackKey(cb Callback) (string, bool) {
	if !v.verify(cb.Params) {
		return "", false
	}
	ref := strings.TrimSpace(cb.Params.Get("vnp_TxnRef"))
	return ref, ref != ""
}

// Confirm verifies the return URL signature, then the response code.
func (v *VNPay) Confirm(_ context.Context, cb Callback) (Outcome, error) {
	if cb.Cancelled {
		return Outcome{}, fail(MethodVNPay, ReasonCancelled, "", nil)
	}
	if !v.verify(cb.Params) {
		return Outcome{}, fail(MethodVNPay, ReasonMalformedCallback, "", errors.New("vnp_SecureHash mismatch"))
	}
	code := cb.Params.Get("vnp_ResponseCode")
	if code != vnpayApproved {
		return Outcome{}, fail(MethodVNPay, ReasonDeclined, code, nil)
	}
	ref := strings.TrimSpace(cb.Params.Get("vnp_TxnRef"))
	if ref == "" {
		return Outcome{}, fail(MethodVNPay, ReasonMalformedCallback, code, errors.New("missing vnp_TxnRef"))
	}
	wire, err := decimal.NewFromString(cb.Params.Get("vnp_Amount"))
	if err != nil {
		return Outcome{}, fail(MethodVNPay, ReasonMalformedCallback, code, fmt.Errorf("vnp_Amount: %w", err))
	}
	amount, err := money.FromProviderUnit(wire.Div(decimal.NewFromInt(100)), v.unit)
	if err != nil {
		return Outcome{}, fail(MethodVNPay, ReasonMalformedCallback, code, err)
	}

	raw := make(map[string]string, len(cb.Params))
	for k := range cb.Params {
		if strings.HasPrefix(k, "vnp_") && k != "vnp_SecureHash" {
			raw[k] = cb.Params.Get(k)
		}
	}
	return Outcome{
		Method:        MethodVNPay,
		TransactionID: ref,
		Amount:        amount,
		Raw:           toJSON(raw),
	}, nil
}

func (v *VNPay) sign(data string) string {
	mac := hmac.New(sha512.New, []byte(v.cfg.HashSecret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *VNPay) verify(params url.Values) bool {
	provided := strings.ToLower(strings.TrimSpace(params.Get("vnp_SecureHash")))
	if provided == "" || v.cfg.HashSecret == "" {
		return false
	}
	signed := url.Values{}
	for k, vals := range params {
		if !strings.HasPrefix(k, "vnp_") || k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		if len(vals) > 0 && vals[0] != "" {
			signed.Set(k, vals[0])
		}
	}
	expected := v.sign(signed.Encode())
	return hmac.Equal([]byte(expected), []byte(provided))
}
