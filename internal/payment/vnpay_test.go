package payment

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newVNPayForTest() *VNPay {
	v := NewVNPay(VNPayConfig{
		TmnCode:    "TMN01",
		HashSecret: "SECRETKEY",
		PayURL:     "https://sandbox.vnpay.test/pay",
		ReturnURL:  "http://shop.test/vnpay/return",
	})
	v.now = func() time.Time { return time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC) }
	v.newRef = func(time.Time) string { return "REF123" }
	return v
}

// signedReturn builds return parameters signed the way VNPay signs them.
func signedReturn(v *VNPay, fields map[string]string) url.Values {
	params := url.Values{}
	for k, val := range fields {
		params.Set(k, val)
	}
	params.Set("vnp_SecureHash", v.sign(params.Encode()))
	return params
}

func TestVNPayInitiateSignsURL(t *testing.T) {
	v := newVNPayForTest()

	init, err := v.Initiate(context.Background(), InitiateRequest{Amount: decimal.RequireFromString("10.50"), ClientIP: "203.0.113.9"})
	require.NoError(t, err)
	require.Equal(t, KindRedirect, init.Kind)
	require.Equal(t, "REF123", init.Reference)

	u, err := url.Parse(init.URL)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(init.URL, "https://sandbox.vnpay.test/pay?"))
	q := u.Query()
	// 10.50 USD * 24000 = 252000 VND, sent as VND * 100
	require.Equal(t, "25200000", q.Get("vnp_Amount"))
	require.Equal(t, "VND", q.Get("vnp_CurrCode"))
	require.Equal(t, "20260301100000", q.Get("vnp_CreateDate"))
	require.Equal(t, "20260301101500", q.Get("vnp_ExpireDate"))
	require.Equal(t, "203.0.113.9", q.Get("vnp_IpAddr"))
	require.True(t, v.verify(q), "generated URL must carry a valid signature")
}

func TestVNPayConfirmSuccess(t *testing.T) {
	v := newVNPayForTest()
	params := signedReturn(v, map[string]string{
		"vnp_Amount":       "25200000",
		"vnp_ResponseCode": "00",
		"vnp_TxnRef":       "REF123",
		"vnp_BankCode":     "NCB",
	})

	key, ok := v.CallbackKey(Callback{Params: params})
	require.True(t, ok)
	require.Equal(t, "REF123", key)

	out, err := v.Confirm(context.Background(), Callback{Params: params})
	require.NoError(t, err)
	require.Equal(t, "REF123", out.TransactionID)
	require.Equal(t, "10.50", out.Amount.StringFixed(2))
	require.Contains(t, string(out.Raw), "NCB")
}

func TestVNPayConfirmDeclinedKeepsCode(t *testing.T) {
	v := newVNPayForTest()
	params := signedReturn(v, map[string]string{
		"vnp_Amount":       "25200000",
		"vnp_ResponseCode": "24",
		"vnp_TxnRef":       "REF123",
	})

	_, err := v.Confirm(context.Background(), Callback{Params: params})
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	require.Equal(t, ReasonDeclined, failure.Reason)
	require.Equal(t, "24", failure.Code)
}

func TestVNPayConfirmRejectsTamperedSignature(t *testing.T) {
	v := newVNPayForTest()
	params := signedReturn(v, map[string]string{
		"vnp_Amount":       "100",
		"vnp_ResponseCode": "00",
		"vnp_TxnRef":       "REF123",
	})
	params.Set("vnp_Amount", "999999900")

	_, err := v.Confirm(context.Background(), Callback{Params: params})
	require.Equal(t, ReasonMalformedCallback, FailureReason(err))

	_, ok := v.CallbackKey(Callback{Params: params})
	require.False(t, ok)
}

func TestVNPayMissingResponseCodeIsDeclined(t *testing.T) {
	v := newVNPayForTest()
	params := signedReturn(v, map[string]string{"vnp_TxnRef": "REF123", "vnp_Amount": "100"})

	_, err := v.Confirm(context.Background(), Callback{Params: params})
	require.Equal(t, ReasonDeclined, FailureReason(err))
}
