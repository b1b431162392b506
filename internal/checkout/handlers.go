package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-checkout/internal/billing"
	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/money"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/session"
	"github.com/noah-isme/toko-checkout/internal/status"
)

const writeFailedMessage = "payment succeeded but order could not be recorded; contact support"

// Handler exposes the provider-facing checkout routes.
type Handler struct {
	Svc        *Service
	Validate   *validator.Validate
	StatusBase string
	Logger     zerolog.Logger
}

// Routes registers every checkout route on r. guards wrap the state-changing
// POST endpoints (rate limit, idempotency).
func (h *Handler) Routes(r chi.Router, guards ...func(http.Handler) http.Handler) {
	r.Get("/paypal", h.PayPalStart)
	r.Get("/paypal/success", h.Return(payment.MethodPayPal))
	r.Get("/paypal/cancel", h.Cancel(payment.MethodPayPal))
	r.Get("/stripe/success", h.Return(payment.MethodStripe))
	r.Get("/stripe/cancel", h.Cancel(payment.MethodStripe))
	r.Get("/vnpay/return", h.Return(payment.MethodVNPay))

	r.Group(func(r chi.Router) {
		r.Use(guards...)
		r.Post("/stripe/create-checkout-session", h.CreateSession(payment.MethodStripe))
		r.Post("/vnpay/create-checkout-session", h.CreateSession(payment.MethodVNPay))
		r.Post("/googlepay/initiate", h.CreateSession(payment.MethodGooglePay))
		r.Post("/orders/complete", h.CompleteOrder)
		r.Post("/paypal/complete-order", h.CompleteOrder)
	})
}

// amountField accepts a JSON number or numeric string.
type amountField string

func (a *amountField) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" {
		*a = ""
		return nil
	}
	*a = amountField(strings.Trim(raw, `"`))
	return nil
}

type initiateRequest struct {
	Amount      amountField    `json:"amount"`
	BillingInfo map[string]any `json:"billingInfo"`
}

type completeRequest struct {
	BillingInfo   map[string]any `json:"billingInfo" validate:"required"`
	PaymentData   map[string]any `json:"paymentData" validate:"required"`
	PaymentMethod string         `json:"paymentMethod" validate:"required,oneof=paypal googlepay"`
	Total         amountField    `json:"total"`
}

type completeResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// PayPalStart creates a PayPal order for ?amount= (or the cart total) and
// redirects the buyer to approve it.
func (h *Handler) PayPalStart(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var amount decimal.Decimal
	if raw := r.URL.Query().Get("amount"); raw != "" {
		parsed, err := money.ParseAmount(raw)
		if err != nil {
			h.redirect(w, r, status.Signal{Provider: payment.MethodPayPal, Status: status.Error, Reason: string(payment.ReasonInvalidAmount)})
			return
		}
		amount = parsed
	}
	init, err := h.Svc.Initiate(r.Context(), InitiateInput{
		Method:    payment.MethodPayPal,
		SessionID: sid,
		Amount:    amount,
		ClientIP:  common.ClientIP(r),
	})
	if err != nil || init.Kind != payment.KindRedirect {
		h.redirect(w, r, status.FromFailure(payment.MethodPayPal, err))
		return
	}
	http.Redirect(w, r, init.URL, http.StatusFound)
}

// CreateSession starts a Stripe, VNPay or Google Pay payment from a JSON body.
func (h *Handler) CreateSession(method payment.Method) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, ok := h.sessionID(w, r)
		if !ok {
			return
		}
		var req initiateRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
				return
			}
		}
		var amount decimal.Decimal
		if req.Amount != "" {
			parsed, err := money.ParseAmount(string(req.Amount))
			if err != nil {
				common.JSONError(w, http.StatusBadRequest, common.CodeValidation, "amount must be a positive number", nil)
				return
			}
			amount = parsed
		}
		init, err := h.Svc.Initiate(r.Context(), InitiateInput{
			Method:    method,
			SessionID: sid,
			Amount:    amount,
			Billing:   billing.Extract(req.BillingInfo),
			ClientIP:  common.ClientIP(r),
		})
		if err != nil {
			common.WriteError(w, failureAppError(err))
			return
		}
		switch init.Kind {
		case payment.KindClientAction:
			common.JSON(w, http.StatusOK, map[string]any{"config": init.Config})
		default:
			body := map[string]any{"url": init.URL}
			if method == payment.MethodStripe {
				body["id"] = init.Reference
			}
			common.JSON(w, http.StatusOK, body)
		}
	}
}

// Return handles a provider redirect back to the store.
func (h *Handler) Return(method payment.Method) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, ok := h.sessionID(w, r)
		if !ok {
			return
		}
		res, err := h.Svc.Confirm(r.Context(), ConfirmInput{
			Method:    method,
			SessionID: sid,
			Params:    r.URL.Query(),
		})
		h.redirect(w, r, confirmSignal(method, res, err))
	}
}

// Cancel handles the provider's cancel URL.
func (h *Handler) Cancel(method payment.Method) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.redirect(w, r, status.Signal{Provider: method, Status: status.Cancel})
	}
}

// CompleteOrder records an order from a client-side payment result. The
// payment data is always re-verified with the provider or against the
// server-held cart; nothing in the body is trusted as proof of payment.
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	sid, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSON(w, http.StatusBadRequest, completeResponse{Message: "invalid payload", Code: common.CodeBadRequest})
		return
	}
	if err := h.validator().Struct(req); err != nil {
		common.JSON(w, http.StatusBadRequest, completeResponse{Message: err.Error(), Code: common.CodeValidation})
		return
	}
	method, _ := payment.ParseMethod(req.PaymentMethod)

	in := ConfirmInput{
		Method:      method,
		SessionID:   sid,
		Payload:     req.PaymentData,
		Billing:     billing.Extract(req.BillingInfo),
		ClientTotal: string(req.Total),
	}
	if method == payment.MethodPayPal {
		// the JS SDK posts the captured PayPal order; re-read it by id
		in.Params = map[string][]string{"token": {stringField(req.PaymentData, "id")}}
	}
	res, err := h.Svc.Confirm(r.Context(), in)
	if err != nil {
		appErr := failureAppError(err)
		common.JSON(w, appErr.HTTPStatus, completeResponse{Message: appErr.Message, Code: appErr.Code})
		return
	}
	msg := "Order completed successfully"
	if res.Duplicate {
		msg = "Order already recorded"
	}
	common.JSON(w, http.StatusOK, completeResponse{Success: true, OrderID: res.Order.ID, Message: msg})
}

func confirmSignal(method payment.Method, res Finalized, err error) status.Signal {
	switch {
	case err == nil:
		return status.Succeeded(method, res.Order.ID)
	case IsOrderWriteFailed(err):
		return status.WriteFailed(method)
	default:
		return status.FromFailure(method, err)
	}
}

// failureAppError maps checkout errors onto the HTTP error envelope.
func failureAppError(err error) *common.AppError {
	if IsOrderWriteFailed(err) {
		return common.NewAppError(common.CodeOrderWriteFailed, writeFailedMessage, http.StatusInternalServerError, err)
	}
	if errors.Is(err, ErrSessionUnavailable) {
		return common.NewAppError(common.CodeInternal, "checkout is temporarily unavailable, please try again", http.StatusServiceUnavailable, err)
	}
	if errors.Is(err, payment.ErrUnknownMethod) {
		return common.NewAppError(common.CodeBadRequest, "payment method not available", http.StatusBadRequest, err)
	}
	var f *payment.Failure
	if !errors.As(err, &f) {
		return common.NewAppError(common.CodeInternal, "internal server error", http.StatusInternalServerError, err)
	}
	switch f.Reason {
	case payment.ReasonCancelled:
		return common.NewAppError(common.CodePaymentFailed, "payment was cancelled", http.StatusPaymentRequired, err)
	case payment.ReasonDeclined:
		return common.NewAppError(common.CodePaymentFailed, "payment was declined", http.StatusPaymentRequired, err)
	case payment.ReasonInvalidAmount:
		return common.NewAppError(common.CodeValidation, "invalid amount", http.StatusBadRequest, err)
	case payment.ReasonMalformedCallback:
		return common.NewAppError(common.CodeBadRequest, "payment data could not be verified", http.StatusBadRequest, err)
	default:
		return common.NewAppError(common.CodeProviderDown, "payment provider unavailable, please try again", http.StatusBadGateway, err)
	}
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	sid, ok := session.ID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "session middleware not configured", nil)
	}
	return sid, ok
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, sig status.Signal) {
	http.Redirect(w, r, status.URL(h.StatusBase, sig), http.StatusFound)
}

var defaultValidate = validator.New(validator.WithRequiredStructEnabled())

func (h *Handler) validator() *validator.Validate {
	if h.Validate == nil {
		return defaultValidate
	}
	return h.Validate
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}
