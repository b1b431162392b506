package order

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/toko-checkout/internal/common"
)

// Handler serves order reads.
type Handler struct {
	Store Store
}

// Get returns a single order by id.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	o, err := h.Store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "failed to load order")
		return
	}
	common.JSON(w, http.StatusOK, map[string]Order{"data": o})
}

// AdminHandler exposes fulfilment status changes to operators.
type AdminHandler struct {
	Store Store
}

type patchStatusRequest struct {
	Status string `json:"status"`
}

// PatchStatus moves an order to a later fulfilment status.
func (h *AdminHandler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req patchStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid payload", nil)
		return
	}
	next, ok := ParseStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !ok {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "unsupported status", nil)
		return
	}
	o, err := h.Store.UpdateStatus(r.Context(), id, next)
	if err != nil {
		writeStoreError(w, err, "failed to update order status")
		return
	}
	common.JSON(w, http.StatusOK, map[string]Order{"data": o})
}

// orderID validates the {id} URL parameter, answering 400 when it is not a UUID.
func orderID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if _, err := uuid.Parse(id); err != nil {
		common.JSONError(w, http.StatusBadRequest, common.CodeBadRequest, "invalid order id", nil)
		return "", false
	}
	return id, true
}

func writeStoreError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, common.CodeNotFound, "order not found", nil)
	case errors.Is(err, ErrInvalidTransition):
		common.JSONError(w, http.StatusConflict, common.CodeInvalidState, "state transition not allowed", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, fallback, nil)
	}
}
