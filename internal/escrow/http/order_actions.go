package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hawkerhall/escrow/internal/escrow/domain"
	"github.com/hawkerhall/escrow/internal/escrow/service"
	"github.com/hawkerhall/escrow/pkg/escrowsdk"
	"github.com/hawkerhall/escrow/pkg/httpx"
	"github.com/hawkerhall/escrow/pkg/slogx"
)

// OrderActionsHandler serves the lifecycle actions: fund, confirm-delivery,
// release and refund.
type OrderActionsHandler struct {
	Coordinator *service.CoordinatorService
}

func (h *OrderActionsHandler) HandleFund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	order, err := h.Coordinator.SubmitFunding(ctx, httpx.UserIDFromCtx(ctx), r.PathValue("id"))
	if err != nil {
		writeOrderError(w, log, err, "Failed to submit funding")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse(order))
}

func (h *OrderActionsHandler) HandleConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	order, err := h.Coordinator.ConfirmDelivery(ctx, httpx.UserIDFromCtx(ctx), r.PathValue("id"))
	if err != nil {
		writeOrderError(w, log, err, "Failed to confirm delivery")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse(order))
}

func (h *OrderActionsHandler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromCtx(ctx)
	orderID := r.PathValue("id")

	// The body is optional; an empty body means a plain release.
	var req escrowsdk.ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	var (
		order *domain.Order
		err   error
	)
	if req.Confirm {
		order, err = h.Coordinator.ConfirmDeliveryAndRelease(ctx, userID, orderID)
	} else {
		order, err = h.Coordinator.SubmitRelease(ctx, userID, orderID)
	}
	if err != nil {
		writeOrderError(w, log, err, "Failed to submit release")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse(order))
}

func (h *OrderActionsHandler) HandleRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	order, err := h.Coordinator.SubmitRefund(ctx, domain.Role(httpx.RoleFromCtx(ctx)), r.PathValue("id"))
	if err != nil {
		writeOrderError(w, log, err, "Failed to submit refund")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse(order))
}

// writeOrderError maps coordinator errors onto the HTTP error taxonomy.
func writeOrderError(w http.ResponseWriter, log *slog.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "Order not found")
	case errors.Is(err, service.ErrNotOrderParty):
		// 404, not 403: outsiders must not learn the order exists.
		httpx.WriteError(w, http.StatusNotFound, "not_found", "Order not found")
	case errors.Is(err, service.ErrNotBuyer):
		httpx.WriteError(w, http.StatusForbidden, "access_denied", "Only the buyer may perform this action")
	case errors.Is(err, service.ErrNotAdmin):
		httpx.WriteError(w, http.StatusForbidden, "access_denied", "Only an admin may perform this action")
	case errors.Is(err, service.ErrInvalidOrderState):
		httpx.WriteError(w, http.StatusConflict, "conflict", "Order state does not allow this action")
	case errors.Is(err, service.ErrConcurrentModification):
		httpx.WriteError(w, http.StatusConflict, "conflict", "Order was modified concurrently, retry")
	case errors.Is(err, service.ErrChainSubmission):
		httpx.WriteError(w, http.StatusBadGateway, "chain_unavailable", "Escrow transaction could not be submitted")
	default:
		log.Error(fallback, "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", fallback)
	}
}
