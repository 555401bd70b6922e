package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/hawkerhall/escrow/internal/escrow/domain"
	"github.com/hawkerhall/escrow/internal/escrow/service"
	"github.com/hawkerhall/escrow/pkg/escrowsdk"
	"github.com/hawkerhall/escrow/pkg/httpx"
	"github.com/hawkerhall/escrow/pkg/slogx"
)

// OrdersHandler serves order creation, lookup and listing.
type OrdersHandler struct {
	Coordinator *service.CoordinatorService
}

func (h *OrdersHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromCtx(ctx)

	var req escrowsdk.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.ListingID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "listing_id is required")
		return
	}

	order, err := h.Coordinator.CreateOrder(ctx, userID, req.ListingID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrListingUnavailable):
			httpx.WriteError(w, http.StatusUnprocessableEntity, "listing_unavailable", "Listing does not exist or cannot be purchased")
		case errors.Is(err, service.ErrSelfPurchase):
			httpx.WriteError(w, http.StatusUnprocessableEntity, "invalid_request", "You cannot buy your own listing")
		case errors.Is(err, service.ErrBuyerInactive):
			httpx.WriteError(w, http.StatusForbidden, "access_denied", "Account is deactivated")
		default:
			log.Error("failed to create order", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Failed to create order")
		}
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, orderResponse(order))
}

func (h *OrdersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromCtx(ctx)
	role := domain.Role(httpx.RoleFromCtx(ctx))

	order, err := h.Coordinator.GetOrder(ctx, userID, role, r.PathValue("id"))
	if err != nil {
		writeOrderError(w, log, err, "Failed to fetch order")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, orderResponse(order))
}

func (h *OrdersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromCtx(ctx)

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	orders, err := h.Coordinator.ListOrders(ctx, userID, limit, offset)
	if err != nil {
		log.Error("failed to list orders", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "Failed to list orders")
		return
	}

	out := escrowsdk.OrderListResponse{Orders: make([]escrowsdk.OrderResponse, 0, len(orders))}
	for _, o := range orders {
		out.Orders = append(out.Orders, orderResponse(o))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)
	userID := httpx.UserIDFromCtx(ctx)
	role := domain.Role(httpx.RoleFromCtx(ctx))

	txs, err := h.Coordinator.TxHistory(ctx, userID, role, r.PathValue("id"))
	if err != nil {
		writeOrderError(w, log, err, "Failed to fetch transactions")
		return
	}

	out := escrowsdk.OrderTxListResponse{Transactions: make([]escrowsdk.OrderTxResponse, 0, len(txs))}
	for _, tx := range txs {
		out.Transactions = append(out.Transactions, escrowsdk.OrderTxResponse{
			Kind:      string(tx.Kind),
			TxHash:    tx.TxHash,
			CreatedAt: tx.CreatedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func orderResponse(o *domain.Order) escrowsdk.OrderResponse {
	resp := escrowsdk.OrderResponse{
		ID:        o.ID,
		ListingID: o.ListingID,
		BuyerID:   o.BuyerID,
		SellerID:  o.SellerID,
		Amount:    o.Amount,
		Currency:  o.Currency,
		Status:    string(o.Status),
		Version:   o.Version,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
	if o.FundingTxHash != nil {
		resp.FundingTxHash = *o.FundingTxHash
	}
	if o.ReleaseTxHash != nil {
		resp.ReleaseTxHash = *o.ReleaseTxHash
	}
	if o.ReviewReason != nil {
		resp.ReviewReason = *o.ReviewReason
	}
	return resp
}
