package escrowsdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// CreateOrder opens an escrow order for a listing.
func (s *Session) CreateOrder(ctx context.Context, listingID string) (*OrderResponse, error) {
	resp, err := s.client.doJSON(ctx, http.MethodPost, "/v1/orders", CreateOrderRequest{ListingID: listingID}, s.accessToken)
	if err != nil {
		return nil, err
	}

	var out OrderResponse
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrder fetches one of the caller's orders.
func (s *Session) GetOrder(ctx context.Context, orderID string) (*OrderResponse, error) {
	resp, err := s.client.doJSON(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(orderID), nil, s.accessToken)
	if err != nil {
		return nil, err
	}

	var out OrderResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOrders pages through the caller's orders, newest first.
func (s *Session) ListOrders(ctx context.Context, limit, offset int) (*OrderListResponse, error) {
	path := fmt.Sprintf("/v1/orders?limit=%d&offset=%d", limit, offset)
	resp, err := s.client.doJSON(ctx, http.MethodGet, path, nil, s.accessToken)
	if err != nil {
		return nil, err
	}

	var out OrderListResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// FundOrder submits the escrow funding transaction.
func (s *Session) FundOrder(ctx context.Context, orderID string) (*OrderResponse, error) {
	return s.orderAction(ctx, orderID, "fund", nil)
}

// ConfirmDelivery records receipt of the goods.
func (s *Session) ConfirmDelivery(ctx context.Context, orderID string) (*OrderResponse, error) {
	return s.orderAction(ctx, orderID, "confirm-delivery", nil)
}

// ReleaseOrder authorizes payout to the seller. With confirm true, delivery
// confirmation is folded into the same call.
func (s *Session) ReleaseOrder(ctx context.Context, orderID string, confirm bool) (*OrderResponse, error) {
	return s.orderAction(ctx, orderID, "release", ReleaseRequest{Confirm: confirm})
}

// RefundOrder submits a refund for a disputed order. Admin only.
func (s *Session) RefundOrder(ctx context.Context, orderID string) (*OrderResponse, error) {
	return s.orderAction(ctx, orderID, "refund", nil)
}

// GetOrderTransactions returns the order's submitted chain transactions.
func (s *Session) GetOrderTransactions(ctx context.Context, orderID string) (*OrderTxListResponse, error) {
	resp, err := s.client.doJSON(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(orderID)+"/transactions", nil, s.accessToken)
	if err != nil {
		return nil, err
	}

	var out OrderTxListResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Session) orderAction(ctx context.Context, orderID, action string, payload any) (*OrderResponse, error) {
	path := "/v1/orders/" + url.PathEscape(orderID) + "/" + action
	resp, err := s.client.doJSON(ctx, http.MethodPost, path, payload, s.accessToken)
	if err != nil {
		return nil, err
	}

	var out OrderResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
