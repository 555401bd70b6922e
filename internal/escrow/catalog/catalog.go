// Package catalog looks up marketplace listings. The escrow service only
// needs to know whether a listing is purchasable and for how much; the
// listing catalogue itself is another service.
package catalog

import (
	"context"
	"errors"
)

var (
	ErrListingNotFound    = errors.New("catalog: listing not found")
	ErrListingInactive    = errors.New("catalog: listing not purchasable")
	ErrCatalogUnavailable = errors.New("catalog: unavailable")
)

// Listing is the subset of a marketplace listing the coordinator needs.
type Listing struct {
	ID       string `json:"id"`
	SellerID string `json:"seller_id"`
	Price    int64  `json:"price"` // integer minor units
	Currency string `json:"currency"`
	Active   bool   `json:"active"`
}

// Catalog resolves listing ids to listings.
type Catalog interface {
	// GetListing returns the listing or ErrListingNotFound.
	GetListing(ctx context.Context, id string) (Listing, error)
}
