package catalog

import (
	"context"
	"sync"
)

// Static is an in-memory Catalog for tests and local development.
type Static struct {
	mu       sync.RWMutex
	listings map[string]Listing
}

func NewStatic(listings ...Listing) *Static {
	s := &Static{listings: make(map[string]Listing, len(listings))}
	for _, l := range listings {
		s.listings[l.ID] = l
	}
	return s
}

func (s *Static) Put(l Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = l
}

func (s *Static) GetListing(ctx context.Context, id string) (Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[id]
	if !ok {
		return Listing{}, ErrListingNotFound
	}
	return l, nil
}
