package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hawkerhall/escrow/internal/escrow/catalog"
	"github.com/hawkerhall/escrow/internal/escrow/chain"
	"github.com/hawkerhall/escrow/internal/escrow/domain"
	"github.com/hawkerhall/escrow/internal/escrow/store/drivers/sqlite"
	"github.com/hawkerhall/escrow/pkg/idx"
	"github.com/stretchr/testify/require"
)

const testListingID = "listing-laksa"

type coordFixture struct {
	st      *sqlite.Store
	chain   *chain.Fake
	catalog *catalog.Static
	svc     *CoordinatorService

	buyer  domain.User
	seller domain.User
	admin  domain.User
}

func newCoordFixture(t *testing.T) *coordFixture {
	t.Helper()

	st := newTestStore(t)
	f := &coordFixture{
		st:      st,
		chain:   chain.NewFake(),
		catalog: catalog.NewStatic(),
		buyer:   seedServiceUser(t, st, domain.RoleBuyer),
		seller:  seedServiceUser(t, st, domain.RoleSeller),
		admin:   seedServiceUser(t, st, domain.RoleAdmin),
	}
	f.svc = NewCoordinatorService(st, f.chain, f.catalog, testLogger())

	f.catalog.Put(catalog.Listing{
		ID:       testListingID,
		SellerID: f.seller.ID,
		Price:    1850,
		Currency: "AUD",
		Active:   true,
	})
	return f
}

func seedServiceUser(t *testing.T, st *sqlite.Store, role domain.Role) domain.User {
	t.Helper()

	now := time.Now().UTC()
	u := domain.User{
		ID:        idx.New().String(),
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, st.Users().CreateUser(context.Background(), u))
	return u
}

// fundOrder walks a fresh order to FUNDING_SUBMITTED through the buyer path.
func (f *coordFixture) fundOrder(t *testing.T, ctx context.Context) *domain.Order {
	t.Helper()

	o, err := f.svc.CreateOrder(ctx, f.buyer.ID, testListingID)
	require.NoError(t, err)
	o, err = f.svc.SubmitFunding(ctx, f.buyer.ID, o.ID)
	require.NoError(t, err)
	return o
}

// fundedOrder walks a fresh order all the way to FUNDED.
func (f *coordFixture) fundedOrder(t *testing.T, ctx context.Context) *domain.Order {
	t.Helper()

	o := f.fundOrder(t, ctx)
	require.NoError(t, f.svc.ConfirmFunding(ctx, o.ID))
	o, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
	require.NoError(t, err)
	return o
}

func TestCreateOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("price and seller come from the catalogue", func(t *testing.T) {
		f := newCoordFixture(t)

		o, err := f.svc.CreateOrder(ctx, f.buyer.ID, testListingID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusCreated, o.Status)
		require.Equal(t, f.seller.ID, o.SellerID)
		require.Equal(t, int64(1850), o.Amount)
		require.Equal(t, "AUD", o.Currency)
		require.Equal(t, int64(1), o.Version)
	})

	t.Run("unknown listing", func(t *testing.T) {
		f := newCoordFixture(t)

		_, err := f.svc.CreateOrder(ctx, f.buyer.ID, "listing-nope")
		require.ErrorIs(t, err, ErrListingUnavailable)
	})

	t.Run("inactive listing", func(t *testing.T) {
		f := newCoordFixture(t)
		f.catalog.Put(catalog.Listing{
			ID: "listing-gone", SellerID: f.seller.ID,
			Price: 900, Currency: "AUD", Active: false,
		})

		_, err := f.svc.CreateOrder(ctx, f.buyer.ID, "listing-gone")
		require.ErrorIs(t, err, ErrListingUnavailable)
		require.ErrorIs(t, err, catalog.ErrListingInactive)
	})

	t.Run("seller cannot buy their own listing", func(t *testing.T) {
		f := newCoordFixture(t)

		_, err := f.svc.CreateOrder(ctx, f.seller.ID, testListingID)
		require.ErrorIs(t, err, ErrSelfPurchase)
	})

	t.Run("deactivated buyer cannot open orders", func(t *testing.T) {
		f := newCoordFixture(t)
		require.NoError(t, f.st.Users().DeactivateUser(ctx, f.buyer.ID, time.Now().UTC()))

		_, err := f.svc.CreateOrder(ctx, f.buyer.ID, testListingID)
		require.ErrorIs(t, err, ErrBuyerInactive)
	})

	t.Run("listing pointing at a missing seller", func(t *testing.T) {
		f := newCoordFixture(t)
		f.catalog.Put(catalog.Listing{
			ID: "listing-ghost", SellerID: idx.New().String(),
			Price: 900, Currency: "AUD", Active: true,
		})

		_, err := f.svc.CreateOrder(ctx, f.buyer.ID, "listing-ghost")
		require.ErrorIs(t, err, ErrListingUnavailable)
	})
}

func TestOrderVisibility(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newCoordFixture(t)
	stranger := seedServiceUser(t, f.st, domain.RoleBuyer)

	o, err := f.svc.CreateOrder(ctx, f.buyer.ID, testListingID)
	require.NoError(t, err)

	t.Run("both parties and admins can read", func(t *testing.T) {
		for _, u := range []domain.User{f.buyer, f.seller, f.admin} {
			got, err := f.svc.GetOrder(ctx, u.ID, u.Role, o.ID)
			require.NoError(t, err)
			require.Equal(t, o.ID, got.ID)
		}
	})

	t.Run("outsiders cannot", func(t *testing.T) {
		_, err := f.svc.GetOrder(ctx, stranger.ID, domain.RoleBuyer, o.ID)
		require.ErrorIs(t, err, ErrNotOrderParty)

		_, err = f.svc.TxHistory(ctx, stranger.ID, domain.RoleBuyer, o.ID)
		require.ErrorIs(t, err, ErrNotOrderParty)
	})

	t.Run("missing order", func(t *testing.T) {
		_, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, idx.New().String())
		require.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("listing shows the caller's orders", func(t *testing.T) {
		orders, err := f.svc.ListOrders(ctx, f.buyer.ID, 0, 0)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		require.Equal(t, o.ID, orders[0].ID)

		orders, err = f.svc.ListOrders(ctx, stranger.ID, 0, 0)
		require.NoError(t, err)
		require.Empty(t, orders)
	})
}

func TestSubmitFunding(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("buyer funds and the order advances", func(t *testing.T) {
		f := newCoordFixture(t)

		o := f.fundOrder(t, ctx)
		require.Equal(t, domain.StatusFundingSubmitted, o.Status)
		require.NotNil(t, o.FundingTxHash)

		txs, err := f.svc.TxHistory(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		require.Equal(t, domain.TxKindFunding, txs[0].Kind)
		require.Equal(t, *o.FundingTxHash, txs[0].TxHash)
	})

	t.Run("only the buyer may fund", func(t *testing.T) {
		f := newCoordFixture(t)
		stranger := seedServiceUser(t, f.st, domain.RoleBuyer)

		o, err := f.svc.CreateOrder(ctx, f.buyer.ID, testListingID)
		require.NoError(t, err)

		_, err = f.svc.SubmitFunding(ctx, f.seller.ID, o.ID)
		require.ErrorIs(t, err, ErrNotBuyer)

		_, err = f.svc.SubmitFunding(ctx, stranger.ID, o.ID)
		require.ErrorIs(t, err, ErrNotOrderParty)
	})

	t.Run("funding twice is rejected", func(t *testing.T) {
		f := newCoordFixture(t)

		o := f.fundOrder(t, ctx)
		_, err := f.svc.SubmitFunding(ctx, f.buyer.ID, o.ID)
		require.ErrorIs(t, err, ErrInvalidOrderState)
	})

	t.Run("node failure leaves the order untouched", func(t *testing.T) {
		f := newCoordFixture(t)
		f.chain.SubmitErr = errors.New("node down")

		o, err := f.svc.CreateOrder(ctx, f.buyer.ID, testListingID)
		require.NoError(t, err)

		_, err = f.svc.SubmitFunding(ctx, f.buyer.ID, o.ID)
		require.ErrorIs(t, err, ErrChainSubmission)

		got, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusCreated, got.Status)
		require.Nil(t, got.FundingTxHash)
	})
}

func TestReleasePath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("confirm delivery then release", func(t *testing.T) {
		f := newCoordFixture(t)
		o := f.fundedOrder(t, ctx)

		o, err := f.svc.ConfirmDelivery(ctx, f.buyer.ID, o.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusDeliveryConfirmed, o.Status)

		o, err = f.svc.SubmitRelease(ctx, f.buyer.ID, o.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusReleaseSubmitted, o.Status)
		require.NotNil(t, o.ReleaseTxHash)
	})

	t.Run("one-call confirm and release", func(t *testing.T) {
		f := newCoordFixture(t)
		o := f.fundedOrder(t, ctx)

		o, err := f.svc.ConfirmDeliveryAndRelease(ctx, f.buyer.ID, o.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusReleaseSubmitted, o.Status)
	})

	t.Run("release requires confirmed delivery", func(t *testing.T) {
		f := newCoordFixture(t)
		o := f.fundedOrder(t, ctx)

		_, err := f.svc.SubmitRelease(ctx, f.buyer.ID, o.ID)
		require.ErrorIs(t, err, ErrInvalidOrderState)
	})

	t.Run("seller cannot confirm delivery", func(t *testing.T) {
		f := newCoordFixture(t)
		o := f.fundedOrder(t, ctx)

		_, err := f.svc.ConfirmDelivery(ctx, f.seller.ID, o.ID)
		require.ErrorIs(t, err, ErrNotBuyer)
	})
}

func TestSubmitRefund(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("admin refund keeps the status until the chain confirms", func(t *testing.T) {
		f := newCoordFixture(t)
		o := f.fundedOrder(t, ctx)

		got, err := f.svc.SubmitRefund(ctx, domain.RoleAdmin, o.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusFunded, got.Status)

		txs, err := f.svc.TxHistory(ctx, f.admin.ID, domain.RoleAdmin, o.ID)
		require.NoError(t, err)
		require.Equal(t, domain.TxKindRefund, txs[len(txs)-1].Kind)
	})

	t.Run("only admins may refund", func(t *testing.T) {
		f := newCoordFixture(t)
		o := f.fundedOrder(t, ctx)

		_, err := f.svc.SubmitRefund(ctx, domain.RoleBuyer, o.ID)
		require.ErrorIs(t, err, ErrNotAdmin)
	})

	t.Run("refund needs escrowed funds", func(t *testing.T) {
		f := newCoordFixture(t)
		o, err := f.svc.CreateOrder(ctx, f.buyer.ID, testListingID)
		require.NoError(t, err)

		_, err = f.svc.SubmitRefund(ctx, domain.RoleAdmin, o.ID)
		require.ErrorIs(t, err, ErrInvalidOrderState)
	})
}

func TestConcurrentConfirmDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newCoordFixture(t)
	o := f.fundedOrder(t, ctx)

	// Two callers load the order at the same version; only one write wins.
	first, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
	require.NoError(t, err)
	second, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.advance(ctx, first, (*domain.Order).ConfirmDelivery))
	err = f.svc.advance(ctx, second, (*domain.Order).ConfirmDelivery)
	require.ErrorIs(t, err, ErrConcurrentModification)

	got, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusDeliveryConfirmed, got.Status)
	require.Equal(t, o.Version+1, got.Version)
}

func TestReleaseHashRecordedWhenAdvanceLoses(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newCoordFixture(t)

	o := f.fundedOrder(t, ctx)
	_, err := f.svc.ConfirmDelivery(ctx, f.buyer.ID, o.ID)
	require.NoError(t, err)

	stale, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
	require.NoError(t, err)

	// A competing write bumps the version out from under the stale copy.
	fresh, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
	require.NoError(t, err)
	require.NoError(t, fresh.SubmitRelease("0xcompeting"))
	require.NoError(t, f.st.Orders().UpdateOrderVersioned(ctx, fresh))

	_, err = f.svc.submitRelease(ctx, stale)
	require.ErrorIs(t, err, ErrConcurrentModification)

	// The node accepted the stale caller's tx, so its hash is in the
	// history even though the status write lost.
	txs, err := f.svc.TxHistory(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
	require.NoError(t, err)
	releases := 0
	for _, tx := range txs {
		if tx.Kind == domain.TxKindRelease {
			releases++
		}
	}
	require.Equal(t, 1, releases)
}

func TestConfirmFundingIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newCoordFixture(t)

	o := f.fundOrder(t, ctx)

	require.NoError(t, f.svc.ConfirmFunding(ctx, o.ID))
	require.NoError(t, f.svc.ConfirmFunding(ctx, o.ID))

	got, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFunded, got.Status)
	require.Equal(t, int64(3), got.Version)
}
