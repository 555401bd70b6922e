package service

import (
	"context"
	"math/big"
	"testing"

	"github.com/hawkerhall/escrow/internal/escrow/domain"
	"github.com/stretchr/testify/require"
)

func newReconciler(f *coordFixture) *ReconcilerService {
	return NewReconcilerService(f.st, f.chain, f.svc, testLogger(), DefaultReconcileInterval)
}

func chainIDOf(t *testing.T, o *domain.Order) *big.Int {
	t.Helper()

	id, err := domain.ChainOrderID(o.ID)
	require.NoError(t, err)
	return id
}

func TestReconcilerDrivesOrderToCompletion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newCoordFixture(t)
	rec := newReconciler(f)

	o := f.fundOrder(t, ctx)
	f.chain.ConfirmFunded(chainIDOf(t, o), o.ChainAmount())
	rec.Tick(ctx)

	got, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFunded, got.Status)
	require.Nil(t, got.ReviewReason)

	got, err = f.svc.ConfirmDeliveryAndRelease(ctx, f.buyer.ID, o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusReleaseSubmitted, got.Status)

	f.chain.ConfirmReleased(chainIDOf(t, o), o.ChainAmount())
	rec.Tick(ctx)

	got, err = f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusReleased, got.Status)

	// Housekeeping closes the order out; no chain involvement left.
	hk := NewHousekeepingService(f.st, testLogger(), DefaultHousekeepingInterval)
	hk.Tick(ctx)

	got, err = f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, got.Status)
	require.True(t, got.Status.Terminal())
}

func TestReconcilerRefund(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newCoordFixture(t)
	rec := newReconciler(f)

	o := f.fundedOrder(t, ctx)
	_, err := f.svc.SubmitRefund(ctx, domain.RoleAdmin, o.ID)
	require.NoError(t, err)

	f.chain.ConfirmRefunded(chainIDOf(t, o), o.ChainAmount())
	rec.Tick(ctx)

	got, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusRefunded, got.Status)
	require.True(t, got.Status.Terminal())
}

func TestReconcilerCheckpoint(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newCoordFixture(t)

	o := f.fundOrder(t, ctx)
	f.chain.ConfirmFunded(chainIDOf(t, o), o.ChainAmount())
	newReconciler(f).Tick(ctx)

	cp, err := f.st.Checkpoints().GetCheckpoint(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cp.LastProcessedBlock)

	// A restarted reconciler resumes past the checkpoint and replays nothing.
	newReconciler(f).Tick(ctx)

	got, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFunded, got.Status)
	require.Nil(t, got.ReviewReason)

	cp, err = f.st.Checkpoints().GetCheckpoint(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), cp.LastProcessedBlock)
}

func TestReconcilerFlagsAnomalies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("funded on chain without a submission", func(t *testing.T) {
		f := newCoordFixture(t)
		rec := newReconciler(f)

		o, err := f.svc.CreateOrder(ctx, f.buyer.ID, testListingID)
		require.NoError(t, err)

		f.chain.ConfirmFunded(chainIDOf(t, o), o.ChainAmount())
		rec.Tick(ctx)

		got, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusCreated, got.Status)
		require.NotNil(t, got.ReviewReason)
	})

	t.Run("under-funded amount is flagged", func(t *testing.T) {
		f := newCoordFixture(t)
		rec := newReconciler(f)

		o := f.fundOrder(t, ctx)
		f.chain.ConfirmFunded(chainIDOf(t, o), big.NewInt(1))
		rec.Tick(ctx)

		got, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusFundingSubmitted, got.Status)
		require.NotNil(t, got.ReviewReason)
	})

	t.Run("over-funded amount still confirms", func(t *testing.T) {
		f := newCoordFixture(t)
		rec := newReconciler(f)

		o := f.fundOrder(t, ctx)
		over := new(big.Int).Add(o.ChainAmount(), big.NewInt(1))
		f.chain.ConfirmFunded(chainIDOf(t, o), over)
		rec.Tick(ctx)

		got, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusFunded, got.Status)
		require.Nil(t, got.ReviewReason)
	})

	t.Run("event for an order this service never created", func(t *testing.T) {
		f := newCoordFixture(t)
		rec := newReconciler(f)

		f.chain.ConfirmFunded(big.NewInt(424242), big.NewInt(100))
		rec.Tick(ctx)

		// Tolerated: logged, and the checkpoint still moves forward.
		cp, err := f.st.Checkpoints().GetCheckpoint(ctx)
		require.NoError(t, err)
		require.Equal(t, uint64(1), cp.LastProcessedBlock)
	})
}

func TestReconcilerSweepsStuckFunding(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("reverted funding tx is marked failed", func(t *testing.T) {
		f := newCoordFixture(t)
		rec := newReconciler(f)
		rec.stuckWindow = 0

		o := f.fundOrder(t, ctx)
		f.chain.FailTx(*o.FundingTxHash)
		rec.Tick(ctx)

		got, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusFundingFailed, got.Status)
		require.True(t, got.Status.Terminal())
	})

	t.Run("dropped funding tx is marked failed", func(t *testing.T) {
		f := newCoordFixture(t)
		rec := newReconciler(f)
		rec.stuckWindow = 0

		o := f.fundOrder(t, ctx)
		f.chain.DropTx(*o.FundingTxHash)
		rec.Tick(ctx)

		got, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusFundingFailed, got.Status)
	})

	t.Run("pending tx past the window stays and may confirm late", func(t *testing.T) {
		f := newCoordFixture(t)
		rec := newReconciler(f)
		rec.stuckWindow = 0

		o := f.fundOrder(t, ctx)
		rec.Tick(ctx)

		// Still in the mempool: the sweep must not fail it however old.
		got, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusFundingSubmitted, got.Status)

		// The confirmation can land arbitrarily late and still count.
		f.chain.ConfirmFunded(chainIDOf(t, o), o.ChainAmount())
		rec.Tick(ctx)

		got, err = f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusFunded, got.Status)
		require.Nil(t, got.ReviewReason)
	})

	t.Run("recent submissions are left alone", func(t *testing.T) {
		f := newCoordFixture(t)
		rec := newReconciler(f)

		o := f.fundOrder(t, ctx)
		f.chain.FailTx(*o.FundingTxHash)
		rec.Tick(ctx)

		got, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusFundingSubmitted, got.Status)
	})

	t.Run("confirmation racing the sweep wins", func(t *testing.T) {
		f := newCoordFixture(t)
		rec := newReconciler(f)
		rec.stuckWindow = 0

		o := f.fundOrder(t, ctx)
		f.chain.ConfirmFunded(chainIDOf(t, o), o.ChainAmount())
		rec.Tick(ctx)

		got, err := f.svc.GetOrder(ctx, f.buyer.ID, domain.RoleBuyer, o.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusFunded, got.Status)
	})
}

func TestHousekeepingSweepsChallenges(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newCoordFixture(t)

	svc, _ := newAuthService(t, f.st)
	addr := walletAddress(t, walletKeyA)
	c, err := svc.IssueChallenge(ctx, addr)
	require.NoError(t, err)

	// A live challenge survives the sweep.
	hk := NewHousekeepingService(f.st, testLogger(), DefaultHousekeepingInterval)
	hk.Tick(ctx)

	session, err := svc.Verify(ctx, addr, c.Message, signPersonal(t, walletKeyA, c.Message))
	require.NoError(t, err)
	require.NotEmpty(t, session.Token)
}
