package service

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hawkerhall/escrow/internal/escrow/domain"
	"github.com/hawkerhall/escrow/internal/escrow/store/drivers/sqlite"
	"github.com/hawkerhall/escrow/pkg/ethsig"
	"github.com/hawkerhall/escrow/pkg/idx"
	"github.com/hawkerhall/escrow/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const testIssuer = "test-escrow"

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newAuthService(t *testing.T, st *sqlite.Store) (*WalletAuthService, jwtx.Verifier) {
	t.Helper()

	signer, err := jwtx.NewEphemeralSignerEdDSA("test-key")
	require.NoError(t, err)

	keys := jwtx.NewKeySet()
	require.NoError(t, keys.AddSigner(signer))

	svc := NewWalletAuthService(st, signer, testLogger(), testIssuer, []string{testIssuer})
	return svc, jwtx.NewVerifierEdDSA(keys, testIssuer, []string{testIssuer})
}

// signPersonal signs message the way a wallet's personal_sign does.
func signPersonal(t *testing.T, keyHex, message string) string {
	t.Helper()

	key, err := crypto.HexToECDSA(keyHex)
	require.NoError(t, err)

	sig, err := crypto.Sign(ethsig.PersonalHash(message), key)
	require.NoError(t, err)
	return "0x" + hex.EncodeToString(sig)
}

func walletAddress(t *testing.T, keyHex string) string {
	t.Helper()

	key, err := crypto.HexToECDSA(keyHex)
	require.NoError(t, err)
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}

const (
	walletKeyA = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	walletKeyB = "8a1f9a8f95be41cd7ccb6168179afb4504aefe388d1e14474d32c45c72ce7b7a"
)

func TestWalletAuthFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("challenge and verify mints a session", func(t *testing.T) {
		st := newTestStore(t)
		svc, verifier := newAuthService(t, st)
		addr := walletAddress(t, walletKeyA)

		c, err := svc.IssueChallenge(ctx, addr)
		require.NoError(t, err)
		require.Equal(t, addr, c.Address)
		require.Contains(t, c.Message, addr)
		require.Contains(t, c.Message, c.Nonce)

		session, err := svc.Verify(ctx, addr, c.Message, signPersonal(t, walletKeyA, c.Message))
		require.NoError(t, err)
		require.NotEmpty(t, session.Token)
		require.Equal(t, domain.RoleBuyer, session.Role)
		require.Equal(t, addr, session.Wallet)

		claims, err := verifier.Verify(session.Token)
		require.NoError(t, err)
		require.Equal(t, session.UserID, claims.Subject)
		require.Equal(t, "buyer", claims.Role)
		require.Equal(t, addr, claims.Wallet)
	})

	t.Run("second login reuses the wallet's account", func(t *testing.T) {
		st := newTestStore(t)
		svc, _ := newAuthService(t, st)
		addr := walletAddress(t, walletKeyA)

		c1, err := svc.IssueChallenge(ctx, addr)
		require.NoError(t, err)
		first, err := svc.Verify(ctx, addr, c1.Message, signPersonal(t, walletKeyA, c1.Message))
		require.NoError(t, err)

		c2, err := svc.IssueChallenge(ctx, addr)
		require.NoError(t, err)
		second, err := svc.Verify(ctx, addr, c2.Message, signPersonal(t, walletKeyA, c2.Message))
		require.NoError(t, err)

		require.Equal(t, first.UserID, second.UserID)
	})

	t.Run("challenge is single use", func(t *testing.T) {
		st := newTestStore(t)
		svc, _ := newAuthService(t, st)
		addr := walletAddress(t, walletKeyA)

		c, err := svc.IssueChallenge(ctx, addr)
		require.NoError(t, err)
		sig := signPersonal(t, walletKeyA, c.Message)

		_, err = svc.Verify(ctx, addr, c.Message, sig)
		require.NoError(t, err)

		// A captured signature replays against a dead challenge.
		_, err = svc.Verify(ctx, addr, c.Message, sig)
		require.ErrorIs(t, err, ErrChallengeConsumed)
	})

	t.Run("signature from a different key is rejected", func(t *testing.T) {
		st := newTestStore(t)
		svc, _ := newAuthService(t, st)
		addr := walletAddress(t, walletKeyA)

		c, err := svc.IssueChallenge(ctx, addr)
		require.NoError(t, err)

		_, err = svc.Verify(ctx, addr, c.Message, signPersonal(t, walletKeyB, c.Message))
		require.ErrorIs(t, err, ErrSignatureMismatch)
	})

	t.Run("message without a challenge is rejected", func(t *testing.T) {
		st := newTestStore(t)
		svc, _ := newAuthService(t, st)
		addr := walletAddress(t, walletKeyA)

		msg := "a message nobody issued"
		_, err := svc.Verify(ctx, addr, msg, signPersonal(t, walletKeyA, msg))
		require.ErrorIs(t, err, ErrNoSuchChallenge)
	})

	t.Run("expired challenge is rejected", func(t *testing.T) {
		st := newTestStore(t)
		svc, _ := newAuthService(t, st)
		addr := walletAddress(t, walletKeyA)

		// Plant a challenge that expired a minute ago.
		issued := time.Now().UTC().Add(-10 * time.Minute)
		nonce := idx.New().String()
		msg := domain.ChallengeMessage(testIssuer, addr, nonce, issued)
		require.NoError(t, st.Challenges().CreateChallenge(ctx, domain.AuthChallenge{
			ID:        idx.New().String(),
			Nonce:     nonce,
			Address:   addr,
			Message:   msg,
			IssuedAt:  issued,
			ExpiresAt: issued.Add(domain.DefaultChallengeTTL),
		}))

		_, err := svc.Verify(ctx, addr, msg, signPersonal(t, walletKeyA, msg))
		require.ErrorIs(t, err, ErrChallengeExpired)
	})

	t.Run("deactivated account cannot log in", func(t *testing.T) {
		st := newTestStore(t)
		svc, _ := newAuthService(t, st)
		addr := walletAddress(t, walletKeyA)

		c, err := svc.IssueChallenge(ctx, addr)
		require.NoError(t, err)
		session, err := svc.Verify(ctx, addr, c.Message, signPersonal(t, walletKeyA, c.Message))
		require.NoError(t, err)

		require.NoError(t, st.Users().DeactivateUser(ctx, session.UserID, time.Now().UTC()))

		c2, err := svc.IssueChallenge(ctx, addr)
		require.NoError(t, err)
		_, err = svc.Verify(ctx, addr, c2.Message, signPersonal(t, walletKeyA, c2.Message))
		require.ErrorIs(t, err, ErrUserDeactivated)
	})

	t.Run("malformed address is rejected up front", func(t *testing.T) {
		st := newTestStore(t)
		svc, _ := newAuthService(t, st)

		_, err := svc.IssueChallenge(ctx, "not-an-address")
		require.ErrorIs(t, err, ErrBadWalletAddress)

		_, err = svc.Verify(ctx, "0x123", "msg", "0xsig")
		require.ErrorIs(t, err, ErrBadWalletAddress)
	})

	t.Run("address case does not matter", func(t *testing.T) {
		st := newTestStore(t)
		svc, _ := newAuthService(t, st)
		addr := walletAddress(t, walletKeyA)

		c, err := svc.IssueChallenge(ctx, addr)
		require.NoError(t, err)

		lower := strings.ToLower(addr)
		session, err := svc.Verify(ctx, lower, c.Message, signPersonal(t, walletKeyA, c.Message))
		require.NoError(t, err)
		require.Equal(t, addr, session.Wallet)
	})
}
