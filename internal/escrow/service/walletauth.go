package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hawkerhall/escrow/internal/escrow/domain"
	"github.com/hawkerhall/escrow/internal/escrow/store"
	"github.com/hawkerhall/escrow/pkg/cryptox"
	"github.com/hawkerhall/escrow/pkg/ethsig"
	"github.com/hawkerhall/escrow/pkg/idx"
	"github.com/hawkerhall/escrow/pkg/jwtx"
)

var (
	ErrBadWalletAddress  = errors.New("service: malformed wallet address")
	ErrNoSuchChallenge   = errors.New("service: no challenge matches the signed message")
	ErrChallengeExpired  = errors.New("service: challenge expired")
	ErrChallengeConsumed = errors.New("service: challenge already used")
	ErrSignatureMismatch = errors.New("service: signature does not match the claimed wallet")
	ErrUserDeactivated   = errors.New("service: user is deactivated")
)

// WalletAuthService implements challenge/response wallet login. A client asks
// for a challenge, signs its message with the wallet's key, and trades the
// signature for a session JWT. Challenges are single-use and short-lived;
// consumption is a database CAS, so a captured signature can never be
// replayed.
type WalletAuthService struct {
	store  store.Store
	signer jwtx.Signer
	logger *slog.Logger

	issuer       string
	audience     []string
	challengeTTL time.Duration
	sessionTTL   time.Duration
}

func NewWalletAuthService(
	st store.Store,
	signer jwtx.Signer,
	logger *slog.Logger,
	issuer string,
	audience []string,
) *WalletAuthService {
	return &WalletAuthService{
		store:        st,
		signer:       signer,
		logger:       logger,
		issuer:       issuer,
		audience:     audience,
		challengeTTL: domain.DefaultChallengeTTL,
		sessionTTL:   jwtx.DefaultSessionTTL,
	}
}

// IssueChallenge creates a fresh login challenge for the claimed address.
// The claim is not verified here; ownership is only proven by the signature
// in Verify.
func (s *WalletAuthService) IssueChallenge(ctx context.Context, address string) (domain.AuthChallenge, error) {
	addr, err := ethsig.ParseAddress(address)
	if err != nil {
		return domain.AuthChallenge{}, ErrBadWalletAddress
	}

	nonce, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.AuthChallenge{}, fmt.Errorf("generate nonce: %w", err)
	}

	now := time.Now().UTC()
	c := domain.AuthChallenge{
		ID:        idx.New().String(),
		Nonce:     nonce,
		Address:   addr.Hex(),
		Message:   domain.ChallengeMessage(s.issuer, addr.Hex(), nonce, now),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.challengeTTL),
	}

	if err := s.store.Challenges().CreateChallenge(ctx, c); err != nil {
		return domain.AuthChallenge{}, fmt.Errorf("persist challenge: %w", err)
	}

	s.logger.DebugContext(ctx, "issued login challenge",
		"challenge_id", c.ID,
		"address", c.Address,
	)
	return c, nil
}

// Session is the outcome of a successful verification.
type Session struct {
	Token     string
	ExpiresAt time.Time
	UserID    string
	Role      domain.Role
	Wallet    string
}

// Verify checks the wallet signature against a live challenge and, exactly
// once per challenge, mints a session. First-time wallets get a buyer account
// created on the spot.
func (s *WalletAuthService) Verify(ctx context.Context, address, message, signature string) (Session, error) {
	addr, err := ethsig.ParseAddress(address)
	if err != nil {
		return Session{}, ErrBadWalletAddress
	}

	recovered, err := ethsig.RecoverAddress(message, signature)
	if err != nil {
		return Session{}, ErrSignatureMismatch
	}
	if recovered != addr {
		return Session{}, ErrSignatureMismatch
	}

	now := time.Now().UTC()
	var user domain.User

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		c, err := tx.Challenges().GetChallengeByMessage(ctx, addr.Hex(), message)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNoSuchChallenge
			}
			return err
		}

		// The CAS below is the single authority on "still usable"; these
		// checks only pick the precise error for the client.
		if c.Consumed() {
			return ErrChallengeConsumed
		}
		if c.Expired(now) {
			return ErrChallengeExpired
		}

		if err := tx.Challenges().ConsumeChallenge(ctx, c.ID, now); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrChallengeConsumed
			}
			return err
		}

		user, err = tx.Users().GetUserByWallet(ctx, addr.Hex())
		if errors.Is(err, store.ErrNotFound) {
			wallet := addr.Hex()
			user = domain.User{
				ID:            idx.New().String(),
				WalletAddress: &wallet,
				Role:          domain.RoleBuyer,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			return tx.Users().CreateUser(ctx, user)
		}
		if err != nil {
			return err
		}
		if !user.Active() {
			return ErrUserDeactivated
		}
		return nil
	})
	if err != nil {
		return Session{}, err
	}

	claims := jwtx.NewSessionClaims(
		user.ID, string(user.Role), addr.Hex(),
		s.sessionTTL, s.issuer, s.audience, now,
	)
	token, err := s.signer.Sign(claims)
	if err != nil {
		return Session{}, fmt.Errorf("sign session: %w", err)
	}

	s.logger.InfoContext(ctx, "wallet session issued",
		"user_id", user.ID,
		"address", addr.Hex(),
		"role", user.Role,
	)

	return Session{
		Token:     token,
		ExpiresAt: claims.ExpiresAt.Time,
		UserID:    user.ID,
		Role:      user.Role,
		Wallet:    addr.Hex(),
	}, nil
}
