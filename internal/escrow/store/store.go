package store

import (
	"context"
	"errors"
	"time"

	"github.com/hawkerhall/escrow/internal/escrow/domain"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrAlreadyExists   = errors.New("store: already exists")
	ErrVersionConflict = errors.New("store: version conflict")
)

// Store is the root data access interface. Concrete drivers (sqlite for now)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable.
type Store interface {
	Users() Users
	Challenges() Challenges
	Orders() Orders
	Checkpoints() Checkpoints

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error, the
	// transaction is rolled back; otherwise it is committed. This is the
	// recommended way to handle multi-step operations that must be atomic
	// (e.g., challenge consumption plus user creation).
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByWallet returns the user bound to the canonical wallet address.
	GetUserByWallet(ctx context.Context, address string) (domain.User, error)

	// CreateUser inserts a new user. Returns ErrAlreadyExists when the
	// wallet address is already bound (first claim wins).
	CreateUser(ctx context.Context, u domain.User) error

	// DeactivateUser marks the user inactive; users are never deleted.
	DeactivateUser(ctx context.Context, id string, at time.Time) error
}

type Challenges interface {
	// CreateChallenge inserts a fresh login challenge.
	CreateChallenge(ctx context.Context, c domain.AuthChallenge) error

	// GetChallengeByMessage returns the challenge matching the claimed
	// address and exact message text.
	GetChallengeByMessage(ctx context.Context, address, message string) (domain.AuthChallenge, error)

	// ConsumeChallenge atomically marks the challenge consumed. It only
	// succeeds when the challenge is still unconsumed and unexpired at
	// `now`; this compare-and-set is what makes verification single-use.
	// Returns ErrNotFound when the CAS matched no row.
	ConsumeChallenge(ctx context.Context, id string, now time.Time) error

	// DeleteExpiredChallenges sweeps challenges past their expiry and
	// returns the number of rows removed.
	DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error)
}

type Orders interface {
	// CreateOrder inserts a new order in CREATED.
	CreateOrder(ctx context.Context, o *domain.Order) error

	// GetOrder returns an order by id.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// GetOrderByChainKey returns the order whose derived chain order id
	// (decimal string) matches key. Used by the reconciler.
	GetOrderByChainKey(ctx context.Context, key string) (*domain.Order, error)

	// ListOrdersByUser returns orders where the user is buyer or seller,
	// newest first.
	ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Order, error)

	// ListOrdersInStatus returns orders currently in the given status.
	ListOrdersInStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]*domain.Order, error)

	// UpdateOrderVersioned writes the order's mutable fields back, guarded
	// by the version the order was read at. On success the stored version
	// is bumped and o.Version is updated to match. A concurrent writer
	// having advanced the row yields ErrVersionConflict and no write.
	UpdateOrderVersioned(ctx context.Context, o *domain.Order) error

	// AppendTx appends to the order's transaction history.
	AppendTx(ctx context.Context, tx domain.OrderTx) error

	// ListTxHistory returns the order's submitted transactions, oldest first.
	ListTxHistory(ctx context.Context, orderID string) ([]domain.OrderTx, error)
}

type Checkpoints interface {
	// GetCheckpoint returns the reconciler cursor. ErrNotFound before the
	// first save.
	GetCheckpoint(ctx context.Context) (domain.Checkpoint, error)

	// SaveCheckpoint upserts the reconciler cursor.
	SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error
}
