package httpx

import "context"

type ctxKey string

const (
	CtxKeyUserID ctxKey = "user_id"
	CtxKeyRole   ctxKey = "role"
	CtxKeyWallet ctxKey = "wallet"
	CtxKeyClaims ctxKey = "claims" // full jwtx.Claims when a handler needs them
)

// UserIDFromCtx returns the authenticated caller's user id, or "".
func UserIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyUserID).(string); ok {
		return v
	}
	return ""
}

// RoleFromCtx returns the authenticated caller's role, or "".
func RoleFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyRole).(string); ok {
		return v
	}
	return ""
}

// WalletFromCtx returns the authenticated caller's wallet address, or "".
func WalletFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyWallet).(string); ok {
		return v
	}
	return ""
}
