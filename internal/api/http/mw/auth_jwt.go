package mw

import (
	"context"
	"net/http"

	"tecnoico/internal/security"
)

// Keys for claims in ctx
type subjectCtxKey struct{}
type walletCtxKey struct{}

type JWTMiddleware struct {
	verifier *security.RS256Verifier
}

func NewJWTMiddleware(v *security.RS256Verifier) *JWTMiddleware {
	if v == nil {
		panic("JWT verifier cannot be nil")
	}
	return &JWTMiddleware{verifier: v}
}

func (m *JWTMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.verifier.VerifyBearer(r.Header.Get("Authorization"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), claims.Subject, claims.Wallet)))
	})
}

// ContextWithIdentity stores the verified token identity on the context.
func ContextWithIdentity(ctx context.Context, subject, wallet string) context.Context {
	ctx = context.WithValue(ctx, subjectCtxKey{}, subject)
	return context.WithValue(ctx, walletCtxKey{}, wallet)
}

// SubjectFromContext returns the authenticated token subject, empty when the
// request passed no (or an unverified) token.
func SubjectFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(subjectCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WalletFromContext returns the wallet claim of the authenticated admin.
func WalletFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(walletCtxKey{}).(string); ok {
		return s
	}
	return ""
}
