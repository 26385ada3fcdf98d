package mw

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tecnoico/internal/security"
)

// generate test RSA keys
func generateTestKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PublicKey) {
	t.Helper()
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return privateKey, &privateKey.PublicKey
}

// create test JWT token with the wallet claim the admin endpoints rely on
func createTestToken(t *testing.T, privateKey *rsa.PrivateKey, sub, wallet, aud, iss string, expiry time.Duration) string {
	t.Helper()

	now := time.Now()
	claims := security.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Audience:  jwt.ClaimStrings{aud},
			Issuer:    iss,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Wallet: wallet,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tokenString, err := token.SignedString(privateKey)
	require.NoError(t, err)
	return tokenString
}

func TestNewJWTMiddleware(t *testing.T) {
	t.Run("panic_when_verifier_is_nil", func(t *testing.T) {
		assert.Panics(t, func() {
			NewJWTMiddleware(nil)
		})
	})

	t.Run("successful_creation", func(t *testing.T) {
		_, pubKey := generateTestKeys(t)
		verifier := &security.RS256Verifier{
			PubKey: pubKey,
			Aud:    "test-aud",
			Iss:    "test-iss",
		}

		middleware := NewJWTMiddleware(verifier)
		assert.NotNil(t, middleware)
		assert.Equal(t, verifier, middleware.verifier)
	})
}

func TestJWTMiddleware_Handler_Success(t *testing.T) {
	privKey, pubKey := generateTestKeys(t)

	verifier := &security.RS256Verifier{
		PubKey: pubKey,
		Aud:    "test-service",
		Iss:    "test-issuer",
		Leeway: 10 * time.Second,
	}

	middleware := NewJWTMiddleware(verifier)

	token := createTestToken(t, privKey, "user123", "0xabc", "test-service", "test-issuer", 1*time.Hour)

	nextHandlerCalled := false
	var capturedSubject, capturedWallet string

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextHandlerCalled = true
		capturedSubject = SubjectFromContext(r.Context())
		capturedWallet = WalletFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("success"))
	})

	handler := middleware.Handler(nextHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.True(t, nextHandlerCalled, "next handler should be called")
	assert.Equal(t, "user123", capturedSubject, "subject should be extracted to context")
	assert.Equal(t, "0xabc", capturedWallet, "wallet claim should be extracted to context")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", rec.Body.String())
}

func TestJWTMiddleware_Handler_MissingToken(t *testing.T) {
	_, pubKey := generateTestKeys(t)

	verifier := &security.RS256Verifier{
		PubKey: pubKey,
		Aud:    "test-service",
		Iss:    "test-issuer",
	}

	middleware := NewJWTMiddleware(verifier)

	nextHandlerCalled := false
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextHandlerCalled = true
	})

	handler := middleware.Handler(nextHandler)

	testCases := []struct {
		name       string
		authHeader string
	}{
		{
			name:       "no_authorization_header",
			authHeader: "",
		},
		{
			name:       "missing_bearer_prefix",
			authHeader: "sometoken",
		},
		{
			name:       "only_bearer_word",
			authHeader: "Bearer",
		},
		{
			name:       "bearer_with_empty_token",
			authHeader: "Bearer   ",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			nextHandlerCalled = false

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.False(t, nextHandlerCalled, "next handler should not be called")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestJWTMiddleware_Handler_InvalidToken(t *testing.T) {
	_, pubKey := generateTestKeys(t)

	verifier := &security.RS256Verifier{
		PubKey: pubKey,
		Aud:    "test-service",
		Iss:    "test-issuer",
	}

	middleware := NewJWTMiddleware(verifier)

	nextHandlerCalled := false
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextHandlerCalled = true
	})

	handler := middleware.Handler(nextHandler)

	testCases := []struct {
		name  string
		token string
	}{
		{
			name:  "malformed_token",
			token: "not.a.valid.jwt.token",
		},
		{
			name:  "random_string",
			token: "randomstringnottoken",
		},
		{
			name:  "base64_but_not_jwt",
			token: "dGVzdC10b2tlbg==",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			nextHandlerCalled = false

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set("Authorization", "Bearer "+tc.token)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.False(t, nextHandlerCalled, "next handler should not be called")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestJWTMiddleware_Handler_ExpiredToken(t *testing.T) {
	privKey, pubKey := generateTestKeys(t)

	verifier := &security.RS256Verifier{
		PubKey: pubKey,
		Aud:    "test-service",
		Iss:    "test-issuer",
		Leeway: 0,
	}

	middleware := NewJWTMiddleware(verifier)

	// create expired token
	token := createTestToken(t, privKey, "user123", "0xabc", "test-service", "test-issuer", -1*time.Hour)

	nextHandlerCalled := false
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextHandlerCalled = true
	})

	handler := middleware.Handler(nextHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.False(t, nextHandlerCalled, "next handler should not be called for expired token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTMiddleware_Handler_WrongAudience(t *testing.T) {
	privKey, pubKey := generateTestKeys(t)

	verifier := &security.RS256Verifier{
		PubKey: pubKey,
		Aud:    "expected-audience",
		Iss:    "test-issuer",
	}

	middleware := NewJWTMiddleware(verifier)

	// create token with not valid audience
	token := createTestToken(t, privKey, "user123", "0xabc", "wrong-audience", "test-issuer", 1*time.Hour)

	nextHandlerCalled := false
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextHandlerCalled = true
	})

	handler := middleware.Handler(nextHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.False(t, nextHandlerCalled, "next handler should not be called for wrong audience")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTMiddleware_Handler_WrongSignature(t *testing.T) {
	privKey1, _ := generateTestKeys(t)
	_, pubKey2 := generateTestKeys(t)

	verifier := &security.RS256Verifier{
		PubKey: pubKey2,
		Aud:    "test-service",
		Iss:    "test-issuer",
	}

	middleware := NewJWTMiddleware(verifier)

	token := createTestToken(t, privKey1, "user123", "0xabc", "test-service", "test-issuer", 1*time.Hour)

	nextHandlerCalled := false
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextHandlerCalled = true
	})

	handler := middleware.Handler(nextHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.False(t, nextHandlerCalled, "next handler should not be called for wrong signature")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSubjectFromContext(t *testing.T) {
	t.Run("subject_exists", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), subjectCtxKey{}, "test-subject")
		assert.Equal(t, "test-subject", SubjectFromContext(ctx))
	})

	t.Run("subject_not_exists", func(t *testing.T) {
		assert.Equal(t, "", SubjectFromContext(context.Background()))
	})

	t.Run("wrong_type_in_context", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), subjectCtxKey{}, 12345)
		assert.Equal(t, "", SubjectFromContext(ctx))
	})
}

func TestWalletFromContext(t *testing.T) {
	t.Run("wallet_exists", func(t *testing.T) {
		ctx := context.WithValue(context.Background(), walletCtxKey{}, "0xdeadbeef")
		assert.Equal(t, "0xdeadbeef", WalletFromContext(ctx))
	})

	t.Run("wallet_not_exists", func(t *testing.T) {
		assert.Equal(t, "", WalletFromContext(context.Background()))
	})
}
