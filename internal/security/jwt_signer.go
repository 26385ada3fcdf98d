package security

// Dev helper: mints admin tokens for local testing of the control plane.

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tecnoico/internal/config"
)

type RS256Signer struct {
	Priv   *rsa.PrivateKey
	Iss    string
	Aud    string
	Leeway time.Duration
}

// Load a PEM-encoded RSA private key PKCS1 or PKCS8
func NewRS256Signer(cfg *config.JWTConfig) (*RS256Signer, error) {
	if cfg.PrivateKeyPath == "" {
		return nil, errors.New("private key path is empty")
	}

	b, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	priv, err := parseRSAPrivateKeyFromPem(b)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return &RS256Signer{
		Priv:   priv,
		Iss:    cfg.Issuer,
		Aud:    cfg.Audience,
		Leeway: cfg.Leeway,
	}, nil
}

// Mint creates a signed admin token. Required subject (sub) and ttl; wallet
// goes into the custom claim checked against the on-chain registry.
func (s *RS256Signer) Mint(sub, wallet string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Iss,
			Subject:   sub,
			Audience:  jwt.ClaimStrings{s.Aud},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		Wallet: wallet,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(s.Priv)
}

func parseRSAPrivateKeyFromPem(b []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS8: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("not an RSA private key")
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unknown private key type: %s", block.Type)
	}
}
