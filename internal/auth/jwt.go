// Package auth validates access tokens issued by an external
// authentication provider. The Gateway is a passthrough consumer of
// these tokens, not an issuer, so only validation lives here.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidTokenType = errors.New("invalid token type")
)

const TokenTypeAccess = "access"

// AccessTokenExpiry documents the provider's expected lifetime; it is
// not enforced here, the provider's own exp claim is.
const AccessTokenExpiry = 15 * time.Minute

// Claims represents the JWT claims issued by the authentication
// provider.
type Claims struct {
	UserID    string `json:"uid"`
	Email     string `json:"email"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

var (
	jwtSecret     []byte
	jwtSecretOnce sync.Once
)

// getJWTSecret returns the shared signing secret. In production
// JWT_SECRET must be set - the application will panic if not. In
// development a random secret is generated.
func getJWTSecret() []byte {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv("JWT_SECRET")
		env := os.Getenv("ENVIRONMENT")
		isProduction := env == "production"

		if secret == "" {
			if isProduction {
				panic("CRITICAL: JWT_SECRET environment variable is required in production. " +
					"Generate a secure secret with: openssl rand -base64 32")
			}
			randomBytes := make([]byte, 32)
			if _, err := rand.Read(randomBytes); err != nil {
				panic("failed to generate JWT secret: " + err.Error())
			}
			secret = base64.StdEncoding.EncodeToString(randomBytes)
		}

		if len(secret) < 32 && isProduction {
			panic("CRITICAL: JWT_SECRET must be at least 32 characters for security. " +
				"Generate a secure secret with: openssl rand -base64 32")
		}

		jwtSecret = []byte(secret)
	})
	return jwtSecret
}

// ValidateToken validates a JWT token and returns its claims.
func ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return getJWTSecret(), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// ValidateAccessToken validates an access token specifically, the only
// token type the Gateway ever accepts.
func ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, ErrInvalidTokenType
	}
	return claims, nil
}
