package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultAccessExpiry = 8 * time.Hour

// Token validation failures.
var (
	ErrTokenExpired = errors.New("Token has expired")
	ErrTokenInvalid = errors.New("Invalid token")
)

// JWTManager signs and validates access tokens.
type JWTManager struct {
	signingKey   []byte
	accessExpiry time.Duration
	issuer       string
}

// NewJWTManager creates a JWT manager with an HS256 signing key. A zero
// accessExpiry selects the default.
func NewJWTManager(signingKey string, accessExpiry time.Duration) *JWTManager {
	if accessExpiry == 0 {
		accessExpiry = defaultAccessExpiry
	}
	return &JWTManager{
		signingKey:   []byte(signingKey),
		accessExpiry: accessExpiry,
		issuer:       "ragcore",
	}
}

// CustomClaims carries the user identity inside the token.
type CustomClaims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"user_id"`
}

// Identity is the authenticated caller attached to request contexts.
type Identity struct {
	UserID   int64
	Username string
}

// GenerateAccessToken issues a signed token for the user.
func (j *JWTManager) GenerateAccessToken(userID int64, username string) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.accessExpiry)),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		UserID: userID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(j.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken parses a token and returns the caller's identity.
func (j *JWTManager) ValidateAccessToken(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || claims.Issuer != j.issuer || claims.Subject == "" {
		return nil, ErrTokenInvalid
	}
	return &Identity{UserID: claims.UserID, Username: claims.Subject}, nil
}

// ExtractBearerToken extracts the token from an Authorization header.
func ExtractBearerToken(authHeader string) (string, error) {
	if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
		return "", ErrTokenInvalid
	}
	return authHeader[7:], nil
}
