package security

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/IreinStark/marketgo/internal/domain"
)

// TokenService wraps JWT creation and validation for identity tokens. The
// identity provider is external; the relay only needs to verify that a caller
// claiming to be user X holds a token minted for X.
type TokenService struct {
	secret    []byte
	expiresIn time.Duration
}

func NewTokenService(secret string, expiresIn time.Duration) *TokenService {
	return &TokenService{
		secret:    []byte(secret),
		expiresIn: expiresIn,
	}
}

// CreateForIdentity creates a JWT for the given identity using the default TTL.
func (t *TokenService) CreateForIdentity(id domain.Identity) (string, error) {
	return t.CreateWithTTL(id, t.expiresIn)
}

// CreateWithTTL creates a JWT for the given identity with an explicit TTL.
func (t *TokenService) CreateWithTTL(id domain.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  id.UserID,
		"name": id.DisplayName,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse validates a token and returns its claims.
func (t *TokenService) Parse(tokenStr string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrSignatureInvalid
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok {
		return claims, nil
	}
	return nil, jwt.ErrTokenMalformed
}

// ParseIdentity validates a token and extracts the identity it was minted for.
func (t *TokenService) ParseIdentity(tokenStr string) (domain.Identity, error) {
	claims, err := t.Parse(tokenStr)
	if err != nil {
		return domain.Identity{}, err
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return domain.Identity{}, jwt.ErrTokenMalformed
	}
	name, _ := claims["name"].(string)
	return domain.Identity{UserID: sub, DisplayName: name}, nil
}
