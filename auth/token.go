package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "chat-app"

type tokenClaims struct {
	Name  string `json:"name"`
	Admin bool   `json:"admin"`
	jwt.RegisteredClaims
}

// TokenProvider issues and verifies HS256 tokens carrying sub, name and admin claims.
type TokenProvider struct {
	secret []byte
	now    func() time.Time
}

func NewTokenProvider(secret string) (*TokenProvider, error) {
	if len(secret) < 16 {
		return nil, errors.New("token secret must have at least 16 characters")
	}
	return &TokenProvider{secret: []byte(secret), now: time.Now}, nil
}

// Issue returns a signed token for userId. A ttl of 0 issues a token without expiry.
func (p *TokenProvider) Issue(userId, name string, admin bool, ttl time.Duration) (string, error) {
	if userId == "" {
		return "", errors.New("user id is required")
	}
	now := p.now()
	claims := tokenClaims{
		Name:  name,
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   tokenIssuer,
			Subject:  userId,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

func (p *TokenProvider) Verify(ctx context.Context, creds Credentials) (*Identity, error) {
	if creds.Token == "" || creds.Provider != "" {
		return nil, ErrNotApplicable
	}
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(creds.Token, &claims, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return &Identity{UserId: claims.Subject, DisplayName: name, IsAdmin: claims.Admin}, nil
}
