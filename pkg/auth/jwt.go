package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingKey   = errors.New("jwt secret is empty")
)

// Claims are the identity claims issued by the authentication subsystem.
type Claims struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	PlatformAdmin bool   `json:"platform_admin"`
	jwt.RegisteredClaims
}

// Principal is the verified caller identity extracted from a token.
type Principal struct {
	UserID        uuid.UUID
	Email         string
	PlatformAdmin bool
}

type JWTService interface {
	GenerateAccessToken(p Principal) (string, error)
	ValidateToken(token string) (*Principal, error)
}

type Config struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

type jwtService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewJWTService(cfg Config) (JWTService, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingKey
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 15 * time.Minute
	}
	return &jwtService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TokenTTL,
		now:    time.Now,
	}, nil
}

// GenerateAccessToken signs an HS256 token for p. The service only verifies
// tokens in production; issuing exists for tooling and tests.
func (s *jwtService) GenerateAccessToken(p Principal) (string, error) {
	now := s.now()
	claims := Claims{
		UserID:        p.UserID.String(),
		Email:         p.Email,
		PlatformAdmin: p.PlatformAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   p.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *jwtService) ValidateToken(tokenString string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: bad user_id claim", ErrInvalidToken)
	}

	return &Principal{
		UserID:        userID,
		Email:         claims.Email,
		PlatformAdmin: claims.PlatformAdmin,
	}, nil
}
