package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// TokenBytes is the entropy of an invitation token.
const TokenBytes = 32

var (
	ErrTokenGeneration = errors.New("token generation failed")
	ErrEmptyToken      = errors.New("token is empty")
)

// TokenIssuer mints opaque single-use secrets and derives the hash kept at rest.
type TokenIssuer interface {
	Generate() (token string, hash string, err error)
	Hash(token string) (string, error)
}

type blake2bIssuer struct {
	random io.Reader
}

// NewTokenIssuer returns an issuer reading entropy from crypto/rand.
func NewTokenIssuer() TokenIssuer {
	return &blake2bIssuer{random: rand.Reader}
}

func (b *blake2bIssuer) Generate() (string, string, error) {
	raw := make([]byte, TokenBytes)
	if _, err := io.ReadFull(b.random, raw); err != nil {
		return "", "", ErrTokenGeneration
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	hash, err := b.Hash(token)
	if err != nil {
		return "", "", err
	}
	return token, hash, nil
}

func (b *blake2bIssuer) Hash(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrEmptyToken
	}
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:]), nil
}
