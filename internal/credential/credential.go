// Package credential supplies the API tokens used to act on the remote data
// collection service on behalf of a user.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"

	"github.com/simatei/kpi/internal/docstore"
	"github.com/simatei/kpi/internal/models"
)

const (
	cachePrefix = "kpi:token:"
	cacheTTL    = time.Hour
)

// Store resolves a user's token from the cache, then the document store,
// and mints and persists one when the user has none.
type Store struct {
	cache  Cache
	docs   docstore.Store
	secret []byte
	scheme string
	logger *log.Logger
}

func NewStore(cache Cache, docs docstore.Store, secret, scheme string, logger *log.Logger) *Store {
	if scheme == "" {
		scheme = "Token"
	}
	return &Store{cache: cache, docs: docs, secret: []byte(secret), scheme: scheme, logger: logger}
}

// Claims are carried by minted tokens.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Header returns the Authorization header value for who, or "" for
// anonymous callers.
func (s *Store) Header(ctx context.Context, who models.Identity) (string, error) {
	if who.IsAnonymous() {
		return "", nil
	}
	token, err := s.Token(ctx, who.Username)
	if err != nil {
		return "", err
	}
	return s.scheme + " " + token, nil
}

// Token returns username's token.
func (s *Store) Token(ctx context.Context, username string) (string, error) {
	key := cachePrefix + username
	if tok, ok, err := s.cache.Get(ctx, key); err != nil {
		s.logger.Warn("token cache read failed", "user", username, "err", err)
	} else if ok {
		return tok, nil
	}

	tok, err := s.stored(ctx, username)
	if err != nil {
		return "", err
	}
	if tok == "" {
		if tok, err = s.mint(username); err != nil {
			return "", err
		}
		doc := map[string]any{"username": username, "key": tok, "createdAt": time.Now().UTC().Format(time.RFC3339)}
		if err := s.docs.Upsert(ctx, docstore.Tokens, map[string]any{"username": username}, doc); err != nil {
			return "", fmt.Errorf("persist token: %w", err)
		}
		s.logger.Info("minted api token", "user", username)
	}

	if err := s.cache.Set(ctx, key, tok, cacheTTL); err != nil {
		s.logger.Warn("token cache write failed", "user", username, "err", err)
	}
	return tok, nil
}

func (s *Store) stored(ctx context.Context, username string) (string, error) {
	doc, err := s.docs.FindOne(ctx, docstore.Tokens, map[string]any{"username": username}, nil)
	if errors.Is(err, docstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load token: %w", err)
	}
	tok, _ := doc["key"].(string)
	return tok, nil
}

func (s *Store) mint(username string) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("no token secret configured")
	}
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  username,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}
