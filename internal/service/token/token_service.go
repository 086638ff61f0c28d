// Package token issues, verifies and revokes the signed credentials of the
// API: short-lived access tokens, single-use refresh tokens and email
// confirmation tokens. Revocation state lives in an expiring key-value
// denylist, so every verification stays a constant number of lookups.
package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/valeri7122/GoIT-Team-3-WEB/internal/denylist"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/models"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/tokens"
)

var (
	ErrExpiredToken   = errors.New("token expired")
	ErrInvalidToken   = errors.New("invalid token")
	ErrWrongTokenType = errors.New("wrong token type")
	ErrRevoked        = errors.New("token revoked")
)

const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	DefaultEmailTTL   = 7 * 24 * time.Hour
)

type Pair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	AccessExp    time.Time `json:"-"`
	RefreshExp   time.Time `json:"-"`
}

type Service struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	EmailTTL   time.Duration
	Denylist   denylist.Store
}

func NewService(secret []byte, store denylist.Store) *Service {
	return &Service{
		Secret:     secret,
		AccessTTL:  DefaultAccessTTL,
		RefreshTTL: DefaultRefreshTTL,
		EmailTTL:   DefaultEmailTTL,
		Denylist:   store,
	}
}

// Issue mints a fresh access/refresh pair for the user.
func (s *Service) Issue(ctx context.Context, user *models.User) (*Pair, error) {
	return s.issueFor(user.ID, user.Role)
}

func (s *Service) issueFor(userID uint, role models.Role) (*Pair, error) {
	now := time.Now()

	access, accessExp, err := s.sign(tokens.Claims{
		Role:      role,
		TokenType: tokens.TypeAccess,
	}, tokens.SubjectFor(userID), now, s.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh, refreshExp, err := s.sign(tokens.Claims{
		Role:      role,
		TokenType: tokens.TypeRefresh,
	}, tokens.SubjectFor(userID), now, s.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

// IssueEmailToken mints the token embedded in a confirmation link.
func (s *Service) IssueEmailToken(userID uint, email string) (string, error) {
	raw, _, err := s.sign(tokens.Claims{
		Email:     email,
		TokenType: tokens.TypeEmail,
	}, tokens.SubjectFor(userID), time.Now(), s.EmailTTL)
	return raw, err
}

func (s *Service) sign(claims tokens.Claims, subject string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := t.SignedString(s.Secret)
	return raw, exp, err
}

// Verify checks signature, expiry, token type and revocation state.
func (s *Service) Verify(ctx context.Context, raw string, expected tokens.Type) (*tokens.Claims, error) {
	claims, err := tokens.ClaimsFromToken(raw, s.Secret)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims.TokenType != expected {
		return nil, ErrWrongTokenType
	}

	if claims.ID != "" {
		if _, found, err := s.Denylist.Get(ctx, denyKey(claims.Subject, claims.ID)); err != nil {
			return nil, fmt.Errorf("denylist lookup: %w", err)
		} else if found {
			return nil, ErrRevoked
		}
	}

	mark, found, err := s.Denylist.Get(ctx, revokeAllKey(claims.Subject))
	if err != nil {
		return nil, fmt.Errorf("denylist lookup: %w", err)
	}
	if found && claims.IssuedAt != nil {
		// Second granularity: tokens minted in the revocation second
		// stay valid.
		if cutoff, err := strconv.ParseInt(mark, 10, 64); err == nil && claims.IssuedAt.Unix() < cutoff {
			return nil, ErrRevoked
		}
	}

	return claims, nil
}

// Refresh rotates a refresh token: the presented token is revoked for the
// rest of its lifetime and a new pair is issued. The set-if-absent write
// makes concurrent rotation of the same token single-winner; the loser sees
// ErrRevoked, and retrying an already-revoked token is a no-op.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (*Pair, error) {
	claims, err := s.Verify(ctx, rawRefresh, tokens.TypeRefresh)
	if err != nil {
		return nil, err
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		ttl = time.Minute
	}
	ok, err := s.Denylist.SetNX(ctx, denyKey(claims.Subject, claims.ID), "revoked", ttl)
	if err != nil {
		return nil, fmt.Errorf("denylist write: %w", err)
	}
	if !ok {
		return nil, ErrRevoked
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrInvalidToken
	}

	return s.issueFor(userID, claims.Role)
}

// RevokeAll invalidates every token minted for the user before now. The
// marker outlives the longest-lived outstanding token and then expires.
func (s *Service) RevokeAll(ctx context.Context, userID uint) error {
	mark := strconv.FormatInt(time.Now().Unix(), 10)
	if err := s.Denylist.Set(ctx, revokeAllKey(tokens.SubjectFor(userID)), mark, s.RefreshTTL); err != nil {
		return fmt.Errorf("denylist write: %w", err)
	}
	return nil
}

func denyKey(subject, jti string) string {
	return "deny:" + subject + ":" + jti
}

func revokeAllKey(subject string) string {
	return "revoke_all:" + subject
}
