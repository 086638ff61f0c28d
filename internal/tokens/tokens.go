package tokens

import (
	"errors"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/valeri7122/GoIT-Team-3-WEB/internal/models"
)

// Type distinguishes what a token may be used for. The verifier rejects a
// token presented for any other type.
type Type string

const (
	TypeAccess  Type = "access"
	TypeRefresh Type = "refresh"
	TypeEmail   Type = "email"
)

type Claims struct {
	Role      models.Role `json:"role,omitempty"`
	Email     string      `json:"email,omitempty"`
	TokenType Type        `json:"typ"`
	jwt.RegisteredClaims
}

// UserID decodes the subject claim.
func (c *Claims) UserID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

func SubjectFor(userID uint) string {
	return strconv.FormatUint(uint64(userID), 10)
}

func ClaimsFromToken(tokenStr string, secret []byte) (*Claims, error) {
	var claims Claims
	tkn, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected sign method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !tkn.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return &claims, nil
}
