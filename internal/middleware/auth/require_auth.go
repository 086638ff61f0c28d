package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/valeri7122/GoIT-Team-3-WEB/internal/models"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/service/token"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/tokens"
)

const userContextKey = "user"

type Middleware struct {
	DB     *gorm.DB
	Tokens *token.Service
}

func New(db *gorm.DB, tokenService *token.Service) *Middleware {
	return &Middleware{DB: db, Tokens: tokenService}
}

// RequireAuth resolves the bearer access token to an identity. A banned
// identity fails exactly like a revoked token, even when the token itself
// still verifies.
func (m *Middleware) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
		}

		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
		}

		ctx := c.Request().Context()
		claims, err := m.Tokens.Verify(ctx, raw, tokens.TypeAccess)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Could not validate credentials")
		}

		userID, err := claims.UserID()
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Could not validate credentials")
		}

		var user models.User
		if err := m.DB.WithContext(ctx).First(&user, userID).Error; err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "Could not validate credentials")
		}

		if !user.IsActive {
			return echo.NewHTTPError(http.StatusUnauthorized, "Could not validate credentials")
		}

		c.Set(userContextKey, &user)
		return next(c)
	}
}

// CurrentUser returns the identity RequireAuth stored on the context.
func CurrentUser(c echo.Context) *models.User {
	if u, ok := c.Get(userContextKey).(*models.User); ok {
		return u
	}
	return nil
}
