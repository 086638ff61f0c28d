package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/valeri7122/GoIT-Team-3-WEB/internal/email"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/gravatar"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/hash"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/logging"
	authmw "github.com/valeri7122/GoIT-Team-3-WEB/internal/middleware/auth"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/models"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/mykafka"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/service/token"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/tokens"
)

type AuthHandler struct {
	DB       *gorm.DB
	Tokens   *token.Service
	Mail     email.Sender
	Producer *mykafka.Producer
	BaseURL  string
}

// credentialsError hides the concrete token failure from the client.
func credentialsError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, token.ErrExpiredToken),
		errors.Is(err, token.ErrInvalidToken),
		errors.Is(err, token.ErrWrongTokenType),
		errors.Is(err, token.ErrRevoked):
		return echo.NewHTTPError(http.StatusUnauthorized, "Could not validate credentials")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func (h *AuthHandler) publish(c echo.Context, event map[string]any) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "user_events", fmt.Sprint(event["userID"]), event); err != nil {
		logging.FromContext(c.Request().Context()).Error("kafka publish error", "error", err)
	}
}

func (h *AuthHandler) sendConfirmation(c echo.Context, user *models.User) {
	l := logging.FromContext(c.Request().Context()).With("handler", "auth_confirmation_mail")
	if h.Mail == nil {
		return
	}

	emailToken, err := h.Tokens.IssueEmailToken(user.ID, user.Email)
	if err != nil {
		l.Error("issue email token failed", "error", err)
		return
	}

	confirmURL := h.BaseURL + "/api/auth/confirmed_email/" + emailToken

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Mail.SendConfirmation(ctx, user.Email, user.Username, confirmURL); err != nil {
		l.Error("send confirmation failed", "email", user.Email, "error", err)
	}
}

func (h *AuthHandler) Signup(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_signup")

	var req struct {
		Email     string `json:"email"`
		Username  string `json:"username"`
		Password  string `json:"password"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Email == "" || req.Username == "" || req.Password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "email, username and password are required")
	}

	var existing models.User
	err := h.DB.WithContext(ctx).
		Where("email = ? OR username = ?", req.Email, req.Username).
		First(&existing).Error
	if err == nil {
		return echo.NewHTTPError(http.StatusConflict, "Account already exists")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	pwHash, err := hash.HashPassword(req.Password)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	user := models.User{
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: pwHash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Avatar:       gravatar.URL(req.Email),
		Role:         models.RoleUser,
		IsActive:     true,
	}
	if err := h.DB.WithContext(ctx).Create(&user).Error; err != nil {
		return echo.NewHTTPError(http.StatusConflict, "Account already exists")
	}

	h.sendConfirmation(c, &user)
	h.publish(c, map[string]any{
		"type":     "user_registered",
		"userID":   user.ID,
		"username": user.Username,
	})
	l.Info("user registered", "userID", user.ID)

	return c.JSON(http.StatusCreated, echo.Map{
		"user":   user,
		"detail": "User successfully created. Check your email for confirmation.",
	})
}

func (h *AuthHandler) ConfirmEmail(c echo.Context) error {
	ctx := c.Request().Context()

	claims, err := h.Tokens.Verify(ctx, c.Param("token"), tokens.TypeEmail)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Verification error")
	}

	var user models.User
	if err := h.DB.WithContext(ctx).Where("email = ?", claims.Email).First(&user).Error; err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Verification error")
	}

	if user.EmailVerified {
		return c.JSON(http.StatusOK, echo.Map{"message": "Your email is already confirmed"})
	}

	user.EmailVerified = true
	if err := h.DB.WithContext(ctx).Save(&user).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "Email confirmed"})
}

func (h *AuthHandler) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	var user models.User
	if err := h.DB.WithContext(ctx).Where("email = ?", req.Email).First(&user).Error; err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email")
	}

	if !user.EmailVerified {
		return echo.NewHTTPError(http.StatusUnauthorized, "Email not confirmed")
	}
	if !user.IsActive {
		return echo.NewHTTPError(http.StatusForbidden, "You are banned")
	}
	if !hash.CheckPassword(user.PasswordHash, req.Password) {
		l.Warn("login failed", "userID", user.ID)
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid password")
	}

	pair, err := h.Tokens.Issue(ctx, &user)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	h.publish(c, map[string]any{
		"type":     "user_logged_in",
		"userID":   user.ID,
		"username": user.Username,
	})

	return c.JSON(http.StatusOK, echo.Map{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    "bearer",
	})
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	ctx := c.Request().Context()

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	pair, err := h.Tokens.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return credentialsError(err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    "bearer",
	})
}

// Logout revokes every outstanding token of the identity.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	user := authmw.CurrentUser(c)

	if err := h.Tokens.RevokeAll(ctx, user.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	h.publish(c, map[string]any{
		"type":   "user_logged_out",
		"userID": user.ID,
	})

	return c.JSON(http.StatusOK, echo.Map{"message": "Successfully logged out"})
}
