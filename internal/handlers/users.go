package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/valeri7122/GoIT-Team-3-WEB/internal/cloudinary"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/email"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/hash"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/logging"
	authmw "github.com/valeri7122/GoIT-Team-3-WEB/internal/middleware/auth"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/models"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/mykafka"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/service/policy"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/service/token"
)

type UserHandler struct {
	DB       *gorm.DB
	Tokens   *token.Service
	Mail     email.Sender
	Uploader cloudinary.Uploader
	Producer *mykafka.Producer
	BaseURL  string
}

// policyError maps policy denials onto status codes. The deny message is
// the user-visible text.
func policyError(err error) *echo.HTTPError {
	var floorErr *policy.RoleFloorError
	switch {
	case errors.Is(err, policy.ErrSameRole):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &floorErr):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	default:
		return echo.NewHTTPError(http.StatusForbidden, policy.ErrAccessDenied.Error())
	}
}

func (h *UserHandler) publish(c echo.Context, event map[string]any) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "user_events", fmt.Sprint(event["userID"]), event); err != nil {
		logging.FromContext(c.Request().Context()).Error("kafka publish error", "error", err)
	}
}

func (h *UserHandler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, authmw.CurrentUser(c))
}

func (h *UserHandler) UpdateProfile(c echo.Context) error {
	ctx := c.Request().Context()
	user := authmw.CurrentUser(c)

	var req struct {
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	if req.Username != "" && req.Username != user.Username {
		var existing models.User
		err := h.DB.WithContext(ctx).Where("username = ?", req.Username).First(&existing).Error
		if err == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "That username is already taken. Please try another one.")
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
		}
		user.Username = req.Username
	}
	if req.FirstName != "" {
		user.FirstName = req.FirstName
	}
	if req.LastName != "" {
		user.LastName = req.LastName
	}

	if err := h.DB.WithContext(ctx).Save(user).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, user)
}

func (h *UserHandler) UpdateAvatar(c echo.Context) error {
	ctx := c.Request().Context()
	user := authmw.CurrentUser(c)

	data, err := readFormFile(c, "file")
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "Invalid image file")
	}

	res, err := h.Uploader.Upload(ctx, data, cloudinary.FolderAvatars)
	if err != nil || res == nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "Invalid image file")
	}

	user.Avatar = h.Uploader.FormatURL(res.PublicID, res.Version, cloudinary.TransformAvatar)
	if err := h.DB.WithContext(ctx).Save(user).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, user)
}

// UpdateEmail resets verification and revokes every outstanding token: the
// old address must not keep a working session alive.
func (h *UserHandler) UpdateEmail(c echo.Context) error {
	ctx := c.Request().Context()
	user := authmw.CurrentUser(c)

	var req struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&req); err != nil || req.Email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	if req.Email != user.Email {
		var existing models.User
		err := h.DB.WithContext(ctx).Where("email = ?", req.Email).First(&existing).Error
		if err == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "That email is already taken. Please try another one.")
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
		}
		user.Email = req.Email
		user.EmailVerified = false
	}

	if err := h.DB.WithContext(ctx).Save(user).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	if err := h.Tokens.RevokeAll(ctx, user.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	h.sendConfirmation(c, user)

	return c.JSON(http.StatusOK, user)
}

func (h *UserHandler) sendConfirmation(c echo.Context, user *models.User) {
	l := logging.FromContext(c.Request().Context()).With("handler", "user_confirmation_mail")
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

func (h *UserHandler) UpdatePassword(c echo.Context) error {
	ctx := c.Request().Context()
	user := authmw.CurrentUser(c)

	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := c.Bind(&req); err != nil || req.NewPassword == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	if !hash.CheckPassword(user.PasswordHash, req.OldPassword) {
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid old password")
	}

	pwHash, err := hash.HashPassword(req.NewPassword)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	user.PasswordHash = pwHash

	if err := h.DB.WithContext(ctx).Save(user).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	if err := h.Tokens.RevokeAll(ctx, user.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, user)
}

func (h *UserHandler) ChangeRole(c echo.Context) error {
	ctx := c.Request().Context()
	actor := authmw.CurrentUser(c)

	var req struct {
		UserID uint        `json:"user_id"`
		Role   models.Role `json:"role"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if !req.Role.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid role")
	}

	var target models.User
	if err := h.DB.WithContext(ctx).First(&target, req.UserID).Error; err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "User not found")
	}

	if err := policy.AuthorizeRoleChange(actor, &target, req.Role); err != nil {
		return policyError(err)
	}

	target.Role = req.Role
	if err := h.DB.WithContext(ctx).Save(&target).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	h.publish(c, map[string]any{
		"type":   "user_role_changed",
		"userID": target.ID,
		"role":   target.Role,
		"by":     actor.ID,
	})

	return c.JSON(http.StatusOK, target)
}

func (h *UserHandler) Profile(c echo.Context) error {
	ctx := c.Request().Context()

	var user models.User
	if err := h.DB.WithContext(ctx).Where("username = ?", c.Param("username")).First(&user).Error; err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "User not found")
	}

	var imageCount int64
	if err := h.DB.WithContext(ctx).Model(&models.Image{}).Where("user_id = ?", user.ID).Count(&imageCount).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, echo.Map{
		"id":               user.ID,
		"username":         user.Username,
		"email":            user.Email,
		"first_name":       user.FirstName,
		"last_name":        user.LastName,
		"avatar":           user.Avatar,
		"role":             user.Role,
		"is_active":        user.IsActive,
		"number_of_images": imageCount,
		"created_at":       user.CreatedAt,
	})
}

// Ban deactivates an identity. Banning an already banned user is a no-op
// with the same observable state.
func (h *UserHandler) Ban(c echo.Context) error {
	return h.setActive(c, false)
}

func (h *UserHandler) Unban(c echo.Context) error {
	return h.setActive(c, true)
}

func (h *UserHandler) setActive(c echo.Context, active bool) error {
	ctx := c.Request().Context()
	actor := authmw.CurrentUser(c)

	id, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	var target models.User
	if err := h.DB.WithContext(ctx).First(&target, uint(id)).Error; err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "User not found")
	}

	if err := policy.AuthorizeBan(actor, &target); err != nil {
		return policyError(err)
	}

	target.IsActive = active
	if err := h.DB.WithContext(ctx).Save(&target).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	eventType := "user_banned"
	if active {
		eventType = "user_unbanned"
	} else {
		// A banned identity must not keep a valid session.
		if err := h.Tokens.RevokeAll(ctx, target.ID); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
		}
	}

	h.publish(c, map[string]any{
		"type":   eventType,
		"userID": target.ID,
		"by":     actor.ID,
	})

	return c.JSON(http.StatusOK, target)
}

func readFormFile(c echo.Context, field string) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
