package handlers

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valeri7122/GoIT-Team-3-WEB/internal/hash"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/models"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/service/token"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/tokens"
)

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser("alice", models.RoleUser)

	c, rec := env.jsonContext(http.MethodGet, "/api/users/me", nil)
	actAs(c, user)
	require.NoError(t, env.users.Me(c))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "alice", body["username"])
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestUpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser("alice", models.RoleUser)
	env.createUser("bob", models.RoleUser)

	t.Run("username taken", func(t *testing.T) {
		c, _ := env.jsonContext(http.MethodPatch, "/api/users", map[string]string{
			"username": "bob",
		})
		actAs(c, user)
		he := httpError(t, env.users.UpdateProfile(c))
		assert.Equal(t, http.StatusBadRequest, he.Code)
		assert.Equal(t, "That username is already taken. Please try another one.", he.Message)
	})

	t.Run("success", func(t *testing.T) {
		c, rec := env.jsonContext(http.MethodPatch, "/api/users", map[string]string{
			"username":   "alice-renamed",
			"first_name": "Alice",
			"last_name":  "Smith",
		})
		actAs(c, user)
		require.NoError(t, env.users.UpdateProfile(c))
		require.Equal(t, http.StatusOK, rec.Code)

		var fresh models.User
		require.NoError(t, env.db.First(&fresh, user.ID).Error)
		assert.Equal(t, "alice-renamed", fresh.Username)
		assert.Equal(t, "Smith", fresh.LastName)
	})

	t.Run("omitted names stay put", func(t *testing.T) {
		c, rec := env.jsonContext(http.MethodPatch, "/api/users", map[string]string{
			"username": "alice-again",
		})
		actAs(c, user)
		require.NoError(t, env.users.UpdateProfile(c))
		require.Equal(t, http.StatusOK, rec.Code)

		var fresh models.User
		require.NoError(t, env.db.First(&fresh, user.ID).Error)
		assert.Equal(t, "alice-again", fresh.Username)
		assert.Equal(t, "Alice", fresh.FirstName)
		assert.Equal(t, "Smith", fresh.LastName)
	})
}

func TestUpdateAvatar(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser("alice", models.RoleUser)

	t.Run("success", func(t *testing.T) {
		c, rec := env.multipartContext(nil, nil, []byte("image-bytes"))
		actAs(c, user)
		require.NoError(t, env.users.UpdateAvatar(c))
		require.Equal(t, http.StatusOK, rec.Code)

		var fresh models.User
		require.NoError(t, env.db.First(&fresh, user.ID).Error)
		assert.Contains(t, fresh.Avatar, "c_fill,h_250,w_250")
	})

	t.Run("missing file", func(t *testing.T) {
		c, _ := env.multipartContext(map[string]string{"other": "field"}, nil, nil)
		actAs(c, user)
		he := httpError(t, env.users.UpdateAvatar(c))
		assert.Equal(t, http.StatusUnprocessableEntity, he.Code)
		assert.Equal(t, "Invalid image file", he.Message)
	})

	t.Run("provider rejects the file", func(t *testing.T) {
		env.uploader.fail = true
		defer func() { env.uploader.fail = false }()

		c, _ := env.multipartContext(nil, nil, []byte("image-bytes"))
		actAs(c, user)
		he := httpError(t, env.users.UpdateAvatar(c))
		assert.Equal(t, http.StatusUnprocessableEntity, he.Code)
	})
}

func TestUpdatePassword(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser("alice", models.RoleUser)

	t.Run("wrong old password", func(t *testing.T) {
		c, _ := env.jsonContext(http.MethodPatch, "/api/users/password", map[string]string{
			"old_password": "wrong",
			"new_password": "brand-new",
		})
		actAs(c, user)
		he := httpError(t, env.users.UpdatePassword(c))
		assert.Equal(t, http.StatusUnauthorized, he.Code)
		assert.Equal(t, "Invalid old password", he.Message)
	})

	t.Run("success revokes outstanding tokens", func(t *testing.T) {
		oldAccess := env.signBackdated(user, tokens.TypeAccess, 2*time.Minute)

		c, rec := env.jsonContext(http.MethodPatch, "/api/users/password", map[string]string{
			"old_password": testPassword,
			"new_password": "brand-new",
		})
		actAs(c, user)
		require.NoError(t, env.users.UpdatePassword(c))
		require.Equal(t, http.StatusOK, rec.Code)

		var fresh models.User
		require.NoError(t, env.db.First(&fresh, user.ID).Error)
		assert.True(t, hash.CheckPassword(fresh.PasswordHash, "brand-new"))

		_, err := env.tokens.Verify(context.Background(), oldAccess, tokens.TypeAccess)
		assert.ErrorIs(t, err, token.ErrRevoked)
	})
}

func TestUpdateEmail(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser("alice", models.RoleUser)
	env.createUser("bob", models.RoleUser)

	t.Run("email taken", func(t *testing.T) {
		c, _ := env.jsonContext(http.MethodPatch, "/api/users/email", map[string]string{
			"email": "bob@test.com",
		})
		actAs(c, user)
		he := httpError(t, env.users.UpdateEmail(c))
		assert.Equal(t, http.StatusBadRequest, he.Code)
		assert.Equal(t, "That email is already taken. Please try another one.", he.Message)
	})

	t.Run("success resets verification", func(t *testing.T) {
		c, rec := env.jsonContext(http.MethodPatch, "/api/users/email", map[string]string{
			"email": "alice-new@test.com",
		})
		actAs(c, user)
		require.NoError(t, env.users.UpdateEmail(c))
		require.Equal(t, http.StatusOK, rec.Code)

		var fresh models.User
		require.NoError(t, env.db.First(&fresh, user.ID).Error)
		assert.Equal(t, "alice-new@test.com", fresh.Email)
		assert.False(t, fresh.EmailVerified)
		assert.Contains(t, env.mail.sent, "alice-new@test.com")
	})
}

func TestChangeRole(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser("admin", models.RoleAdmin)
	moderator := env.createUser("mod", models.RoleModerator)
	user := env.createUser("alice", models.RoleUser)

	changeRole := func(actor *models.User, targetID uint, role string) (int, error) {
		c, rec := env.jsonContext(http.MethodPatch, "/api/users/change-role", map[string]any{
			"user_id": targetID,
			"role":    role,
		})
		actAs(c, actor)
		err := env.users.ChangeRole(c)
		return rec.Code, err
	}

	t.Run("invalid role", func(t *testing.T) {
		_, err := changeRole(admin, user.ID, "superuser")
		he := httpError(t, err)
		assert.Equal(t, http.StatusBadRequest, he.Code)
		assert.Equal(t, "Invalid role", he.Message)
	})

	t.Run("unknown target", func(t *testing.T) {
		_, err := changeRole(admin, 9999, "moderator")
		he := httpError(t, err)
		assert.Equal(t, http.StatusNotFound, he.Code)
		assert.Equal(t, "User not found", he.Message)
	})

	t.Run("moderator may not grant roles", func(t *testing.T) {
		_, err := changeRole(moderator, user.ID, "moderator")
		he := httpError(t, err)
		assert.Equal(t, http.StatusForbidden, he.Code)
		assert.Equal(t, `Access denied. Access open to "admin"`, he.Message)
	})

	t.Run("admin promotes user", func(t *testing.T) {
		code, err := changeRole(admin, user.ID, "moderator")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, code)

		var fresh models.User
		require.NoError(t, env.db.First(&fresh, user.ID).Error)
		assert.Equal(t, models.RoleModerator, fresh.Role)
	})

	t.Run("same role again", func(t *testing.T) {
		_, err := changeRole(admin, user.ID, "moderator")
		he := httpError(t, err)
		assert.Equal(t, http.StatusBadRequest, he.Code)
		assert.Equal(t, "This user already has this role installed", he.Message)
	})

	t.Run("nobody grants admin", func(t *testing.T) {
		_, err := changeRole(admin, user.ID, "admin")
		he := httpError(t, err)
		assert.Equal(t, http.StatusForbidden, he.Code)
	})
}

func TestProfile(t *testing.T) {
	env := newTestEnv(t)
	user := env.createUser("alice", models.RoleUser)
	env.createImage(user, "first")
	env.createImage(user, "second")

	t.Run("not found", func(t *testing.T) {
		c, _ := env.jsonContext(http.MethodGet, "/api/users/nobody", nil)
		c.SetParamNames("username")
		c.SetParamValues("nobody")
		he := httpError(t, env.users.Profile(c))
		assert.Equal(t, http.StatusNotFound, he.Code)
		assert.Equal(t, "User not found", he.Message)
	})

	t.Run("success", func(t *testing.T) {
		c, rec := env.jsonContext(http.MethodGet, "/api/users/alice", nil)
		c.SetParamNames("username")
		c.SetParamValues("alice")
		require.NoError(t, env.users.Profile(c))
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, "alice", body["username"])
		assert.EqualValues(t, 2, body["number_of_images"])
	})
}

func TestBanUnban(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser("admin", models.RoleAdmin)
	moderator := env.createUser("mod", models.RoleModerator)
	user := env.createUser("alice", models.RoleUser)

	setActive := func(actor *models.User, targetID uint, ban bool) (int, error) {
		c, rec := env.jsonContext(http.MethodPatch, "/api/users/ban", nil)
		actAs(c, actor)
		c.SetParamNames("user_id")
		c.SetParamValues(strconv.FormatUint(uint64(targetID), 10))
		if ban {
			return rec.Code, env.users.Ban(c)
		}
		return rec.Code, env.users.Unban(c)
	}

	isActive := func(id uint) bool {
		var fresh models.User
		require.NoError(t, env.db.First(&fresh, id).Error)
		return fresh.IsActive
	}

	t.Run("plain users may not ban", func(t *testing.T) {
		_, err := setActive(user, moderator.ID, true)
		he := httpError(t, err)
		assert.Equal(t, http.StatusForbidden, he.Code)
		assert.Equal(t, `Access denied. Access open to "moderator"`, he.Message)
	})

	t.Run("moderator may not ban a peer", func(t *testing.T) {
		peer := env.createUser("mod2", models.RoleModerator)
		_, err := setActive(moderator, peer.ID, true)
		he := httpError(t, err)
		assert.Equal(t, http.StatusForbidden, he.Code)
		assert.Equal(t, "Access denied", he.Message)
	})

	t.Run("unknown target", func(t *testing.T) {
		_, err := setActive(admin, 9999, true)
		he := httpError(t, err)
		assert.Equal(t, http.StatusNotFound, he.Code)
	})

	t.Run("ban revokes the target's session", func(t *testing.T) {
		oldAccess := env.signBackdated(user, tokens.TypeAccess, 2*time.Minute)

		code, err := setActive(moderator, user.ID, true)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, code)
		assert.False(t, isActive(user.ID))

		_, verr := env.tokens.Verify(context.Background(), oldAccess, tokens.TypeAccess)
		assert.ErrorIs(t, verr, token.ErrRevoked)
	})

	t.Run("ban is idempotent", func(t *testing.T) {
		code, err := setActive(admin, user.ID, true)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, code)
		assert.False(t, isActive(user.ID))
	})

	t.Run("unban restores access", func(t *testing.T) {
		code, err := setActive(admin, user.ID, false)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, code)
		assert.True(t, isActive(user.ID))

		// Unbanning an active user changes nothing.
		code, err = setActive(admin, user.ID, false)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, code)
		assert.True(t, isActive(user.ID))
	})
}
