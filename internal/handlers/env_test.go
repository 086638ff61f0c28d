package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/valeri7122/GoIT-Team-3-WEB/internal/cloudinary"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/denylist"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/hash"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/models"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/mykafka"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/service/search"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/service/token"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/tokens"
)

const testPassword = "password123"

type fakeUploader struct {
	fail    bool
	deleted []string
}

func (f *fakeUploader) Upload(_ context.Context, data []byte, folder string) (*cloudinary.UploadResult, error) {
	if f.fail || len(data) == 0 {
		return nil, errors.New("upload rejected")
	}
	return &cloudinary.UploadResult{
		URL:      "https://res.cloudinary.com/test/image/upload/v1/" + folder + "/pic",
		PublicID: folder + "/pic",
		Version:  "1",
	}, nil
}

func (f *fakeUploader) FormatURL(publicID, version, transform string) string {
	return "https://res.cloudinary.com/test/image/upload/" + transform + "/v" + version + "/" + publicID
}

func (f *fakeUploader) Delete(_ context.Context, publicID string) error {
	f.deleted = append(f.deleted, publicID)
	return nil
}

type fakeSearcher struct {
	docs    []search.ImageDoc
	indexed []uint
	removed []uint
}

func (f *fakeSearcher) IndexImage(_ context.Context, img *models.Image) error {
	f.indexed = append(f.indexed, img.ID)
	return nil
}

func (f *fakeSearcher) DeleteImage(_ context.Context, imageID uint) error {
	f.removed = append(f.removed, imageID)
	return nil
}

func (f *fakeSearcher) Search(_ context.Context, _ string, _, _ int) (int64, []search.ImageDoc, error) {
	return int64(len(f.docs)), f.docs, nil
}

type fakeMailer struct {
	sent []string
}

func (f *fakeMailer) SendConfirmation(_ context.Context, toEmail, _, _ string) error {
	f.sent = append(f.sent, toEmail)
	return nil
}

type testEnv struct {
	t        *testing.T
	e        *echo.Echo
	db       *gorm.DB
	tokens   *token.Service
	auth     *AuthHandler
	users    *UserHandler
	images   *ImageHandler
	uploader *fakeUploader
	searcher *fakeSearcher
	mail     *fakeMailer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Image{}, &models.Tag{}))

	tokenService := token.NewService([]byte("test-secret"), denylist.NewMemory())
	producer := &mykafka.Producer{}

	env := &testEnv{
		t:        t,
		e:        echo.New(),
		db:       db,
		tokens:   tokenService,
		uploader: &fakeUploader{},
		searcher: &fakeSearcher{},
		mail:     &fakeMailer{},
	}
	env.auth = &AuthHandler{
		DB:       db,
		Tokens:   tokenService,
		Mail:     env.mail,
		Producer: producer,
		BaseURL:  "http://localhost:8080",
	}
	env.users = &UserHandler{
		DB:       db,
		Tokens:   tokenService,
		Mail:     env.mail,
		Uploader: env.uploader,
		Producer: producer,
		BaseURL:  "http://localhost:8080",
	}
	env.images = &ImageHandler{
		DB:       db,
		Uploader: env.uploader,
		Search:   env.searcher,
		Producer: producer,
	}
	return env
}

func (env *testEnv) createUser(username string, role models.Role) *models.User {
	env.t.Helper()

	pwHash, err := hash.HashPassword(testPassword)
	require.NoError(env.t, err)

	user := &models.User{
		Username:      username,
		Email:         username + "@test.com",
		PasswordHash:  pwHash,
		Role:          role,
		EmailVerified: true,
		IsActive:      true,
	}
	require.NoError(env.t, env.db.Create(user).Error)
	return user
}

func (env *testEnv) createImage(owner *models.User, description string, tagNames ...string) *models.Image {
	env.t.Helper()

	imageTags := make([]models.Tag, 0, len(tagNames))
	for _, name := range tagNames {
		var tag models.Tag
		require.NoError(env.t, env.db.Where(models.Tag{Name: name}).FirstOrCreate(&tag).Error)
		imageTags = append(imageTags, tag)
	}

	img := &models.Image{
		UserID:      owner.ID,
		URL:         "https://res.cloudinary.com/test/image/upload/v1/images/pic",
		PublicID:    "images/pic-" + owner.Username,
		Version:     "1",
		Description: description,
		Tags:        imageTags,
	}
	require.NoError(env.t, env.db.Create(img).Error)
	return img
}

func (env *testEnv) jsonContext(method, target string, payload any) (echo.Context, *httptest.ResponseRecorder) {
	env.t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(env.t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, body)
	if payload != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return env.e.NewContext(req, rec), rec
}

func (env *testEnv) multipartContext(fields map[string]string, tagValues []string, file []byte) (echo.Context, *httptest.ResponseRecorder) {
	env.t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(env.t, w.WriteField(k, v))
	}
	for _, tag := range tagValues {
		require.NoError(env.t, w.WriteField("tags", tag))
	}
	if file != nil {
		fw, err := w.CreateFormFile("file", "pic.jpg")
		require.NoError(env.t, err)
		_, err = fw.Write(file)
		require.NoError(env.t, err)
	}
	require.NoError(env.t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	return env.e.NewContext(req, rec), rec
}

// signBackdated mints a token with an issued-at in the past, so revoke-all
// cutoffs are observable without sleeping over a second boundary.
func (env *testEnv) signBackdated(user *models.User, typ tokens.Type, age time.Duration) string {
	env.t.Helper()

	now := time.Now().Add(-age)
	claims := tokens.Claims{
		Role:      user.Role,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tokens.SubjectFor(user.ID),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour + age)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(env.tokens.Secret)
	require.NoError(env.t, err)
	return raw
}

func actAs(c echo.Context, user *models.User) {
	c.Set("user", user)
}

func httpError(t *testing.T, err error) *echo.HTTPError {
	t.Helper()
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	return he
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}
