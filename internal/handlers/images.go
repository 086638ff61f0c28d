package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/valeri7122/GoIT-Team-3-WEB/internal/cloudinary"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/logging"
	authmw "github.com/valeri7122/GoIT-Team-3-WEB/internal/middleware/auth"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/models"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/mykafka"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/service/policy"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/service/search"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/util"
)

const (
	maxTags   = 5
	minTagLen = 3
	maxTagLen = 25
)

// Searcher is the slice of the search service the image handlers need.
type Searcher interface {
	IndexImage(ctx context.Context, img *models.Image) error
	DeleteImage(ctx context.Context, imageID uint) error
	Search(ctx context.Context, query string, from, size int) (int64, []search.ImageDoc, error)
}

type ImageHandler struct {
	DB       *gorm.DB
	Uploader cloudinary.Uploader
	Search   Searcher
	Producer *mykafka.Producer
}

func (h *ImageHandler) publish(c echo.Context, event map[string]any) {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "image_events", fmt.Sprint(event["imageID"]), event); err != nil {
		logging.FromContext(c.Request().Context()).Error("kafka publish error", "error", err)
	}
}

// validateTags runs before any not-found or ownership check, on every
// endpoint that accepts tags.
func validateTags(tags []string) error {
	if len(tags) > maxTags {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "Maximum five tags can be added")
	}
	for _, tag := range tags {
		if l := utf8.RuneCountInString(tag); l < minTagLen || l > maxTagLen {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "Invalid length tag: "+tag)
		}
	}
	return nil
}

func splitTags(raw []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range raw {
		for _, tag := range strings.Split(v, ",") {
			tag = strings.TrimSpace(tag)
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}

func (h *ImageHandler) upsertTags(ctx context.Context, names []string) ([]models.Tag, error) {
	tags := make([]models.Tag, 0, len(names))
	for _, name := range names {
		var tag models.Tag
		if err := h.DB.WithContext(ctx).Where(models.Tag{Name: name}).FirstOrCreate(&tag).Error; err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func (h *ImageHandler) indexImage(c echo.Context, img *models.Image) {
	if h.Search == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Search.IndexImage(ctx, img); err != nil {
		logging.FromContext(c.Request().Context()).Error("search index error", "imageID", img.ID, "error", err)
	}
}

func (h *ImageHandler) Upload(c echo.Context) error {
	ctx := c.Request().Context()
	user := authmw.CurrentUser(c)

	var rawTags []string
	if form, err := c.MultipartForm(); err == nil && form != nil {
		rawTags = form.Value["tags"]
	}
	tags := splitTags(rawTags)
	if err := validateTags(tags); err != nil {
		return err
	}

	data, err := readFormFile(c, "file")
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "Invalid image file")
	}

	res, err := h.Uploader.Upload(ctx, data, cloudinary.FolderImages)
	if err != nil || res == nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "Invalid image file")
	}

	tagModels, err := h.upsertTags(ctx, tags)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	img := models.Image{
		UserID:      user.ID,
		URL:         res.URL,
		PublicID:    res.PublicID,
		Version:     res.Version,
		Description: c.FormValue("description"),
		Tags:        tagModels,
	}
	if err := h.DB.WithContext(ctx).Create(&img).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	h.indexImage(c, &img)
	h.publish(c, map[string]any{
		"type":    "image_uploaded",
		"imageID": img.ID,
		"userID":  user.ID,
	})

	return c.JSON(http.StatusCreated, echo.Map{
		"message": "Image successfully uploaded",
		"image":   img,
	})
}

func (h *ImageHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	page := parseIntDefault(c.QueryParam("page"), 1)
	size := parseIntDefault(c.QueryParam("size"), util.DefaultPageSize)
	offset, limit := util.Calculate(page, size)

	query := h.DB.WithContext(ctx).Model(&models.Image{})
	if tag := c.QueryParam("tags"); tag != "" {
		query = query.
			Joins("JOIN image_tags ON image_tags.image_id = images.id").
			Joins("JOIN tags ON tags.id = image_tags.tag_id").
			Where("tags.name = ?", tag)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	var items []models.Image
	if err := query.Preload("Tags").Order("images.id ASC").Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"data": items,
		"meta": map[string]any{
			"page":        page,
			"size":        limit,
			"total":       total,
			"total_pages": (total + int64(limit) - 1) / int64(limit),
			"has_prev":    page > 1,
			"has_next":    int64(offset+limit) < total,
		},
	})
}

func (h *ImageHandler) SearchImages(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query error")
	}

	page := parseIntDefault(c.QueryParam("page"), 1)
	size := parseIntDefault(c.QueryParam("size"), util.DefaultPageSize)
	from, limit := util.Calculate(page, size)

	var (
		total int64
		docs  []search.ImageDoc
	)
	if h.Search != nil {
		var err error
		total, docs, err = h.Search.Search(c.Request().Context(), q, from, limit)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "search error")
		}
	}
	if docs == nil {
		docs = []search.ImageDoc{}
	}

	return c.JSON(http.StatusOK, echo.Map{"total": total, "images": docs})
}

func (h *ImageHandler) GetByID(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid image id")
	}

	var img models.Image
	if err := h.DB.WithContext(ctx).Preload("Tags").First(&img, uint(id)).Error; err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Not found image")
	}

	return c.JSON(http.StatusOK, img)
}

func (h *ImageHandler) Update(c echo.Context) error {
	ctx := c.Request().Context()
	actor := authmw.CurrentUser(c)

	var req struct {
		ImageID     uint     `json:"image_id"`
		Description string   `json:"description"`
		Tags        []string `json:"tags"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	tags := splitTags(req.Tags)
	if err := validateTags(tags); err != nil {
		return err
	}

	var img models.Image
	if err := h.DB.WithContext(ctx).Preload("Tags").First(&img, req.ImageID).Error; err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Not found image")
	}

	if err := policy.AuthorizeOwner(actor, img.UserID); err != nil {
		return policyError(err)
	}

	tagModels, err := h.upsertTags(ctx, tags)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	img.Description = req.Description
	if err := h.DB.WithContext(ctx).Model(&img).Association("Tags").Replace(tagModels); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	img.Tags = tagModels
	if err := h.DB.WithContext(ctx).Save(&img).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	h.indexImage(c, &img)
	h.publish(c, map[string]any{
		"type":    "image_updated",
		"imageID": img.ID,
		"userID":  actor.ID,
	})

	return c.JSON(http.StatusOK, img)
}

func (h *ImageHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	actor := authmw.CurrentUser(c)
	l := logging.FromContext(ctx).With("handler", "image_delete")

	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid image id")
	}

	var img models.Image
	if err := h.DB.WithContext(ctx).First(&img, uint(id)).Error; err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Not found image")
	}

	if err := policy.AuthorizeOwner(actor, img.UserID); err != nil {
		return policyError(err)
	}

	if h.Uploader != nil {
		if err := h.Uploader.Delete(ctx, img.PublicID); err != nil {
			l.Error("provider delete failed", "imageID", img.ID, "error", err)
		}
	}

	if err := h.DB.WithContext(ctx).Model(&img).Association("Tags").Clear(); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	if err := h.DB.WithContext(ctx).Delete(&img).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	if h.Search != nil {
		if err := h.Search.DeleteImage(ctx, img.ID); err != nil {
			l.Error("search delete failed", "imageID", img.ID, "error", err)
		}
	}

	h.publish(c, map[string]any{
		"type":    "image_deleted",
		"imageID": img.ID,
		"userID":  actor.ID,
	})

	return c.JSON(http.StatusOK, echo.Map{"message": "Image successfully deleted"})
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return def
}
