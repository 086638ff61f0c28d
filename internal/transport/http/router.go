package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/valeri7122/GoIT-Team-3-WEB/internal/handlers"
	authmw "github.com/valeri7122/GoIT-Team-3-WEB/internal/middleware/auth"
)

type Deps struct {
	DB           *gorm.DB
	AuthHandler  *handlers.AuthHandler
	UserHandler  *handlers.UserHandler
	ImageHandler *handlers.ImageHandler
	Auth         *authmw.Middleware
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"message": "REST APP v-1.0"})
	})
	e.GET("/api/healthchecker", func(c echo.Context) error {
		if err := d.DB.WithContext(c.Request().Context()).Exec("SELECT 1").Error; err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "Error connecting to the database")
		}
		return c.JSON(http.StatusOK, echo.Map{"message": "Welcome to the images app!"})
	})

	api := e.Group("/api")

	auth := api.Group("/auth")
	auth.POST("/signup", d.AuthHandler.Signup)
	auth.POST("/login", d.AuthHandler.Login)
	auth.GET("/confirmed_email/:token", d.AuthHandler.ConfirmEmail)
	auth.POST("/refresh_token", d.AuthHandler.Refresh)
	auth.POST("/logout", d.AuthHandler.Logout, d.Auth.RequireAuth)

	users := api.Group("/users", d.Auth.RequireAuth)
	users.GET("/me", d.UserHandler.Me)
	users.PATCH("", d.UserHandler.UpdateProfile)
	users.PATCH("/avatar", d.UserHandler.UpdateAvatar)
	users.PATCH("/email", d.UserHandler.UpdateEmail)
	users.PATCH("/password", d.UserHandler.UpdatePassword)
	users.POST("/change-role", d.UserHandler.ChangeRole)
	users.POST("/ban/:user_id", d.UserHandler.Ban)
	users.POST("/unban/:user_id", d.UserHandler.Unban)
	users.GET("/:username", d.UserHandler.Profile)

	images := api.Group("/images", d.Auth.RequireAuth)
	images.POST("", d.ImageHandler.Upload)
	images.GET("", d.ImageHandler.List)
	images.GET("/search", d.ImageHandler.SearchImages)
	images.GET("/:id", d.ImageHandler.GetByID)
	images.PATCH("", d.ImageHandler.Update)
	images.DELETE("/:id", d.ImageHandler.Delete)
}
