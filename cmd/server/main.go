package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/valeri7122/GoIT-Team-3-WEB/internal/cloudinary"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/config"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/denylist"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/email"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/es"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/handlers"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/logging"
	authmw "github.com/valeri7122/GoIT-Team-3-WEB/internal/middleware/auth"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/mykafka"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/service/search"
	"github.com/valeri7122/GoIT-Team-3-WEB/internal/service/token"
	httpserver "github.com/valeri7122/GoIT-Team-3-WEB/internal/transport/http"
)

func main() {
	configuration, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	config.MustNonEmpty(configuration.SECRET_KEY, "SECRET_KEY")

	logger := logging.New(configuration.LOG_LEVEL)
	slog.SetDefault(logger)

	db, err := config.InitDB(configuration)
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}

	store := denylist.NewRedis(configuration.REDIS_ADDR, configuration.REDIS_PASSWORD, configuration.REDIS_DB)
	tokenService := token.NewService([]byte(configuration.SECRET_KEY), store)

	prod := mykafka.NewProducer([]string{configuration.KAFKA_ADDRESS})

	var searchService *search.Service
	if configuration.ES_URL != "" {
		esClient, err := es.NewClient(configuration)
		if err != nil {
			log.Fatalf("elasticsearch init error: %v", err)
		}
		searchService = search.NewService(esClient, "images")
	}

	var uploader cloudinary.Uploader
	if cl, err := cloudinary.NewClient(
		configuration.CLOUDINARY_NAME,
		configuration.CLOUDINARY_API_KEY,
		configuration.CLOUDINARY_API_SECRET,
	); err != nil {
		logger.Warn("cloudinary disabled", "error", err)
	} else {
		uploader = cl
	}

	var mail email.Sender
	if sender, err := email.NewAPISender(
		configuration.MAIL_API_KEY,
		configuration.MAIL_FROM,
		configuration.MAIL_API_URL,
	); err != nil {
		logger.Warn("email disabled", "error", err)
	} else {
		mail = sender
	}

	e := echo.New()
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID())

	deps := httpserver.Deps{
		DB: db,
		AuthHandler: &handlers.AuthHandler{
			DB:       db,
			Tokens:   tokenService,
			Mail:     mail,
			Producer: prod,
			BaseURL:  configuration.BASE_URL,
		},
		UserHandler: &handlers.UserHandler{
			DB:       db,
			Tokens:   tokenService,
			Mail:     mail,
			Uploader: uploader,
			Producer: prod,
			BaseURL:  configuration.BASE_URL,
		},
		ImageHandler: &handlers.ImageHandler{
			DB:       db,
			Uploader: uploader,
			Search:   searchService,
			Producer: prod,
		},
		Auth: authmw.New(db, tokenService),
	}

	httpserver.Register(e, &deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", configuration.SERVER_PORT),
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Printf("db close error: %v", err)
		}
	}

	if err := store.Client.Close(); err != nil {
		log.Printf("redis close error: %v", err)
	}

	if err := prod.Close(); err != nil {
		log.Printf("kafka close error: %v", err)
	}

	log.Println("shutdown complete")
}
