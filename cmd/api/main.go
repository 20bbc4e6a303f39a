package main

import (
	"context"
	"log"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/helpably/volunteerhub/internal/alerts"
	"github.com/helpably/volunteerhub/internal/auth"
	"github.com/helpably/volunteerhub/internal/config"
	"github.com/helpably/volunteerhub/internal/db"
	mware "github.com/helpably/volunteerhub/internal/middleware"
	"github.com/helpably/volunteerhub/internal/token"
	"github.com/helpably/volunteerhub/internal/user"
)

func main() {
	// Init subsystems
	_ = godotenv.Load()
	cfg := config.Load()
	db.Init(cfg.DatabaseURL)
	db.EnsureFirstSuperuser(context.Background(), cfg.FirstSuperuser, cfg.FirstSuperuserPassword)
	alerts.Init()
	defer alerts.Close()

	store := user.NewPgxStore(db.Conn)
	codec := token.NewCodec(cfg.JWTSecret, cfg.EmailTokenTTL)
	users := user.NewHandler(store, alerts.EmailNotifier{}, codec, cfg)
	login := auth.NewHandler(store, cfg)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Health and readiness
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"status": "ok", "service": "volunteerhub"})
	})
	e.GET("/ready", func(c echo.Context) error {
		if db.Conn == nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "db not initialized"})
		}
		if err := db.Conn.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "not_ready", "error": "db unreachable"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ready"})
	})

	// Public routes, rate limited to protect registration/login from abuse
	public := e.Group("")
	public.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(20)))
	public.POST("/login", login.Login)
	public.POST("/users/open", users.CreateUserOpen)
	public.PUT("/users/confirm-registration/:token", users.ConfirmRegistration)
	public.DELETE("/users/cancel-registration/:token", users.CancelRegistration)

	// Routes for any active, authenticated user
	me := e.Group("/users")
	me.Use(mware.JWTAuth(cfg.JWTSecret))
	me.Use(mware.RequireActiveUser(store))
	me.GET("/me", users.ReadMe)
	me.PUT("/me", users.UpdateMe)
	me.GET("/:user_id", users.ReadUserByID)

	// Superuser-only routes
	admin := e.Group("/users")
	admin.Use(mware.JWTAuth(cfg.JWTSecret))
	admin.Use(mware.RequireActiveUser(store))
	admin.Use(mware.RequireSuperuser)
	admin.GET("/", users.ListUsers)
	admin.POST("/", users.CreateUser)
	admin.PUT("/:user_id", users.UpdateUser)

	if err := e.Start(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
