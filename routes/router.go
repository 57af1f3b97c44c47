package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/travelhub/travelhub/config"
	"github.com/travelhub/travelhub/controllers"
	"github.com/travelhub/travelhub/middleware"
	"github.com/travelhub/travelhub/realtime"
	"github.com/travelhub/travelhub/storage"
	"github.com/travelhub/travelhub/utils"
)

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(db *gorm.DB, store *storage.Store, hub *realtime.Hub) *gin.Engine {
	// Load config and set Gin mode from configuration
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Replace default console logger with file-based zap logger
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg)
	if err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		// fallback to default recovery if logger failed to init
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
		// credentials cannot be combined with a wildcard origin
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))
	r.Use(middleware.Metrics())
	// Count post detail views after each request
	r.Use(middleware.PostViewRecorder(db))

	r.Static(cfg.StoragePublicBase, cfg.StorageRoot)

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authController := controllers.NewAuthController(db)
	profileController := controllers.NewProfileController(db, store)
	postController := controllers.NewPostController(db, store)
	favoriteController := controllers.NewFavoriteController(db)
	chatController := controllers.NewChatController(db, store, hub)
	newsController := controllers.NewNewsController(db, store)
	heroController := controllers.NewHeroController(db, store)
	adminController := controllers.NewAdminController(db)
	statsController := controllers.NewStatsController(db)

	api := r.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware())
	authGroup.POST("/register", authController.Register)
	authGroup.POST("/login", authController.Login)
	authGroup.GET("/oauth/:provider/login", authController.OAuthRedirect)
	authGroup.GET("/oauth/:provider/callback", authController.OAuthCallback)
	authGroup.POST("/logout", middleware.AuthRequired(db), authController.Logout)
	authGroup.GET("/me", middleware.AuthRequired(db), authController.Me)

	// Public reads; a valid token personalises the response
	public := api.Group("")
	public.Use(middleware.OptionalAuth(db))
	public.GET("/posts", postController.ListPosts)
	public.GET("/posts/:id", postController.GetPost)
	public.GET("/posts/:id/stats", statsController.GetPostStats)
	public.GET("/users/:id/posts", postController.ListUserPosts)
	public.GET("/profiles/:id", profileController.GetProfile)
	public.GET("/chats/:room/messages", chatController.History)
	public.GET("/chats/:room/ws", chatController.Subscribe)
	public.GET("/news", newsController.List)
	public.GET("/news/:id", newsController.Get)
	public.GET("/hero-slides", heroController.List)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(db), middleware.RateLimitMiddleware())
	protected.GET("/users/me/posts", postController.ListMyPosts)
	protected.POST("/posts", postController.CreatePost)
	protected.PUT("/posts/:id", postController.UpdatePost)
	protected.DELETE("/posts/:id", postController.DeletePost)
	protected.POST("/posts/image", postController.UploadImage)
	protected.POST("/posts/:id/favorite", favoriteController.Toggle)
	protected.GET("/posts/:id/favorite", favoriteController.Status)
	protected.GET("/favorites", favoriteController.List)
	protected.PATCH("/profiles/me", profileController.UpdateMe)
	protected.POST("/profiles/me/avatar", profileController.UploadAvatar)
	protected.POST("/chats/:room/messages", chatController.Send)
	protected.POST("/chats/image", chatController.UploadImage)

	admin := api.Group("/admin")
	admin.Use(middleware.AuthRequired(db), middleware.AdminRequired(db))
	admin.GET("/stats", statsController.GetStats)
	admin.GET("/users", adminController.ListUsers)
	admin.PATCH("/users/:id/role", adminController.SetRole)
	admin.DELETE("/users/:id", adminController.DeleteUser)
	admin.GET("/news", newsController.AdminList)
	admin.POST("/news", newsController.Create)
	admin.PUT("/news/:id", newsController.Update)
	admin.DELETE("/news/:id", newsController.Delete)
	admin.POST("/news/image", newsController.UploadImage)
	admin.GET("/hero-slides", heroController.AdminList)
	admin.POST("/hero-slides", heroController.Create)
	admin.PUT("/hero-slides/order", heroController.Reorder)
	admin.PUT("/hero-slides/:id", heroController.Update)
	admin.DELETE("/hero-slides/:id", heroController.Delete)
	admin.POST("/hero-slides/image", heroController.UploadImage)

	r.NoRoute(func(ctx *gin.Context) {
		if strings.HasPrefix(ctx.Request.URL.Path, "/api/") {
			utils.Error(ctx, http.StatusNotFound, 40400, "api route not found")
			return
		}
		utils.Error(ctx, http.StatusNotFound, 40400, "not found")
	})

	return r
}
