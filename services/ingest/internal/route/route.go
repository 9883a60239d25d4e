package route

import (
	"meetinggenius/services/ingest/internal/chunk"
	"meetinggenius/services/ingest/internal/dto"
	"meetinggenius/services/ingest/internal/job"
	"meetinggenius/services/ingest/internal/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Deps 路由需要的依赖
type Deps struct {
	FrontendURL string
	JWTSecret   string
	Chunks      chunk.Store
	Service     *job.Service
	Dispatcher  *job.Dispatcher
}

func initRoute(r *gin.Engine, deps Deps) {
	// Swagger 文档路由
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	apiV1 := r.Group("/api/v1")
	apiV1.GET("/health", health)

	// 需要认证的路由
	authed := apiV1.Group("", middleware.JWTAuth(deps.JWTSecret))
	{
		chunk.RegisterRoutes(authed, deps.Chunks)
		job.RegisterRoutes(authed, deps.Service, deps.Dispatcher)
	}
}

// health 存活检查
// @Summary 存活检查
// @Tags health
// @Produce json
// @Success 200 {object} response.Response
// @Router /health [get]
func health(c *gin.Context) {
	dto.SuccessResponse(c, gin.H{"status": "ok"})
}

func SetupRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger())

	origin := deps.FrontendURL
	if origin == "" {
		origin = "http://localhost:5173" // 默认值
	}

	// 设置跨域请求
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{origin},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
	}))

	initRoute(r, deps)

	return r
}
