package routes

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"yourturn-backend/handlers"
	"yourturn-backend/websocket"
)

// Server 是HTTP服务器的封装
type Server struct {
	*http.Server
}

// Deps 路由依赖
type Deps struct {
	Handler *handlers.Handler
	Health  *handlers.HealthHandler
	Events  *handlers.EventStream
	Hub     *websocket.Hub
	Options handlers.Options
}

// SetupRouter 设置和配置Gin路由
func SetupRouter(deps Deps) *gin.Engine {
	router := gin.Default()

	// 配置CORS中间件
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"}, // 生产环境中应限制为前端域名
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			handlers.HeaderUserID, handlers.HeaderUserClass, handlers.HeaderAdminKey,
		},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	api := router.Group("/api")
	deps.Health.Register(api, deps.Options.AdminKey)
	deps.Handler.Register(api)

	// 实时更新端点（WebSocket和SSE）
	if deps.Hub != nil {
		api.GET("/questions/:id/ws", websocket.NewHandler(deps.Hub).Serve)
	}
	if deps.Events != nil {
		api.GET("/events/live", deps.Events.HandleSSE)
	}

	return router
}

// StartServer 启动HTTP服务器
func StartServer(router *gin.Engine, port string) *Server {
	if port == "" {
		port = "8080"
	}
	addr := ":" + port

	srv := &Server{
		&http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	// 在单独的goroutine中启动服务器
	go func() {
		log.Printf("服务器启动在 %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	return srv
}
