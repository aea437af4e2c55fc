package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SystemInfo contains basic system metrics and information
type SystemInfo struct {
	Status       string                 `json:"status"`
	Version      string                 `json:"version"`
	Uptime       string                 `json:"uptime"`
	StartTime    time.Time              `json:"start_time"`
	CurrentTime  time.Time              `json:"current_time"`
	GoVersion    string                 `json:"go_version"`
	NumGoroutine int                    `json:"num_goroutine"`
	NumCPU       int                    `json:"num_cpu"`
	DBStatus     string                 `json:"db_status"`
	Queue        map[string]interface{} `json:"queue,omitempty"`
	RateLimit    RateLimiterStats       `json:"rate_limit"`
	Dropped      int64                  `json:"dropped_events"`
}

// QueueInspector 消息队列状态，*mq.MQAdapter 满足该接口
type QueueInspector interface {
	GetQueueStats(ctx context.Context) map[string]interface{}
	RetryDeadLetters(ctx context.Context) (int, error)
}

// DropCounter 事件分发器丢弃的事件数，*events.Dispatcher 满足该接口
type DropCounter interface {
	Dropped() int64
}

var (
	startTime = time.Now()
	version   = "0.1.0" // 应用版本，可通过构建参数注入
)

// HealthHandler 健康检查与运维接口
type HealthHandler struct {
	db      *gorm.DB
	queue   QueueInspector
	events  DropCounter
	limiter *RateLimiter
}

// NewHealthHandler 创建健康检查处理器，除db外均可为nil
func NewHealthHandler(db *gorm.DB, queue QueueInspector, events DropCounter, limiter *RateLimiter) *HealthHandler {
	return &HealthHandler{db: db, queue: queue, events: events, limiter: limiter}
}

// Register 注册路由，管理接口使用adminKey保护
func (h *HealthHandler) Register(api *gin.RouterGroup, adminKey string) {
	api.GET("/health", h.HealthCheck)
	api.GET("/status", h.SystemStatus)
	api.POST("/admin/queue/retry", AdminOnly(adminKey), h.RetryDeadLetters)
}

// HealthCheck 提供基本健康检查端点
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	}
	if h.dbStatus(c.Request.Context()) != "ok" {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

// SystemStatus 提供详细的系统状态信息
func (h *HealthHandler) SystemStatus(c *gin.Context) {
	ctx := c.Request.Context()
	info := SystemInfo{
		Status:       "ok",
		Version:      version,
		Uptime:       time.Since(startTime).String(),
		StartTime:    startTime,
		CurrentTime:  time.Now(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		DBStatus:     h.dbStatus(ctx),
		RateLimit:    h.limiter.Stats(),
	}
	if h.queue != nil {
		info.Queue = h.queue.GetQueueStats(ctx)
	}
	if h.events != nil {
		info.Dropped = h.events.Dropped()
	}
	c.JSON(http.StatusOK, info)
}

// RetryDeadLetters 将死信队列中的事件重新入队
func (h *HealthHandler) RetryDeadLetters(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusConflict, gin.H{"code": "queue_disabled", "error": "Message queue is not configured"})
		return
	}
	n, err := h.queue.RetryDeadLetters(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"code": "queue_unsupported", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requeued": n})
}

func (h *HealthHandler) dbStatus(ctx context.Context) string {
	if h.db == nil {
		return "error"
	}
	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.PingContext(ctx) != nil {
		return "error"
	}
	return "ok"
}
