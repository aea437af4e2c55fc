package handlers

import (
	"log"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"yourturn-backend/cache"
)

// RateLimiterStats 限流统计
type RateLimiterStats struct {
	TotalRequests    int64 `json:"totalRequests"`
	AllowedRequests  int64 `json:"allowedRequests"`
	RejectedRequests int64 `json:"rejectedRequests"`
}

// RateLimiter 按用户（无身份时按IP）限流的中间件，限流只拒绝请求，不影响抢答结果
type RateLimiter struct {
	limiter  cache.RateLimiter
	total    atomic.Int64
	rejected atomic.Int64
}

// NewRateLimiter 创建限流中间件，limiter为nil时不限流
func NewRateLimiter(limiter cache.RateLimiter) *RateLimiter {
	return &RateLimiter{limiter: limiter}
}

// Middleware 返回gin中间件
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || l.limiter == nil {
			c.Next()
			return
		}
		l.total.Add(1)

		key := UserID(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}

		allowed, err := l.limiter.Allow(c.Request.Context(), key)
		if err != nil {
			// 限流器故障时放行
			log.Printf("限流检查失败: %v", err)
			c.Next()
			return
		}
		if !allowed {
			l.rejected.Add(1)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":  "rate_limited",
				"error": "Too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}

// Stats 当前统计
func (l *RateLimiter) Stats() RateLimiterStats {
	if l == nil {
		return RateLimiterStats{}
	}
	total := l.total.Load()
	rejected := l.rejected.Load()
	return RateLimiterStats{
		TotalRequests:    total,
		AllowedRequests:  total - rejected,
		RejectedRequests: rejected,
	}
}
