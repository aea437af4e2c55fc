package handlers

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	ctxUserID    = "yourturn.user_id"
	ctxUserClass = "yourturn.user_class"

	HeaderUserID    = "X-User-ID"
	HeaderUserClass = "X-User-Class"
	HeaderAdminKey  = "X-Admin-Key"
)

// Identity 识别调用者。
// 配置了secret时从 Bearer JWT 的 sub/user_id 与 class 声明读取身份，
// 未配置时信任网关注入的 X-User-ID / X-User-Class 请求头
func Identity(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			setIdentity(c, c.GetHeader(HeaderUserID), c.GetHeader(HeaderUserClass))
			c.Next()
			return
		}

		tokenString := extractToken(c)
		if tokenString == "" {
			c.Next()
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "invalid_token", "error": "Invalid or expired token"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "invalid_token", "error": "Invalid token claims"})
			return
		}

		userID := stringClaim(claims, "sub")
		if userID == "" {
			userID = stringClaim(claims, "user_id")
		}
		setIdentity(c, userID, stringClaim(claims, "class"))
		c.Next()
	}
}

// RequireUser 没有身份的请求返回401
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "unauthenticated", "error": "User identity required"})
			return
		}
		c.Next()
	}
}

// AdminOnly 校验 X-Admin-Key，未配置key时拒绝全部管理请求
func AdminOnly(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		given := c.GetHeader(HeaderAdminKey)
		if key == "" || subtle.ConstantTimeCompare([]byte(given), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": "Admin access required"})
			return
		}
		c.Next()
	}
}

// UserID 当前请求的用户标识
func UserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

// UserClass 当前请求的用户类别
func UserClass(c *gin.Context) string {
	return c.GetString(ctxUserClass)
}

func setIdentity(c *gin.Context, userID, class string) {
	if userID = strings.TrimSpace(userID); userID != "" {
		c.Set(ctxUserID, userID)
	}
	if class = strings.TrimSpace(class); class != "" {
		c.Set(ctxUserClass, class)
	}
}

func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// websocket 连接无法设置请求头
	return c.Query("token")
}

func stringClaim(claims jwt.MapClaims, name string) string {
	switch v := claims[name].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}
