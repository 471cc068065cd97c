package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// HeaderRequestID 请求ID头
	HeaderRequestID = "X-Request-ID"
	// ContextRequestID gin 上下文中的请求ID键
	ContextRequestID = "request_id"
)

// RequestTracing 请求追踪：沿用客户端的 X-Request-ID，否则生成一个
func RequestTracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ContextRequestID, requestID)
		c.Header(HeaderRequestID, requestID)
		c.Next()
	}
}

// RequestID 取当前请求ID
func RequestID(c *gin.Context) string {
	return c.GetString(ContextRequestID)
}
