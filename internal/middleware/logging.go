package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"guptaai/pkg/log"

	"github.com/gin-gonic/gin"
)

// maxLoggedBody 是日志中记录的请求/响应体的最大长度。
const maxLoggedBody = 2048

// 这些路径的请求体包含密码，不记录。
var redactedPaths = map[string]struct{}{
	"/api/signup":       {},
	"/api/login":        {},
	"/api/auth/refresh": {},
}

// bodyLogWriter 用于捕获响应体
type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

// Write 实现了 io.Writer 接口，将响应写入 gin.ResponseWriter 和一个内部的 buffer
func (w bodyLogWriter) Write(b []byte) (int, error) {
	if w.body.Len() < maxLoggedBody {
		w.body.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

// RequestLogger 是一个 Gin 中间件，用于记录请求和响应日志。
// WebSocket 升级请求和 multipart 上传只记录元信息。
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		path := c.Request.URL.Path

		captureBody := !isUpgrade(c) && !strings.HasPrefix(c.ContentType(), "multipart/")
		var requestBody []byte
		if captureBody && c.Request.Body != nil {
			requestBody, _ = io.ReadAll(c.Request.Body)
			// 将读取的请求体重新设置回 c.Request.Body，以便后续处理函数可以正常读取
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		var blw *bodyLogWriter
		if captureBody {
			blw = &bodyLogWriter{body: &bytes.Buffer{}, ResponseWriter: c.Writer}
			c.Writer = blw
		}

		c.Next()

		fields := []interface{}{
			"statusCode", c.Writer.Status(),
			"latency", time.Since(startTime).String(),
			"clientIP", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
		}
		if captureBody {
			reqLogged := truncate(string(requestBody))
			respLogged := truncate(blw.body.String())
			if _, redacted := redactedPaths[path]; redacted {
				reqLogged = "[redacted]"
				respLogged = "[redacted]"
			}
			fields = append(fields, "requestBody", reqLogged, "responseBody", respLogged)
		}
		log.Infow("HTTP Request Log", fields...)
	}
}

func isUpgrade(c *gin.Context) bool {
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}

func truncate(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	return s[:maxLoggedBody] + "...(truncated)"
}
