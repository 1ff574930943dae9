package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"GotMail/tools"
)

// Origin 校验 WebSocket 握手来源。WS_ALLOWED_ORIGINS 为空时放行全部,
// 配置后只接受列表内的 Origin（浏览器跨站劫持防护, 对非浏览器客户端无效）。
func Origin() gin.HandlerFunc {
	allowed := tools.GetEnvList("WS_ALLOWED_ORIGINS")
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet && c.Request.URL.Path == "/ws" && len(allowed) > 0 {
			origin := c.GetHeader("Origin")
			ok := false
			for _, a := range allowed {
				if strings.EqualFold(a, origin) {
					ok = true
					break
				}
			}
			if !ok {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
		}
		c.Next()
	}
}
