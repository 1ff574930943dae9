package security

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"GotMail/tools/errs"
)

// —— context key ——
// 后续模块统一用这几个 key 读取
const (
	GMCtxTokenKey     = "authorization" // string, 原始 token
	GMCtxUserIDKey    = "user_id"       // string
	GMCtxSessionIDKey = "session_id"    // string
)

// TokenVerifier 校验 token 并换取登录态。凡是需要鉴权的路由都会经过它,
// 启动时通过 SetVerifier 注入, 避免 middleware 反向依赖业务模块。
type TokenVerifier func(ctx context.Context, token string) (userID, sessionID string, err error)

var verifier atomic.Value // TokenVerifier

func SetVerifier(v TokenVerifier) {
	if v != nil {
		verifier.Store(v)
	}
}

type Options struct {
	// 读取哪个请求头
	HeaderToken               string // 默认 "authorization"
	EnableAuthorizationBearer bool   // 默认 true

	VerifyTimeout time.Duration // 默认 2s
}

func DefaultOptions() *Options {
	return &Options{
		HeaderToken:               GMCtxTokenKey,
		EnableAuthorizationBearer: true,
		VerifyTimeout:             2 * time.Second,
	}
}

func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions()
	}
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))

		// 兼容 Authorization: Bearer xxx
		if token == "" && opts.EnableAuthorizationBearer {
			if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
				if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
					token = strings.TrimSpace(authz[len("bearer "):])
				}
			}
		}

		if token == "" {
			c.AbortWithStatusJSON(http.StatusOK, errs.ErrTokenInvalid)
			return
		}

		v, _ := verifier.Load().(TokenVerifier)
		if v == nil {
			// 未注入校验器时一律拒绝, 不能放行裸 token
			c.AbortWithStatusJSON(http.StatusOK, errs.ErrTokenInvalid)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), opts.VerifyTimeout)
		userID, sessionID, err := v(ctx, token)
		cancel()
		if err != nil {
			if ce, ok := errs.AsCodeError(err); ok {
				c.AbortWithStatusJSON(http.StatusOK, ce)
			} else {
				c.AbortWithStatusJSON(http.StatusOK, errs.ErrTokenInvalid)
			}
			return
		}

		c.Set(GMCtxTokenKey, token)
		c.Set(GMCtxUserIDKey, userID)
		c.Set(GMCtxSessionIDKey, sessionID)

		c.Next()
	}
}

// UserID 从 gin context 取当前登录用户, 未鉴权路由返回空串
func UserID(c *gin.Context) string {
	return c.GetString(GMCtxUserIDKey)
}

func SessionID(c *gin.Context) string {
	return c.GetString(GMCtxSessionIDKey)
}
