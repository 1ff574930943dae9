package user

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"GotMail/global"
	mid "GotMail/middleware"
	midsec "GotMail/middleware/security"
	"GotMail/module/user/service"
	"GotMail/service/storage"
	"GotMail/tools/errs"
)

var svc *service.Service

// Init 注入业务实例, RegisterRoutes 之前调用
func Init(s *service.Service) { svc = s }

// RegisterRoutes 挂载账号相关路由
func RegisterRoutes(r gin.IRoutes) {
	mid.POST(r, "/api/user/register", HandlerRegister, mid.RouteOpt{IsAuth: false})
	mid.POST(r, "/api/user/login", HandlerLogin, mid.RouteOpt{IsAuth: false})
	mid.POST(r, "/api/user/login/2fa", HandlerLogin2FA, mid.RouteOpt{IsAuth: false})
	mid.POST(r, "/api/user/logout", HandlerLogout, mid.RouteOpt{IsAuth: false})
	mid.POST(r, "/api/user/validate", HandlerValidate, mid.RouteOpt{IsAuth: false})
	mid.POST(r, "/api/user/password/reset", HandlerResetRequest, mid.RouteOpt{IsAuth: false})
	mid.POST(r, "/api/user/password/reset/confirm", HandlerResetConfirm, mid.RouteOpt{IsAuth: false})

	mid.GET(r, "/api/user/profile", HandlerProfile, mid.RouteOpt{IsAuth: true})
	mid.POST(r, "/api/user/profile", HandlerUpdateProfile, mid.RouteOpt{IsAuth: true})
	mid.POST(r, "/api/user/password", HandlerChangePassword, mid.RouteOpt{IsAuth: true})
	mid.POST(r, "/api/user/phone/verify", HandlerPhoneVerifyRequest, mid.RouteOpt{IsAuth: true})
	mid.POST(r, "/api/user/phone/verify/confirm", HandlerPhoneVerifyConfirm, mid.RouteOpt{IsAuth: true})
	mid.POST(r, "/api/user/2fa", Handler2FA, mid.RouteOpt{IsAuth: true})
	mid.GET(r, "/api/user/notifications", HandlerNotifications, mid.RouteOpt{IsAuth: true})
	mid.POST(r, "/api/user/notifications/read", HandlerNotificationsRead, mid.RouteOpt{IsAuth: true})
	mid.GET(r, "/api/user/presence", HandlerPresence, mid.RouteOpt{IsAuth: true})
}

func bearerToken(c *gin.Context) string {
	if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" {
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return strings.TrimSpace(authz[len("bearer "):])
		}
		return authz
	}
	return strings.TrimSpace(c.GetHeader("authorization"))
}

func HandlerRegister(c *gin.Context) {
	var in service.RegisterParams
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusOK, global.Fail(errs.ErrArgs.WrapMsg(err.Error())))
		return
	}
	u, err := svc.Register(c.Request.Context(), in)
	if err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(u))
}

func HandlerLogin(c *gin.Context) {
	var in service.LoginParams
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusOK, global.Fail(errs.ErrArgs.WrapMsg(err.Error())))
		return
	}
	in.IP = c.ClientIP()
	in.UserAgent = c.GetHeader("User-Agent")
	res, err := svc.Login(c.Request.Context(), in)
	if err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(res))
}

func HandlerLogin2FA(c *gin.Context) {
	var in service.LoginParams
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusOK, global.Fail(errs.ErrArgs.WrapMsg(err.Error())))
		return
	}
	in.IP = c.ClientIP()
	in.UserAgent = c.GetHeader("User-Agent")
	res, err := svc.Login2FA(c.Request.Context(), in)
	if err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(res))
}

func HandlerLogout(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		var body struct {
			Token string `json:"token"`
		}
		_ = c.ShouldBindJSON(&body)
		token = body.Token
	}
	if err := svc.Logout(c.Request.Context(), token); err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(nil))
}

// HandlerValidate 会话探活: 客户端恢复时确认 token 还能用
func HandlerValidate(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		var body struct {
			Token string `json:"token"`
		}
		_ = c.ShouldBindJSON(&body)
		token = body.Token
	}
	userID, sessionID, err := svc.Authenticate(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(gin.H{"user_id": userID, "session_id": sessionID}))
}

func HandlerProfile(c *gin.Context) {
	u, err := svc.Profile(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(u))
}

func HandlerUpdateProfile(c *gin.Context) {
	var in service.UpdateProfileParams
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusOK, global.Fail(errs.ErrArgs.WrapMsg(err.Error())))
		return
	}
	if err := svc.UpdateProfile(c.Request.Context(), midsec.UserID(c), in); err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(nil))
}

func HandlerChangePassword(c *gin.Context) {
	var in struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusOK, global.Fail(errs.ErrArgs.WrapMsg(err.Error())))
		return
	}
	if err := svc.ChangePassword(c.Request.Context(), midsec.UserID(c), in.OldPassword, in.NewPassword); err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(nil))
}

func HandlerResetRequest(c *gin.Context) {
	var in struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusOK, global.Fail(errs.ErrArgs.WrapMsg(err.Error())))
		return
	}
	if err := svc.RequestPasswordReset(c.Request.Context(), in.Email); err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(nil))
}

func HandlerResetConfirm(c *gin.Context) {
	var in struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusOK, global.Fail(errs.ErrArgs.WrapMsg(err.Error())))
		return
	}
	if err := svc.ConfirmPasswordReset(c.Request.Context(), in.Token, in.NewPassword); err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(nil))
}

func HandlerPhoneVerifyRequest(c *gin.Context) {
	if err := svc.RequestPhoneVerify(c.Request.Context(), midsec.UserID(c)); err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(nil))
}

func HandlerPhoneVerifyConfirm(c *gin.Context) {
	var in struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusOK, global.Fail(errs.ErrArgs.WrapMsg(err.Error())))
		return
	}
	if err := svc.ConfirmPhoneVerify(c.Request.Context(), midsec.UserID(c), in.Code); err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(nil))
}

func Handler2FA(c *gin.Context) {
	var in struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusOK, global.Fail(errs.ErrArgs.WrapMsg(err.Error())))
		return
	}
	if err := svc.Set2FA(c.Request.Context(), midsec.UserID(c), in.Enabled); err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(nil))
}

func HandlerNotifications(c *gin.Context) {
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)
	list, err := svc.Notifications(c.Request.Context(), midsec.UserID(c), limit, offset)
	if err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(list))
}

func HandlerNotificationsRead(c *gin.Context) {
	var in struct {
		NotificationID string `json:"notification_id"`
		All            bool   `json:"all"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusOK, global.Fail(errs.ErrArgs.WrapMsg(err.Error())))
		return
	}
	uid := midsec.UserID(c)
	if in.All {
		n, err := svc.MarkAllNotificationsRead(c.Request.Context(), uid)
		if err != nil {
			c.JSON(http.StatusOK, global.Fail(err))
			return
		}
		c.JSON(http.StatusOK, global.Sucess(gin.H{"marked": n}))
		return
	}
	if err := svc.MarkNotificationRead(c.Request.Context(), uid, in.NotificationID); err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(nil))
}

// HandlerPresence 查某用户是否有活跃网关连接
func HandlerPresence(c *gin.Context) {
	target := c.DefaultQuery("user_id", midsec.UserID(c))
	gw, online, err := storage.PresenceLookup(c.Request.Context(), target)
	if err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(gin.H{"user_id": target, "online": online, "gateway": gw}))
}
