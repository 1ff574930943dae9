package mailbox

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"GotMail/global"
	mid "GotMail/middleware"
	midsec "GotMail/middleware/security"
	"GotMail/module/mailbox/service"
	"GotMail/tools/errs"
)

var svc *service.Service

// Init 注入业务实例, RegisterRoutes 之前调用
func Init(s *service.Service) { svc = s }

// RegisterRoutes 挂载信箱/标签/偏好路由, 全部要求登录态
func RegisterRoutes(r gin.IRoutes) {
	mid.POST(r, "/api/mail/send", HandlerSend, mid.RouteOpt{IsAuth: true})
	mid.GET(r, "/api/mail/list", HandlerList, mid.RouteOpt{IsAuth: true})
	mid.GET(r, "/api/mail/get", HandlerGet, mid.RouteOpt{IsAuth: true})
	mid.POST(r, "/api/mail/action", HandlerAction, mid.RouteOpt{IsAuth: true})
	mid.POST(r, "/api/mail/delete", HandlerDelete, mid.RouteOpt{IsAuth: true})

	mid.GET(r, "/api/label/list", HandlerLabels, mid.RouteOpt{IsAuth: true})
	mid.POST(r, "/api/label/manage", HandlerLabelManage, mid.RouteOpt{IsAuth: true})
	mid.POST(r, "/api/label/email", HandlerLabelMail, mid.RouteOpt{IsAuth: true})

	mid.GET(r, "/api/settings", HandlerSettings, mid.RouteOpt{IsAuth: true})
	mid.POST(r, "/api/settings", HandlerSettingsUpdate, mid.RouteOpt{IsAuth: true})
	mid.POST(r, "/api/settings/autoreply/toggle", HandlerAutoReplyToggle, mid.RouteOpt{IsAuth: true})
}

func HandlerSend(c *gin.Context) {
	var in service.SendParams
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusOK, global.Fail(errs.ErrArgs.WrapMsg(err.Error())))
		return
	}
	item, err := svc.Send(c.Request.Context(), midsec.UserID(c), in)
	if err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(item))
}

func HandlerList(c *gin.Context) {
	box := c.Query("mailbox")
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	items, err := svc.Mailbox(c.Request.Context(), midsec.UserID(c), box, limit, offset)
	if err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(gin.H{"mailbox": box, "items": items}))
}

func HandlerGet(c *gin.Context) {
	emailID, err := strconv.ParseInt(c.Query("email_id"), 10, 64)
	if err != nil || emailID == 0 {
		c.JSON(http.StatusOK, global.Fail(errs.ErrArgs.WrapMsg("email_id required")))
		return
	}
	item, err := svc.Get(c.Request.Context(), midsec.UserID(c), emailID)
	if err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(item))
}

// 副本动作, action: mark_read | star | move_to_trash, state 缺省按 true
type actionReq struct {
	EmailID int64  `json:"email_id,string"`
	Action  string `json:"action"`
	State   *bool  `json:"state"`
}

func HandlerAction(c *gin.Context) {
	var in actionReq
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusOK, global.Fail(errs.ErrArgs.WrapMsg(err.Error())))
		return
	}
	state := true
	if in.State != nil {
		state = *in.State
	}
	userID := midsec.UserID(c)
	ctx := c.Request.Context()

	var err error
	switch in.Action {
	case "mark_read":
		err = svc.MarkRead(ctx, userID, in.EmailID, state)
	case "star":
		err = svc.Star(ctx, userID, in.EmailID, state)
	case "move_to_trash":
		err = svc.Trash(ctx, userID, in.EmailID, state)
	default:
		err = errs.ErrArgs.WrapMsg("unknown action", "action", in.Action)
	}
	if err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(nil))
}

func HandlerDelete(c *gin.Context) {
	var in struct {
		EmailID int64 `json:"email_id,string"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusOK, global.Fail(errs.ErrArgs.WrapMsg(err.Error())))
		return
	}
	if err := svc.Delete(c.Request.Context(), midsec.UserID(c), in.EmailID); err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(nil))
}

func HandlerLabels(c *gin.Context) {
	labels, err := svc.Labels(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(labels))
}

// 标签管理, action: create | edit | delete
type labelManageReq struct {
	Action  string  `json:"action"`
	LabelID int64   `json:"label_id,string"`
	Name    *string `json:"name"`
	Color   *string `json:"color"`
}

func HandlerLabelManage(c *gin.Context) {
	var in labelManageReq
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusOK, global.Fail(errs.ErrArgs.WrapMsg(err.Error())))
		return
	}
	userID := midsec.UserID(c)
	ctx := c.Request.Context()

	switch in.Action {
	case "create":
		name, color := "", ""
		if in.Name != nil {
			name = *in.Name
		}
		if in.Color != nil {
			color = *in.Color
		}
		l, err := svc.CreateLabel(ctx, userID, name, color)
		if err != nil {
			c.JSON(http.StatusOK, global.Fail(err))
			return
		}
		c.JSON(http.StatusOK, global.Sucess(l))
	case "edit":
		l, err := svc.UpdateLabel(ctx, userID, in.LabelID, in.Name, in.Color)
		if err != nil {
			c.JSON(http.StatusOK, global.Fail(err))
			return
		}
		c.JSON(http.StatusOK, global.Sucess(l))
	case "delete":
		if err := svc.DeleteLabel(ctx, userID, in.LabelID); err != nil {
			c.JSON(http.StatusOK, global.Fail(err))
			return
		}
		c.JSON(http.StatusOK, global.Sucess(nil))
	default:
		c.JSON(http.StatusOK, global.Fail(errs.ErrArgs.WrapMsg("unknown action", "action", in.Action)))
	}
}

// 贴/撕标签, action: add_label | remove_label
type labelMailReq struct {
	EmailID int64  `json:"email_id,string"`
	LabelID int64  `json:"label_id,string"`
	Action  string `json:"action"`
}

func HandlerLabelMail(c *gin.Context) {
	var in labelMailReq
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusOK, global.Fail(errs.ErrArgs.WrapMsg(err.Error())))
		return
	}
	userID := midsec.UserID(c)
	ctx := c.Request.Context()

	var err error
	switch in.Action {
	case "add_label":
		err = svc.AttachLabel(ctx, userID, in.LabelID, in.EmailID)
	case "remove_label":
		err = svc.DetachLabel(ctx, userID, in.LabelID, in.EmailID)
	default:
		err = errs.ErrArgs.WrapMsg("unknown action", "action", in.Action)
	}
	if err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(nil))
}

func HandlerSettings(c *gin.Context) {
	st, err := svc.Settings(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(st))
}

func HandlerSettingsUpdate(c *gin.Context) {
	var in service.SettingsParams
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusOK, global.Fail(errs.ErrArgs.WrapMsg(err.Error())))
		return
	}
	st, err := svc.UpdateSettings(c.Request.Context(), midsec.UserID(c), in)
	if err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(st))
}

func HandlerAutoReplyToggle(c *gin.Context) {
	st, err := svc.ToggleAutoReply(c.Request.Context(), midsec.UserID(c))
	if err != nil {
		c.JSON(http.StatusOK, global.Fail(err))
		return
	}
	c.JSON(http.StatusOK, global.Sucess(st))
}
