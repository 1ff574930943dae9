package handlers

import (
	"context"
	"time"

	"GotMail/logger"
	"GotMail/service/gateway"
	"GotMail/tools/errs"
)

type AuthHandler struct{}

func NewAuthHandler() gateway.Handler { return &AuthHandler{} }

func (h *AuthHandler) Type() string { return gateway.FrameAuth }

// Handle validates the session token and registers the connection. The
// read loop closes with 4401 when this returns an error.
func (h *AuthHandler) Handle(ctx *gateway.GatewayContext, f *gateway.ClientFrame, conn *gateway.Conn) error {
	if f.Token == "" {
		return errs.ErrAuthFailed.WrapMsg("empty token")
	}

	tctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	userID, sessionID, err := ctx.G.Auth().Authenticate(tctx, f.Token)
	cancel()
	if err != nil {
		return errs.ErrAuthFailed.WrapMsg("token rejected", "conn", conn.ID)
	}

	first, err := ctx.G.ConnMgr().Bind(conn.ID, userID, sessionID)
	if err != nil {
		return errs.ErrAuthFailed.WrapMsg(err.Error(), "conn", conn.ID)
	}

	conn.Push(gateway.BuildOK(sessionID))
	// 断线期间连上的连接同样要收到降级通知
	ctx.G.NoticeIfDegraded(conn)

	logger.Infof("[auth] bound user=%s conn=%s first=%v", userID, conn.ID, first)
	return nil
}
