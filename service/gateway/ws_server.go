package gateway

import (
	"net"
	"net/http"
	"time"

	"GotMail/logger"
	"GotMail/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgraded = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }}

// HandleWS ===== WebSocket 处理 =====
// Protocol: the first client frame must be auth; afterwards resync/ping
// at will, server pushes event/notice frames. JSON text frames only.
func (g *Gateway) HandleWS(c *gin.Context) {
	ws, err := upgraded.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		logger.Infof("[HandleWS] upgrade websocket error: %v", err)
		return
	}

	conn := g.mgr.Track(ws)
	logger.Infof("[HandleWS] connected conn=%s remote=%v", conn.ID, conn.Remote)

	// 授权期限内必须完成 auth
	_ = ws.SetReadDeadline(time.Now().Add(g.mgr.AuthTimeout()))

	writerDone := make(chan struct{})
	go g.writeLoop(conn, writerDone)

	authed := false
	// ---- 读循环：只读，不写；出错即退出（写协程收尾） ----
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[WS] peer closed conn=%s err=%v", conn.ID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				if !authed {
					closeWithCode(ws, CloseAuthTimeout, errs.ErrAuthTimeout.EMsg())
				}
				logger.Infof("[WS] read timeout conn=%s authed=%v", conn.ID, authed)
			} else {
				logger.Infof("[WS] read err conn=%s err=%v", conn.ID, rerr)
			}
			break
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		frame, perr := ParseFrame(data)
		if perr != nil {
			// 只打印简短样本
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[WS] ParseFrame err conn=%s err=%v sample=%q len=%d", conn.ID, perr, sample, len(data))
			if !authed {
				closeWithCode(ws, CloseAuthFailed, "auth required")
				break
			}
			continue
		}

		if !authed && frame.Type != FrameAuth {
			logger.Infof("[WS] frame before auth conn=%s type=%s", conn.ID, frame.Type)
			closeWithCode(ws, CloseAuthFailed, "auth required")
			break
		}

		h := g.disp.GetHandler(frame.Type)
		if h == nil {
			if !authed {
				closeWithCode(ws, CloseAuthFailed, "auth required")
				break
			}
			continue
		}

		herr := h.Handle(&GatewayContext{G: g}, frame, conn)
		if frame.Type == FrameAuth {
			if herr != nil {
				logger.Infof("[WS] auth failed conn=%s err=%v", conn.ID, herr)
				closeWithCode(ws, CloseAuthFailed, "auth failed")
				break
			}
			authed = true
			// 进入长连阶段：pong/任意帧均续期
			_ = ws.SetReadDeadline(time.Now().Add(g.conf.PongWait))
			ws.SetPongHandler(func(string) error {
				g.mgr.Touch(conn.ID)
				return ws.SetReadDeadline(time.Now().Add(g.conf.PongWait))
			})
			continue
		}
		if herr != nil {
			logger.Infof("[WS] handler err conn=%s type=%s err=%v", conn.ID, frame.Type, herr)
			continue
		}
		_ = ws.SetReadDeadline(time.Now().Add(g.conf.PongWait))
	}

	// ---- 退出阶段：注销、停写协程 ----
	user, last := g.mgr.Drop(conn.ID)
	if user != "" {
		logger.Infof("[WS] closed conn=%s user=%s last=%v", conn.ID, user, last)
	}
	<-writerDone // 等写协程真正关闭
}

// writeLoop 单写协程：业务帧 + 周期 ping
func (g *Gateway) writeLoop(c *Conn, finished chan struct{}) {
	defer close(finished)
	ping := time.NewTicker(g.conf.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-c.Done():
			return
		case data := <-c.SendChan:
			_ = c.WS.SetWriteDeadline(time.Now().Add(g.conf.WriteWait))
			if err := c.WS.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Infof("[WS] write err conn=%s err=%v", c.ID, err)
				closeQuiet(c.WS) // 让读循环尽快退出
				return
			}
		case <-ping.C:
			if err := c.WS.WriteControl(websocket.PingMessage, nil, time.Now().Add(g.conf.WriteWait)); err != nil {
				closeQuiet(c.WS)
				return
			}
		}
	}
}
