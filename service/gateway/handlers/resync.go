package handlers

import (
	"context"
	"time"

	"GotMail/logger"
	"GotMail/service/gateway"
	"GotMail/tools/errs"
)

type ResyncHandler struct{}

func NewResyncHandler() gateway.Handler { return &ResyncHandler{} }

func (h *ResyncHandler) Type() string { return gateway.FrameResync }

// Handle replays the buffered tail after last_sequence, in order. Any
// range the buffer cannot serve (evicted, expired, bogus cursor, buffer
// unreachable) turns into resync_required: the client refetches mailbox
// state over HTTP instead.
func (h *ResyncHandler) Handle(ctx *gateway.GatewayContext, f *gateway.ClientFrame, conn *gateway.Conn) error {
	rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	events, err := ctx.G.Replay().EventsSince(rctx, conn.UserID, f.LastSequence)
	if err != nil {
		if !errs.ErrReplayGap.Is(err) {
			logger.Warnf("[resync] buffer read failed user=%s err=%v", conn.UserID, err)
		}
		conn.Push(gateway.BuildResyncRequired())
		return nil
	}

	for _, e := range events {
		if !conn.Push(gateway.BuildEvent(e)) {
			// Queue full mid-replay: the client would see a hole, so
			// make it start over instead.
			conn.Push(gateway.BuildResyncRequired())
			logger.Warnf("[resync] send queue full user=%s conn=%s", conn.UserID, conn.ID)
			return nil
		}
	}
	logger.Infof("[resync] replayed user=%s conn=%s since=%d n=%d", conn.UserID, conn.ID, f.LastSequence, len(events))
	return nil
}
