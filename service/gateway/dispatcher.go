package gateway

import (
	"fmt"

	"GotMail/logger"
)

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Type()] = h }

func (d *Dispatcher) Dispatch(ctx *GatewayContext, f *ClientFrame, conn *Conn) error {
	h, ok := d.handlers[f.Type]
	if !ok {
		return fmt.Errorf("no handler for type=%s", f.Type)
	}
	return h.Handle(ctx, f, conn)
}

func (d *Dispatcher) GetHandler(frameType string) Handler {
	h, ok := d.handlers[frameType]
	if !ok {
		logger.Infof("no handler for type=%s", frameType)
		return nil
	}
	return h
}
