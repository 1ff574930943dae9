package handlers

import (
	"GotMail/service/gateway"
)

type PingHandler struct{}

func NewPingHandler() gateway.Handler { return &PingHandler{} }

func (h *PingHandler) Type() string { return gateway.FramePing }

func (h *PingHandler) Handle(_ *gateway.GatewayContext, _ *gateway.ClientFrame, conn *gateway.Conn) error {
	conn.Push(gateway.BuildPong())
	return nil
}

// RegisterAll wires the standard frame handlers into a dispatcher.
func RegisterAll(d *gateway.Dispatcher) {
	d.Register(NewAuthHandler())
	d.Register(NewResyncHandler())
	d.Register(NewPingHandler())
}
