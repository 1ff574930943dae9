package gateway

import "context"

// Handler processes one client frame type.
type Handler interface {
	Type() string
	Handle(*GatewayContext, *ClientFrame, *Conn) error
}

type GatewayContext struct {
	G *Gateway
}

// AuthProvider turns a session token into an identity. The user module
// provides the production implementation; tests stub it.
type AuthProvider interface {
	Authenticate(ctx context.Context, token string) (userID, sessionID string, err error)
}
