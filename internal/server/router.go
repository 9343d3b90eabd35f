package server

import (
	"log/slog"

	"github.com/caspian-yx/socket-chat-app/internal/protocol"
)

// Handler processes one request frame. A nil response with nil error means
// the command acknowledges through events only (or not at all).
type Handler func(c *Conn, req *protocol.Envelope) (*protocol.Envelope, error)

// Router dispatches request frames by command. Registration happens during
// bootstrap before the accept loop starts, so dispatch needs no locking.
type Router struct {
	handlers map[string]Handler
}

func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

func (r *Router) Register(command string, h Handler) {
	r.handlers[command] = h
}

// Dispatch runs the handler for the frame's command. Unknown commands are
// logged and dropped without closing the connection.
func (r *Router) Dispatch(c *Conn, req *protocol.Envelope) (*protocol.Envelope, error) {
	h, ok := r.handlers[req.Command]
	if !ok {
		slog.Debug("unknown command ignored", "component", "router",
			"command", req.Command, "conn_id", c.ID)
		return nil, nil
	}
	return h(c, req)
}
