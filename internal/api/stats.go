package api

import (
	"log/slog"
	"net/http"

	"github.com/caspian-yx/socket-chat-app/internal/db"
	"github.com/caspian-yx/socket-chat-app/internal/server"
)

type StatsHandler struct {
	registry *server.Registry
	users    *db.UserRepository
	messages *db.MessageRepository
	rooms    *db.RoomRepository
}

func NewStatsHandler(registry *server.Registry, users *db.UserRepository, messages *db.MessageRepository, rooms *db.RoomRepository) *StatsHandler {
	return &StatsHandler{registry: registry, users: users, messages: messages, rooms: rooms}
}

func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	usersTotal, err := h.users.Count()
	if err != nil {
		slog.Error("stats query failed", "component", "api", "error", err)
		internalError(w)
		return
	}
	messagesTotal, err := h.messages.Count()
	if err != nil {
		slog.Error("stats query failed", "component", "api", "error", err)
		internalError(w)
		return
	}
	roomsTotal, err := h.rooms.Count()
	if err != nil {
		slog.Error("stats query failed", "component", "api", "error", err)
		internalError(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users_total":    usersTotal,
		"messages_total": messagesTotal,
		"rooms_total":    roomsTotal,
		"users_online":   h.registry.OnlineCount(),
	})
}
