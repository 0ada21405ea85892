// Package chatapi serves the REST read model next to the realtime gateway:
// the conversation list, a conversation history (which marks it seen), and
// the online snapshot.
package chatapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"courier/cmd/internal/auth/token"
	"courier/cmd/internal/realtime"
	v1 "courier/shared/contracts/realtime/v1"

	"github.com/samber/lo"
)

type principalKey struct{}

// Handler wires the read endpoints to the delivery engine and presence.
type Handler struct {
	log      *slog.Logger
	auth     realtime.Authenticator
	engine   *realtime.Engine
	presence *realtime.Presence
}

// NewHandler constructs a Handler. Every collaborator is required.
func NewHandler(log *slog.Logger, auth realtime.Authenticator, engine *realtime.Engine, presence *realtime.Presence) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if auth == nil || engine == nil || presence == nil {
		return nil, errors.New("chatapi: authenticator, engine and presence are required")
	}
	return &Handler{log: log, auth: auth, engine: engine, presence: presence}, nil
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.Handle("GET /api/messages/chats", h.authenticated(h.handleChats))
	mux.Handle("GET /api/messages/{counterpartId}", h.authenticated(h.handleConversation))
	mux.Handle("GET /api/presence", h.authenticated(h.handlePresence))
}

// ChatSummary is one entry of GET /api/messages/chats.
type ChatSummary struct {
	UserID      string            `json:"userId"`
	LastMessage v1.MessagePayload `json:"lastMessage"`
}

type chatsResponse struct {
	Success bool          `json:"success"`
	Chats   []ChatSummary `json:"chats"`
}

type messagesResponse struct {
	Success  bool                `json:"success"`
	Messages []v1.MessagePayload `json:"messages"`
}

type presenceResponse struct {
	Success bool     `json:"success"`
	UserIDs []string `json:"userIds"`
}

func (h *Handler) handleChats(w http.ResponseWriter, r *http.Request) {
	me := principal(r.Context())

	summaries, err := h.engine.ListConversations(r.Context(), me.ID)
	if err != nil {
		h.writeEngineError(w, "chats", err)
		return
	}

	writeJSON(w, http.StatusOK, chatsResponse{
		Success: true,
		Chats: lo.Map(summaries, func(s realtime.ConversationSummary, _ int) ChatSummary {
			return ChatSummary{UserID: s.CounterpartID, LastMessage: s.LastMessage.ToWire()}
		}),
	})
}

func (h *Handler) handleConversation(w http.ResponseWriter, r *http.Request) {
	me := principal(r.Context())
	counterpart := strings.TrimSpace(r.PathValue("counterpartId"))

	history, err := h.engine.MarkSeenByRead(r.Context(), me.ID, counterpart)
	if err != nil {
		h.writeEngineError(w, "conversation", err)
		return
	}

	writeJSON(w, http.StatusOK, messagesResponse{
		Success:  true,
		Messages: lo.Map(history, func(m realtime.Message, _ int) v1.MessagePayload { return m.ToWire() }),
	})
}

func (h *Handler) handlePresence(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, presenceResponse{Success: true, UserIDs: h.presence.Online()})
}

// authenticated resolves the bearer credential before next runs.
func (h *Handler) authenticated(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, err := h.auth.Verify(r.Context(), token.FromRequest(r))
		if err != nil {
			code := "unauthorized"
			if errors.Is(err, token.ErrTokenExpired) {
				code = "token_expired"
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="courier"`)
			writeError(w, http.StatusUnauthorized, code, "authentication required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, ident)))
	})
}

func principal(ctx context.Context) token.Identity {
	ident, _ := ctx.Value(principalKey{}).(token.Identity)
	return ident
}

func (h *Handler) writeEngineError(w http.ResponseWriter, route string, err error) {
	switch {
	case realtime.IsInvalidReference(err):
		writeError(w, http.StatusBadRequest, "invalid_reference", realtime.PublicMessage(err))
	case realtime.IsInvalidPayload(err):
		writeError(w, http.StatusBadRequest, "invalid_payload", realtime.PublicMessage(err))
	case realtime.IsStorageUnavailable(err):
		h.log.Error("chatapi.store.fail", "route", route, "err", err)
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", realtime.PublicMessage(err))
	default:
		h.log.Error("chatapi.fail", "route", route, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
