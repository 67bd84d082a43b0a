package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// Dispatcher runs one session action for an actor.
type Dispatcher interface {
	Dispatch(ctx context.Context, actor domain.Actor, req app.Request) app.Result
}

// WSHandler serves the session RPC over a websocket: every inbound frame is one request
// answered by exactly one reply frame, in order. Nothing is pushed unsolicited.
type WSHandler struct {
	dispatcher Dispatcher
	logger     *log.Logger
	upgrader   websocket.Upgrader
}

func NewWSHandler(dispatcher Dispatcher, logger *log.Logger) *WSHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &WSHandler{
		dispatcher: dispatcher,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type wsReply struct {
	ID     string     `json:"id,omitempty"`
	Result app.Result `json:"result"`
}

// ServeWS upgrades an authenticated request and dispatches frames until the client goes away.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	send := make(chan wsReply, 16)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var frame struct {
			ID string `json:"id"`
			app.Request
		}
		reply := wsReply{Result: app.Result{"status": "error", "error": "invalidrequest", "message": "bad json"}}
		if err := json.Unmarshal(raw, &frame); err == nil {
			reply = wsReply{ID: frame.ID, Result: h.dispatcher.Dispatch(r.Context(), actor, frame.Request)}
		}
		select {
		case send <- reply:
		case <-writerDone:
			return
		}
	}

	close(send)
	<-writerDone
}
