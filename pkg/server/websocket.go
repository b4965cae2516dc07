package server

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/vheckthor/goose-sub001/pkg/agent"
	"github.com/vheckthor/goose-sub001/pkg/message"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin checks are deferred to the deployment proxy.
	},
}

// inboundMessage is what clients send over the chat websocket.
type inboundMessage struct {
	Type string `json:"type"`

	// Type "message": a user turn.
	Content string `json:"content,omitempty"`

	// Type "confirmation": a decision on a pending tool request.
	ID       string `json:"id,omitempty"`
	Approved bool   `json:"approved,omitempty"`

	// Type "tool_result": a frontend-executed tool outcome.
	Result []message.Content `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "Missing session ID", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	sess, err := s.manager.Load(id)
	if err != nil {
		slog.Error("Failed to load session", "id", id, "error", err)
		ws.WriteJSON(map[string]string{"error": "session not found"})
		return
	}
	defer sess.Close()

	// Replay history so a reconnecting client catches up.
	history, err := sess.Messages()
	if err != nil {
		slog.Error("Failed to read session history", "id", id, "error", err)
		return
	}
	var writeMu sync.Mutex
	send := func(msg message.Message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return ws.WriteJSON(msg)
	}
	for _, msg := range history {
		if err := send(msg); err != nil {
			return
		}
	}

	// The reply stream is consumed on its own goroutine so this loop stays
	// free to deliver confirmations and frontend tool results mid-reply.
	var (
		replyWG  sync.WaitGroup
		replying bool
		histMu   sync.Mutex
	)
	defer replyWG.Wait()

	for {
		var in inboundMessage
		if err := ws.ReadJSON(&in); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			slog.Error("WebSocket read error", "error", err)
			return
		}

		switch in.Type {
		case "confirmation":
			if err := s.agent.SubmitConfirmation(agent.Confirmation{ID: in.ID, Approved: in.Approved}); err != nil {
				slog.Warn("Dropping confirmation", "id", in.ID, "error", err)
			}
		case "tool_result":
			if err := s.agent.SubmitToolResult(agent.ToolResult{ID: in.ID, Content: in.Result, Error: in.Error}); err != nil {
				slog.Warn("Dropping tool result", "id", in.ID, "error", err)
			}
		case "message":
			if in.Content == "" {
				continue
			}
			histMu.Lock()
			if replying {
				histMu.Unlock()
				send(message.NewAssistant("A reply is already in progress. Wait for it to finish before sending another message."))
				continue
			}
			userMsg := message.NewUser(in.Content)
			if err := sess.AppendMessage(userMsg); err != nil {
				histMu.Unlock()
				slog.Error("Failed to persist user message", "error", err)
				return
			}
			history = append(history, userMsg)
			snapshot := append([]message.Message(nil), history...)
			replying = true
			histMu.Unlock()

			if err := send(userMsg); err != nil {
				return
			}
			stream, err := s.agent.Reply(r.Context(), snapshot)
			if err != nil {
				histMu.Lock()
				replying = false
				histMu.Unlock()
				slog.Error("Reply rejected", "error", err)
				ws.WriteJSON(map[string]string{"error": err.Error()})
				continue
			}
			replyWG.Add(1)
			go func() {
				defer replyWG.Done()
				for msg := range stream {
					if err := sess.AppendMessage(msg); err != nil {
						slog.Error("Failed to persist reply", "error", err)
					}
					histMu.Lock()
					history = append(history, msg)
					histMu.Unlock()
					if err := send(msg); err != nil {
						break
					}
				}
				histMu.Lock()
				replying = false
				histMu.Unlock()
			}()
		default:
			slog.Debug("Ignoring unknown websocket message", "type", in.Type)
		}
	}
}
