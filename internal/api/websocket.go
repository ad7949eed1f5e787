package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nugget/jarvis/internal/speech"
)

// wsMessage is the frame format in both directions.
type wsMessage struct {
	Text     string `json:"text,omitempty"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// handleWebSocket gives each connection its own conversation, closed
// when the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	convID := "ws-" + uuid.New().String()
	defer s.agent.Close(convID)
	logger := s.logger.With("conversation", convID)
	logger.Info("websocket connected", "remote", r.RemoteAddr)

	ctx := r.Context()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "error", err)
			}
			logger.Info("websocket disconnected")
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.writeFrame(conn, wsMessage{Error: "invalid message format"})
			continue
		}
		if strings.TrimSpace(msg.Text) == "" {
			s.writeFrame(conn, wsMessage{Error: "text is required"})
			continue
		}

		reply := s.agent.Process(ctx, convID, msg.Text)
		s.writeFrame(conn, wsMessage{Response: speech.PlainText(reply)})
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, msg wsMessage) {
	if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		s.logger.Debug("failed to set websocket write deadline", "error", err)
	}
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Debug("websocket write failed", "error", err)
	}
}
