package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// upgrader accepts display(node) websocket connections from any origin;
// this control surface is assumed to sit behind an operator-trusted
// network boundary, the same posture the teacher's own internal tooling
// takes for its live RSSI/winner view.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const displayWriteTimeout = 5 * time.Second

// handleDisplay implements display(node): a websocket streaming one JSON
// frame per vote tick with each client's current RSSI and the winner
// (spec.md §6).
func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	node, err := parseNode(chi.URLParam(r, "node"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, ok := s.state.Instance(node)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown node")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("display websocket upgrade failed", "node", node, "err", err)
		return
	}
	defer conn.Close()

	subID := uuid.NewString()
	s.logger.Info("display subscriber connected", "node", node, "subscriber", subID)
	defer s.logger.Info("display subscriber disconnected", "node", node, "subscriber", subID)

	frames, cancel := in.SubscribeDisplay()
	defer cancel()

	for frame := range frames {
		conn.SetWriteDeadline(time.Now().Add(displayWriteTimeout))
		data, err := json.Marshal(frame)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
