// Package handlers provides HTTP request handlers for the stridescan API.
// This file streams scan progress over WebSocket connections.
package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anstrom/stridescan/internal/api/middleware"
	"github.com/anstrom/stridescan/internal/logging"
	"github.com/anstrom/stridescan/internal/services"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS middleware governs which origins reach the API.
		return true
	},
}

// WebSocketMessage is the envelope for every streamed event.
type WebSocketMessage struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      services.Event `json:"data"`
	RequestID string         `json:"request_id,omitempty"`
}

// StreamHandler streams the open ports of a scan as they are found,
// followed by one completion message.
type StreamHandler struct {
	service ScanService
	logger  *logging.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(service ScanService, logger *logging.Logger) *StreamHandler {
	return &StreamHandler{
		service: service,
		logger:  logger.WithFields("handler", "websocket"),
	}
}

// StreamScan handles GET /api/v1/scans/{id}/ws.
func (h *StreamHandler) StreamScan(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r)

	id, err := extractUUIDFromPath(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	// Subscribe before upgrading so unknown scans get a plain 404.
	events, cancel, err := h.service.Subscribe(id.String())
	if err != nil {
		writeError(w, r, statusForError(err), err)
		return
	}
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "request_id", requestID, "error", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			h.logger.Debug("Error closing WebSocket connection", "request_id", requestID, "error", err)
		}
	}()

	h.logger.Debug("WebSocket client connected", "request_id", requestID, "scan_id", id)

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.logger.Error("Failed to set read deadline", "request_id", requestID, "error", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	closed := make(chan struct{})
	go h.readPump(conn, requestID, closed)

	h.writePump(conn, events, requestID, closed)
}

// readPump drains client frames so pongs and close frames are processed.
func (h *StreamHandler) readPump(conn *websocket.Conn, requestID string, closed chan<- struct{}) {
	defer close(closed)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket unexpected close", "request_id", requestID, "error", err)
			}
			return
		}
	}
}

// writePump forwards events until the scan completes or the client leaves.
func (h *StreamHandler) writePump(conn *websocket.Conn, events <-chan services.Event, requestID string, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				h.closeNormally(conn, requestID)
				return
			}
			msg := WebSocketMessage{
				Type:      ev.Type,
				Timestamp: time.Now().UTC(),
				Data:      ev,
				RequestID: requestID,
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("Write failed, closing connection", "request_id", requestID, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debug("Ping failed, closing connection", "request_id", requestID, "error", err)
				return
			}
		case <-closed:
			return
		}
	}
}

func (h *StreamHandler) closeNormally(conn *websocket.Conn, requestID string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scan finished")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		h.logger.Debug("Failed to send close frame", "request_id", requestID, "error", err)
	}
}
