package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/sweeney/course-board/internal/logic"
)

const (
	writeWait    = 5 * time.Second
	maxReadBytes = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// wsSink writes fanout messages to one websocket connection. gorilla
// allows a single concurrent writer, so the fanout sender and the pong
// reply share mu.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSink) Send(msg logic.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(msg)
}

func (s *wsSink) sendText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// Close sends a close frame and closes the connection, which ends the
// handler's read loop.
func (s *wsSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return s.conn.Close()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		log.Debugf("web: websocket upgrade: %v", err)
		return
	}
	conn.SetReadLimit(maxReadBytes)

	sink := &wsSink{conn: conn}
	h, err := s.cfg.Board.Subscribe(r.Context(), sink, logic.NewHello(s.cfg.Title))
	if err != nil {
		log.Warnf("web: websocket subscribe: %v", err)
		sink.Close()
		return
	}
	logger := log.WithFields(log.Fields{"subscriber": h.ID(), "remote": r.RemoteAddr})
	logger.Debug("web: websocket client connected")
	defer func() {
		s.cfg.Board.Unsubscribe(h)
		logger.Debug("web: websocket client disconnected")
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt == websocket.TextMessage && string(data) == "ping" {
			if err := sink.sendText("pong"); err != nil {
				return
			}
		}
	}
}
