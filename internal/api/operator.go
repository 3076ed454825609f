package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/robot-control/robotd/internal/robot"
)

const (
	operatorReadLimit = 4096
	operatorPingEvery = time.Second
	// A driver station that misses two pings is gone.
	operatorPongWait = 2 * operatorPingEvery
)

// handleOperator handles GET /operator. The driver station sends one JSON
// OperatorFrame per message; the robot keeps the latest. When the socket
// closes, input returns to neutral.
func (s *Server) handleOperator(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("Operator websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	defer s.robot.SetOperator(robot.OperatorFrame{})

	logger := s.logger.With("remote", r.RemoteAddr)
	logger.Info("Driver station connected")

	conn.SetReadLimit(operatorReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(operatorPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(operatorPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(operatorPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(operatorPingEvery)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info("Driver station disconnected")
			} else {
				logger.Warn("Driver station connection lost", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(operatorPongWait))

		var frame robot.OperatorFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			logger.Debug("Ignoring malformed operator frame", "error", err)
			continue
		}
		s.robot.SetOperator(frame)
	}
}
