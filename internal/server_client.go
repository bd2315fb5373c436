package internal

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 8192
	sendBuffer = 256
)

// Client is one websocket connection. Its id is the transport handle the
// presence service keys the session by.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
}

func newClient(id string, conn *websocket.Conn, limiter *rate.Limiter) *Client {
	return &Client{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		limiter: limiter,
	}
}

// readPump handles inbound events one at a time, so a connection's leave can
// never overtake its own join.
func (client *Client) readPump(s *Server) {
	defer func() {
		s.hub.Unregister(client)
		client.conn.Close()
		s.presence.HandleLeave(client.id)
		s.metrics.DecConn()
		s.logger.Debug("websocket closed", zap.String("conn_id", client.id))
	}()
	client.conn.SetReadLimit(maxMsgSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read", zap.String("conn_id", client.id), zap.Error(err))
			}
			break
		}
		if !client.limiter.Allow() {
			s.metrics.RateLimited("websocket")
			s.logger.Warn("websocket event rate limited", zap.String("conn_id", client.id))
			s.hub.sendTo(client, encodeNotice(noticeRateLimited, "too many events, slow down"))
			continue
		}
		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.hub.sendTo(client, encodeNotice(noticeBadMessage, "payload must be a JSON object"))
			continue
		}
		switch msg.Event {
		case inboundJoin:
			userID := strings.TrimSpace(msg.UserID)
			if userID == "" {
				s.hub.sendTo(client, encodeNotice(noticeBadMessage, "userId is required"))
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.lookupTimeout)
			s.presence.HandleJoin(ctx, userID, client.id)
			cancel()
		default:
			s.hub.sendTo(client, encodeNotice(noticeBadMessage, "unknown event "+msg.Event))
		}
	}
}

func (client *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// the hub closed the channel
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
