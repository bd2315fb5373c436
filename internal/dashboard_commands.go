package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"studyhub/internal/presence"
)

type (
	connectedMsg     struct{ conn *websocket.Conn }
	connectFailedMsg struct{ err error }
	disconnectedMsg  struct{ err error }
	reconnectMsg     struct{}
	presenceMsg      presence.Event
	noticeMsg        notice
	snapshotMsg      struct {
		event presence.Event
		err   error
	}
	sentMsg struct {
		userID string
		err    error
	}
)

// inboundFrame covers both presence events and per-connection notices.
type inboundFrame struct {
	presence.Event
	Message string `json:"message"`
}

func (model *DashboardModel) scheduleReconnect() tea.Cmd {
	const retryDelay = 2 * time.Second
	return tea.Tick(retryDelay, func(time.Time) tea.Msg {
		return reconnectMsg{}
	})
}

func (model *DashboardModel) connectCmd() tea.Cmd {
	socketURL := model.socketURL
	return func() tea.Msg {
		conn, _, err := websocket.DefaultDialer.Dial(socketURL, http.Header{})
		if err != nil {
			return connectFailedMsg{err: err}
		}
		return connectedMsg{conn: conn}
	}
}

// snapshotCmd fetches the current state over REST, since the socket only
// carries changes.
func (model *DashboardModel) snapshotCmd() tea.Cmd {
	socketURL := model.socketURL
	return func() tea.Msg {
		endpoint, err := snapshotURL(socketURL)
		if err != nil {
			return snapshotMsg{err: err}
		}
		client := &http.Client{Timeout: 3 * time.Second}
		resp, err := client.Get(endpoint)
		if err != nil {
			return snapshotMsg{err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return snapshotMsg{err: fmt.Errorf("snapshot: %s", resp.Status)}
		}
		var event presence.Event
		if err := json.NewDecoder(resp.Body).Decode(&event); err != nil {
			return snapshotMsg{err: err}
		}
		return snapshotMsg{event: event}
	}
}

func readOnceCmd(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return disconnectedMsg{err: err}
		}
		if messageType != websocket.TextMessage {
			return nil
		}
		return decodeFrame(payload)
	}
}

func decodeFrame(payload []byte) tea.Msg {
	var frame inboundFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return noticeMsg{Event: noticeBadMessage, Message: string(payload)}
	}
	if strings.HasPrefix(frame.Name, "presence-") {
		return presenceMsg(frame.Event)
	}
	return noticeMsg{Event: frame.Name, Message: frame.Message}
}

func (model *DashboardModel) sendJoinCmd(userID string) tea.Cmd {
	conn := model.conn
	writeMutex := model.writeMutex
	return func() tea.Msg {
		if conn == nil {
			return sentMsg{userID: userID, err: fmt.Errorf("websocket not connected")}
		}
		encoded, err := json.Marshal(clientMessage{Event: inboundJoin, UserID: userID})
		if err != nil {
			return sentMsg{userID: userID, err: err}
		}
		writeMutex.Lock()
		defer writeMutex.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return sentMsg{userID: userID, err: conn.WriteMessage(websocket.TextMessage, encoded)}
	}
}

func (model *DashboardModel) closeConn() {
	if model.conn == nil {
		return
	}
	model.writeMutex.Lock()
	_ = model.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "dashboard quit"))
	model.writeMutex.Unlock()
	_ = model.conn.Close()
	model.conn = nil
}

// snapshotURL turns ws(s)://host[:port]/socket into http(s)://host[:port]/v1/realtime.
func snapshotURL(socketURL string) (string, error) {
	parsed, err := url.Parse(socketURL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	default:
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	parsed.Path = "/v1/realtime"
	parsed.RawQuery = ""
	return parsed.String(), nil
}
