package internal

import (
	"encoding/json"

	"studyhub/internal/presence"
)

// Inbound websocket event names.
const (
	inboundJoin = "join"
)

// Outbound notices sent to a single connection.
const (
	noticeRateLimited = "rate-limited"
	noticeBadMessage  = "bad-message"
)

// clientMessage is the envelope a listener sends over the socket.
type clientMessage struct {
	Event  string `json:"event"`
	UserID string `json:"userId"`
}

type notice struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// presenceRequest is the body of the REST join and out calls.
type presenceRequest struct {
	ID string `json:"id"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Online  int    `json:"online"`
	Conns   int    `json:"connections"`
}

func encodeEvent(event presence.Event) ([]byte, error) {
	if event.ListUser == nil {
		event.ListUser = []presence.User{}
	}
	return json.Marshal(event)
}

func encodeNotice(name, message string) []byte {
	payload, _ := json.Marshal(notice{Event: name, Message: message})
	return payload
}

// httpHandle is the transport handle REST joins are registered under, so the
// matching out call can find them.
func httpHandle(userID string) string {
	return "http:" + userID
}
