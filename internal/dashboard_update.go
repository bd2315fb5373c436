package internal

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"studyhub/internal/presence"
)

func (model *DashboardModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		if typedMessage.Type == tea.KeyCtrlC || typedMessage.Type == tea.KeyEsc {
			model.closeConn()
			return model, tea.Quit
		}
		if typedMessage.Type == tea.KeyEnter {
			userID := strings.TrimSpace(model.input.Value())
			if userID == "" {
				return model, nil
			}
			if !model.connected {
				model.appendLog("Not connected yet, try again in a moment.", true)
				return model, nil
			}
			model.input.SetValue("")
			return model, model.sendJoinCmd(userID)
		}
		var cmd tea.Cmd
		model.input, cmd = model.input.Update(typedMessage)
		return model, cmd

	case tea.WindowSizeMsg:
		model.width = typedMessage.Width
		return model, nil

	case connectedMsg:
		model.conn = typedMessage.conn
		model.connected = true
		model.connErr = nil
		model.appendLog("Connected to "+model.socketURL, true)
		return model, readOnceCmd(typedMessage.conn)

	case connectFailedMsg:
		model.connected = false
		model.connErr = typedMessage.err
		return model, model.scheduleReconnect()

	case disconnectedMsg:
		model.connected = false
		model.connErr = typedMessage.err
		model.joinedAs = ""
		if model.conn != nil {
			_ = model.conn.Close()
			model.conn = nil
		}
		model.appendLog("Connection lost, reconnecting…", true)
		return model, model.scheduleReconnect()

	case reconnectMsg:
		if model.connected {
			return model, nil
		}
		return model, tea.Batch(model.connectCmd(), model.snapshotCmd())

	case snapshotMsg:
		if typedMessage.err != nil {
			model.appendLog(fmt.Sprintf("Could not load snapshot: %v", typedMessage.err), true)
			return model, nil
		}
		model.users = typedMessage.event.ListUser
		model.statistics = typedMessage.event.Statistical
		return model, nil

	case presenceMsg:
		model.applyEvent(presence.Event(typedMessage))
		if model.conn == nil {
			return model, nil
		}
		return model, readOnceCmd(model.conn)

	case noticeMsg:
		model.appendLog(fmt.Sprintf("Server: %s", typedMessage.Message), true)
		if model.conn == nil {
			return model, nil
		}
		return model, readOnceCmd(model.conn)

	case sentMsg:
		if typedMessage.err != nil {
			model.appendLog(fmt.Sprintf("Join %s failed: %v", typedMessage.userID, typedMessage.err), true)
			return model, nil
		}
		model.joinedAs = typedMessage.userID
		return model, nil
	}
	return model, nil
}

// applyEvent replaces the list and counters and logs who arrived or went.
func (model *DashboardModel) applyEvent(event presence.Event) {
	before := make(map[string]presence.User, len(model.users))
	for _, u := range model.users {
		before[u.ID] = u
	}
	after := make(map[string]struct{}, len(event.ListUser))
	for _, u := range event.ListUser {
		after[u.ID] = struct{}{}
		if _, ok := before[u.ID]; !ok {
			model.appendLog(displayName(u)+" joined", false)
		}
	}
	for _, u := range model.users {
		if _, ok := after[u.ID]; !ok {
			model.appendLog(displayName(u)+" left", false)
		}
	}
	model.users = event.ListUser
	model.statistics = event.Statistical
}

func displayName(u presence.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}
