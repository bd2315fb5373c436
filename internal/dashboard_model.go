package internal

import (
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"studyhub/internal/presence"
	"studyhub/internal/stats"
)

const maxLogLines = 50

type logLine struct {
	at     time.Time
	text   string
	system bool
}

// DashboardModel is a terminal view of the live presence list and visit
// counters. Typing a user id and pressing Enter joins that user over the
// dashboard's own connection.
type DashboardModel struct {
	input      textinput.Model
	socketURL  string
	conn       *websocket.Conn
	writeMutex *sync.Mutex
	users      []presence.User
	statistics stats.Record
	log        []logLine
	connected  bool
	connErr    error
	joinedAs   string
	width      int
	now        func() time.Time
}

func NewDashboardModel(socketURL, joinAs string) *DashboardModel {
	input := textinput.New()
	input.Placeholder = "user id to join…"
	input.CharLimit = 64
	input.Prompt = "join> "
	input.Focus()
	if joinAs != "" {
		input.SetValue(joinAs)
	}
	return &DashboardModel{
		input:      input,
		socketURL:  socketURL,
		writeMutex: &sync.Mutex{},
		log:        make([]logLine, 0, maxLogLines),
		now:        time.Now,
	}
}

func (model *DashboardModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, model.connectCmd(), model.snapshotCmd())
}

func (model *DashboardModel) appendLog(text string, system bool) {
	model.log = append(model.log, logLine{at: model.now(), text: text, system: system})
	if over := len(model.log) - maxLogLines; over > 0 {
		model.log = append(model.log[:0], model.log[over:]...)
	}
}

// RunDashboard starts the Bubble Tea program against socketURL.
func RunDashboard(socketURL, joinAs string) error {
	if _, err := snapshotURL(socketURL); err != nil {
		return err
	}
	program := tea.NewProgram(NewDashboardModel(socketURL, joinAs), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
