package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/BioHazard786/meshroom/internal/peer"
	"github.com/BioHazard786/meshroom/internal/room"
	"github.com/BioHazard786/meshroom/internal/speaking"
)

const refreshInterval = 250 * time.Millisecond

// Session is what the room view reads. *room.Controller implements it.
type Session interface {
	RoomID() string
	LocalID() string
	State() room.State
	Members() []peer.Snapshot
	Speaking() *speaking.Tracker
	Done() <-chan struct{}
}

// StatsFunc reports what has been received from a participant so far.
type StatsFunc func(peerID string) (packets, bytes uint64)

// RoomUI runs the live room view until the user leaves or the session ends.
type RoomUI struct {
	model *roomModel
}

type (
	tickMsg        time.Time
	speakingMsg    speaking.Snapshot
	sessionDoneMsg struct{}
)

type roomModel struct {
	session   Session
	stats     StatsFunc
	spinner   spinner.Model
	speakers  <-chan speaking.Snapshot
	speaking  speaking.Snapshot
	members   []peer.Snapshot
	state     room.State
	startTime time.Time
	left      bool
	quitting  bool
}

// NewRoomUI creates a room view over session. stats may be nil.
func NewRoomUI(session Session, stats StatsFunc) *RoomUI {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &RoomUI{model: &roomModel{
		session:   session,
		stats:     stats,
		spinner:   s,
		speaking:  speaking.Snapshot{},
		state:     session.State(),
		startTime: time.Now(),
	}}
}

// Run blocks until the user presses q, the session ends or ctx is canceled.
func (ui *RoomUI) Run(ctx context.Context) error {
	speakers, unsubscribe := ui.model.session.Speaking().Subscribe()
	defer unsubscribe()
	ui.model.speakers = speakers

	// Inline mode keeps the room info printed above the view visible.
	program := tea.NewProgram(ui.model)

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			program.Quit()
		case <-finished:
		}
	}()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("room view: %w", err)
	}
	return nil
}

// Left reports whether the view ended because the user asked to leave.
func (ui *RoomUI) Left() bool {
	return ui.model.left
}

func (m *roomModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.listenSpeaking(),
		m.waitDone(),
		tick(),
	)
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *roomModel) listenSpeaking() tea.Cmd {
	if m.speakers == nil {
		return nil
	}
	return func() tea.Msg {
		snap, ok := <-m.speakers
		if !ok {
			return nil
		}
		return speakingMsg(snap)
	}
}

func (m *roomModel) waitDone() tea.Cmd {
	return func() tea.Msg {
		<-m.session.Done()
		return sessionDoneMsg{}
	}
}

func (m *roomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.left = true
			m.quitting = true
			return m, tea.Quit
		}

	case sessionDoneMsg:
		m.refresh()
		m.quitting = true
		return m, tea.Quit

	case tickMsg:
		m.refresh()
		return m, tick()

	case speakingMsg:
		m.speaking = speaking.Snapshot(msg)
		return m, m.listenSpeaking()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *roomModel) refresh() {
	m.state = m.session.State()
	m.members = m.session.Members()
}

// participants puts the local participant first, then every link.
func (m *roomModel) participants() []Participant {
	localID := m.session.LocalID()
	rows := make([]Participant, 0, len(m.members)+1)
	if localID != "" {
		rows = append(rows, Participant{
			ID:       localID,
			Local:    true,
			Role:     "-",
			State:    "-",
			Speaking: m.speaking[localID],
		})
	}

	for _, snap := range m.members {
		p := Participant{
			ID:       snap.PeerID,
			Role:     snap.Role.String(),
			State:    snap.State.String(),
			Speaking: m.speaking[snap.PeerID],
		}
		if m.stats != nil {
			p.Packets, p.Bytes = m.stats(snap.PeerID)
		}
		rows = append(rows, p)
	}
	return rows
}

func (m *roomModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	fmt.Fprintf(&b, "\n%s %s  %s\n\n",
		IconRoom,
		TitleStyle.Render(m.session.RoomID()),
		StatusStyle.Render(m.state.String()),
	)

	switch m.state {
	case room.Idle, room.Joining:
		fmt.Fprintf(&b, "%s Waiting for the room roster...\n\n", m.spinner.View())
	default:
		fmt.Fprintf(&b, "%s %d connected  %s %s\n\n",
			IconPeer, m.connected(),
			IconTime, FormatDuration(time.Since(m.startTime)),
		)
	}

	b.WriteString(ParticipantsView(m.participants()))
	b.WriteString("\n\n" + MutedStyle.Render("Press q to leave"))

	return b.String()
}

func (m *roomModel) connected() int {
	n := 0
	for _, snap := range m.members {
		if snap.State == peer.Connected {
			n++
		}
	}
	return n
}
