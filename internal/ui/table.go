package ui

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	prettytable "github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Participant is one row of the room table.
type Participant struct {
	ID       string
	Local    bool
	Role     string
	State    string
	Speaking bool
	Packets  uint64
	Bytes    uint64
}

// ParticipantsView renders the room members using lipgloss/table. Rows of
// participants who are speaking are highlighted.
func ParticipantsView(rows []Participant) string {
	if len(rows) == 0 {
		return MutedStyle.Render("Nobody here yet")
	}

	headers := []string{"", "Participant", "Role", "Link", "Packets", "Received"}

	cells := make([][]string, 0, len(rows))
	for _, p := range rows {
		icon := IconQuiet
		if p.Speaking {
			icon = IconSpeaking
		}

		name := shortID(p.ID)
		if p.Local {
			name += " (you)"
		}

		packets, received := "-", "-"
		if !p.Local {
			packets = strconv.FormatUint(p.Packets, 10)
			received = formatBytes(p.Bytes)
		}

		cells = append(cells, []string{icon, name, p.Role, p.State, packets, received})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers(headers...).
		Rows(cells...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return TableHeaderStyle
			case row >= 0 && row < len(rows) && rows[row].Speaking:
				return TableSpeakingStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		})

	return tbl.Render()
}

type RoomInfo struct {
	RoomID   string
	RoomLink string
}

func NewRoomInfo(roomID, roomLink string) *RoomInfo {
	return &RoomInfo{
		RoomID:   roomID,
		RoomLink: roomLink,
	}
}

func (r *RoomInfo) View() string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(Success).
		Padding(1, 2)

	content := fmt.Sprintf("%s Joining room\n\n%s Room ID:    %s\n%s Room Link:  %s",
		IconRoom,
		IconCopy, BoldStyle.Foreground(Primary).Render(r.RoomID),
		IconWeb, MutedStyle.Render(r.RoomLink),
	)

	return boxStyle.Render(content)
}

// SessionSummary is what the join command prints once the session ends.
type SessionSummary struct {
	RoomID       string
	LocalID      string
	Participants int
	Duration     string
	State        string
	Reason       string
	Packets      uint64
	Bytes        uint64
}

// SessionSummaryView renders the summary with go-pretty.
func SessionSummaryView(title string, s SessionSummary) string {
	reason := s.Reason
	if reason == "" {
		reason = "left"
	}

	t := prettytable.NewWriter()
	t.SetTitle(title)
	t.AppendHeader(prettytable.Row{"Metric", "Value"})
	t.AppendRows([]prettytable.Row{
		{"Room", s.RoomID},
		{"Your ID", s.LocalID},
		{"Participants Seen", s.Participants},
		{"Duration", s.Duration},
		{"Final State", s.State},
		{"Ended By", reason},
		{"Packets Received", s.Packets},
		{"Data Received", formatBytes(s.Bytes)},
	})
	t.SetStyle(prettytable.StyleRounded)
	t.Style().Title.Colors = text.Colors{text.FgCyan, text.Bold}
	return t.Render()
}

func RenderSessionSummary(title string, s SessionSummary) {
	fmt.Println(SessionSummaryView(title, s))
}
