package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// AccountBadge is the per-account indicator shown in the header bar.
type AccountBadge struct {
	Name      string
	NewMail   int
	Connected bool
	Active    bool
}

// ThreadRow is one rendered line of the thread list.
type ThreadRow struct {
	Subject        string
	From           string
	Date           int64
	Unread         int
	Total          int
	HasAttachments bool
	Starred        bool
	Selected       bool
	Summary        string
}

// Snapshot is an immutable copy of everything one frame shows. The
// coordinator builds it from its state; the render goroutine only reads.
type Snapshot struct {
	AccountName string
	Folder      string
	Badges      []AccountBadge
	Rows        []ThreadRow
	UnreadCount int
	TotalCount  int
	Search      string
	Status      string
	Error       string
	Loading     bool
}

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	badgeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("161")).
			Padding(0, 1)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("57"))

	unreadStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))
)

// buildFrame composes the full screen for one snapshot.
func buildFrame(snap *Snapshot, width, height int) string {
	var b strings.Builder

	b.WriteString(renderHeader(snap, width))
	b.WriteString("\r\n")

	listHeight := height - 3 // header, status, margin
	if listHeight < 1 {
		listHeight = 1
	}
	b.WriteString(renderList(snap, width, listHeight))

	b.WriteString(renderStatus(snap, width))
	return b.String()
}

func renderHeader(snap *Snapshot, width int) string {
	title := fmt.Sprintf("%s — %s", snap.AccountName, snap.Folder)
	if snap.UnreadCount > 0 {
		title += fmt.Sprintf(" (%d unread / %d)", snap.UnreadCount, snap.TotalCount)
	}
	if snap.Loading {
		title += " ⟳"
	}

	var badges []string
	for _, bg := range snap.Badges {
		label := bg.Name
		if !bg.Connected {
			label += " ✗"
		}
		if bg.NewMail > 0 {
			label += fmt.Sprintf(" +%d", bg.NewMail)
		}
		if bg.Active {
			badges = append(badges, headerStyle.Render(label))
		} else if bg.NewMail > 0 {
			badges = append(badges, badgeStyle.Render(label))
		} else {
			badges = append(badges, dimStyle.Render(label))
		}
	}

	left := headerStyle.Render(title)
	right := strings.Join(badges, " ")
	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}

func renderList(snap *Snapshot, width, height int) string {
	var b strings.Builder

	if len(snap.Rows) == 0 {
		b.WriteString(dimStyle.Render("  no messages"))
		b.WriteString("\r\n")
		height--
	}

	for i, row := range snap.Rows {
		if i >= height {
			break
		}
		b.WriteString(renderRow(row, width))
		b.WriteString("\r\n")
	}
	for i := len(snap.Rows); i < height; i++ {
		b.WriteString("\r\n")
	}
	return b.String()
}

func renderRow(row ThreadRow, width int) string {
	marker := " "
	if row.Unread > 0 {
		marker = "●"
	}
	star := " "
	if row.Starred {
		star = "★"
	}
	clip := " "
	if row.HasAttachments {
		clip = "📎"
	}

	count := ""
	if row.Total > 1 {
		count = fmt.Sprintf(" (%d)", row.Total)
	}

	date := time.Unix(row.Date, 0).Format("Jan 02")
	line := fmt.Sprintf("%s %s %s %-20.20s %s%s", marker, star, clip, row.From, row.Subject, count)
	if row.Summary != "" {
		line += dimStyle.Render("  · " + row.Summary)
	}

	pad := width - lipgloss.Width(line) - len(date) - 2
	if pad < 1 {
		pad = 1
	}
	line += strings.Repeat(" ", pad) + dimStyle.Render(date)

	switch {
	case row.Selected:
		return selectedStyle.Render(line)
	case row.Unread > 0:
		return unreadStyle.Render(line)
	default:
		return line
	}
}

func renderStatus(snap *Snapshot, width int) string {
	if snap.Error != "" {
		return errorStyle.Render(truncate("! "+snap.Error, width))
	}
	line := snap.Status
	if snap.Search != "" {
		line = "/" + snap.Search + "  " + line
	}
	return statusStyle.Render(truncate(line, width))
}

// truncate shortens s to at most width runes. Cutting on rune
// boundaries keeps multi-byte subjects from ending in mojibake.
func truncate(s string, width int) string {
	if width <= 0 || len(s) <= width {
		return s
	}
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	if width <= 1 {
		return string(runes[:width])
	}
	return string(runes[:width-1]) + "…"
}
