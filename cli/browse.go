package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"pdsnotes/models"
	"pdsnotes/reconciler"
)

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse cached notes interactively",
	Long: `Browse shows the cached notes in a terminal UI. Keys: up/down or j/k to
move, enter to read, esc to go back, r to refresh from the server, q to quit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			p := tea.NewProgram(newBrowseModel(ctx, a.rec), tea.WithAltScreen(),
				tea.WithInput(cmd.InOrStdin()), tea.WithOutput(cmd.OutOrStdout()))
			_, err := p.Run()
			return err
		})
	},
}

// refreshedMsg carries the outcome of a background refresh.
type refreshedMsg struct{ err error }

// browseModel is the bubbletea model behind the browse command.
type browseModel struct {
	ctx context.Context
	rec *reconciler.Reconciler

	notes   []*models.Note
	cursor  int
	reading bool
	status  string

	refreshing bool
	spin       spinner.Model
	vp         viewport.Model
	width      int
	height     int
}

func newBrowseModel(ctx context.Context, rec *reconciler.Reconciler) browseModel {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	return browseModel{
		ctx:    ctx,
		rec:    rec,
		notes:  rec.Notes(),
		spin:   spin,
		vp:     viewport.New(80, 20),
		width:  80,
		height: 24,
	}
}

func (m browseModel) Init() tea.Cmd {
	return nil
}

func (m browseModel) refresh() tea.Cmd {
	ctx, rec := m.ctx, m.rec
	return func() tea.Msg {
		return refreshedMsg{err: rec.Refresh(ctx)}
	}
}

func (m browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.vp.Width = msg.Width
		m.vp.Height = max(msg.Height-2, 1)
		return m, nil

	case refreshedMsg:
		m.refreshing = false
		m.notes = m.rec.Notes()
		if m.cursor >= len(m.notes) {
			m.cursor = max(len(m.notes)-1, 0)
		}
		if msg.err != nil {
			m.status = errStyle.Render("refresh failed: ") + msg.err.Error()
		} else {
			m.status = okStyle.Render(fmt.Sprintf("refreshed, %d notes", len(m.notes)))
		}
		return m, nil

	case spinner.TickMsg:
		if !m.refreshing {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	if m.reading {
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m browseModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" || key == "q" {
		return m, tea.Quit
	}

	if m.reading {
		if key == "esc" || key == "backspace" {
			m.reading = false
			return m, nil
		}
		var cmd tea.Cmd
		m.vp, cmd = m.vp.Update(msg)
		return m, cmd
	}

	switch key {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.notes)-1 {
			m.cursor++
		}
	case "enter":
		if len(m.notes) > 0 {
			n := m.notes[m.cursor]
			m.vp.SetContent(noteBody(m.rec, n))
			m.vp.GotoTop()
			m.reading = true
		}
	case "r":
		if !m.refreshing {
			m.refreshing = true
			m.status = ""
			return m, tea.Batch(m.spin.Tick, m.refresh())
		}
	}
	return m, nil
}

func (m browseModel) View() string {
	if m.reading && len(m.notes) > 0 {
		n := m.notes[m.cursor]
		return headingStyle.Render(n.Title) + "\n" + m.vp.View() + "\n" + keyStyle.Render("esc back · q quit")
	}

	var b strings.Builder
	b.WriteString(headingStyle.Render("notes"))
	if m.refreshing {
		b.WriteString(" " + m.spin.View())
	}
	b.WriteString("\n")

	if len(m.notes) == 0 {
		b.WriteString(keyStyle.Render("no notes, press r to refresh") + "\n")
	}
	for i, n := range m.notes {
		marker := "  "
		if i == m.cursor {
			marker = labelStyle.Render("> ")
		}
		title := n.Title
		if title == "" {
			title = keyStyle.Render("(untitled)")
		}
		fmt.Fprintf(&b, "%s%s %s\n", marker, statusBadge(n.SyncStatus), title)
	}

	if m.status != "" {
		b.WriteString("\n" + m.status + "\n")
	}
	b.WriteString(keyStyle.Render("↑/↓ move · enter read · r refresh · q quit"))
	return b.String()
}

// noteBody renders a note's metadata header and content for the reader.
func noteBody(rec *reconciler.Reconciler, n *models.Note) string {
	var b strings.Builder
	if n.Folder != "" {
		if f, ok := rec.Get(models.KindFolder, n.Folder); ok {
			b.WriteString(keyStyle.Render("folder: "+models.Label(f)) + "\n")
		}
	}
	if len(n.Tags) > 0 {
		var tags []string
		for _, name := range rec.TagNames(n.Tags) {
			tags = append(tags, tagStyle.Render("#"+name))
		}
		b.WriteString(strings.Join(tags, " ") + "\n")
	}
	b.WriteString(keyStyle.Render("updated "+n.UpdatedAt.Local().Format("2006-01-02 15:04")) + "\n\n")
	b.WriteString(n.Content)
	return b.String()
}

func init() {
	rootCmd.AddCommand(browseCmd)
}
