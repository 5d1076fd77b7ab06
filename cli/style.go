package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pdsnotes/models"
	"pdsnotes/reconciler"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	labelStyle   = lipgloss.NewStyle().Bold(true)
	keyStyle     = lipgloss.NewStyle().Faint(true)
	tagStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)

	statusStyles = map[models.SyncStatus]lipgloss.Style{
		models.StatusSynced:   okStyle,
		models.StatusPending:  warnStyle,
		models.StatusConflict: errStyle,
	}
)

// statusBadge renders a fixed-width sync status marker.
func statusBadge(s models.SyncStatus) string {
	style, ok := statusStyles[s]
	if !ok {
		style = keyStyle
	}
	return style.Render(fmt.Sprintf("%-8s", s))
}

// swatch renders a color value in its own color.
func swatch(color string) string {
	if color == "" {
		return ""
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Render("● " + color)
}

// printEntity writes one listing line.
func printEntity(w io.Writer, rec *reconciler.Reconciler, e models.Entity) {
	m := e.Meta()
	parts := []string{statusBadge(m.SyncStatus), keyStyle.Render(m.RKey), labelStyle.Render(models.Label(e))}

	switch v := e.(type) {
	case *models.Note:
		if v.Folder != "" {
			if f, ok := rec.Get(models.KindFolder, v.Folder); ok {
				parts = append(parts, "in "+models.Label(f))
			}
		}
		for _, name := range rec.TagNames(v.Tags) {
			parts = append(parts, tagStyle.Render("#"+name))
		}
	case *models.Folder:
		parts = append(parts, swatch(v.Color))
	case *models.Tag:
		parts = append(parts, swatch(v.Color))
	case *models.Theme:
		parts = append(parts, v.Mode, swatch(v.Accent))
	}
	fmt.Fprintln(w, strings.Join(nonEmpty(parts), "  "))
}

// printReport writes a reconciler report to the error stream.
func printReport(w io.Writer, r reconciler.Report) {
	style := warnStyle
	if r.Severity == reconciler.SeverityError {
		style = errStyle
	}
	fmt.Fprintln(w, style.Render(string(r.Severity)+":"), r.Op, r.Kind, keyStyle.Render(r.Key), r.Err)
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
