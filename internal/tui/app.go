// internal/tui/app.go
//
// The mythos dashboard. It uses bubbletea, which follows The Elm
// Architecture:
//
// 1. Model: the persona snapshot, the selected row and the journal tail
// 2. Update: key presses and routed engine events change that state
// 3. View: renders the table, the selected persona and the journal
//
// Engine events arrive on a channel (a Router subscription) and are turned
// into messages one at a time by waitForEvent.

package tui

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harbz07/sanctuary-mythology/internal/logbook"
	"github.com/harbz07/sanctuary-mythology/internal/persona"
)

const (
	journalLines  = 6
	detailEntries = 5
)

// Source is the read side of the engine the dashboard renders.
type Source interface {
	Personas() []persona.Persona
	EventsFor(name string) []persona.Event
}

// eventMsg wraps an engine event delivered by the router.
type eventMsg persona.Event

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithJournal shows the tail of the journey journal.
func WithJournal(journal *logbook.Logbook) AppOption {
	return func(a *App) {
		a.journal = journal
	}
}

// WithEvents refreshes the dashboard whenever an event arrives on ch.
func WithEvents(ch <-chan persona.Event) AppOption {
	return func(a *App) {
		a.events = ch
	}
}

// App is the main application model.
type App struct {
	source    Source
	journal   *logbook.Logbook
	events    <-chan persona.Event
	table     table.Model
	personas  []persona.Persona
	lastEvent string
	width     int
	height    int
}

// NewApp builds the dashboard over source.
func NewApp(source Source, opts ...AppOption) *App {
	a := &App{source: source}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.table = table.New(
		table.WithColumns(columns(60)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#5B8DEF"))
	a.table.SetStyles(styles)
	a.refresh()
	return a
}

func columns(width int) []table.Column {
	role := max(12, width-44)
	return []table.Column{
		{Title: "Persona", Width: 18},
		{Title: "Role", Width: role},
		{Title: "Stage", Width: 6},
		{Title: "Invocations", Width: 12},
	}
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.waitForEvent()
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.table.SetColumns(columns(max(40, msg.Width/2)))
		a.table.SetHeight(max(5, msg.Height-16))
		return a, nil

	case eventMsg:
		a.lastEvent = describeEvent(persona.Event(msg))
		a.refresh()
		return a, a.waitForEvent()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case "r":
			a.refresh()
			return a, nil
		}
	}

	var cmd tea.Cmd
	a.table, cmd = a.table.Update(msg)
	return a, cmd
}

// waitForEvent blocks on the event channel; a closed channel ends the loop.
func (a *App) waitForEvent() tea.Cmd {
	if a.events == nil {
		return nil
	}
	ch := a.events
	return func() tea.Msg {
		event, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(event)
	}
}

func (a *App) refresh() {
	a.personas = a.source.Personas()
	rows := make([]table.Row, len(a.personas))
	for i, p := range a.personas {
		rows[i] = table.Row{p.Name, p.Role, strconv.Itoa(p.EvolutionStage), strconv.Itoa(p.InvocationCount)}
	}
	a.table.SetRows(rows)
	if cursor := a.table.Cursor(); cursor >= len(rows) && len(rows) > 0 {
		a.table.SetCursor(len(rows) - 1)
	}
}

// Selected returns the persona under the cursor.
func (a *App) Selected() (persona.Persona, bool) {
	cursor := a.table.Cursor()
	if cursor < 0 || cursor >= len(a.personas) {
		return persona.Persona{}, false
	}
	return a.personas[cursor], true
}

// View renders the current state to a string.
func (a *App) View() string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ MYTHOS")

	var tableView string
	if len(a.personas) == 0 {
		tableView = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Render("No personas yet. Run `mythos seed` or `mythos register`.")
	} else {
		tableView = a.table.View()
	}
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444"))
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		box.Render(tableView),
		box.Padding(0, 1).Render(a.renderDetail()),
	)

	parts := []string{header, body}
	if panel := a.renderJournal(); panel != "" {
		parts = append(parts, panel)
	}
	footer := "↑/↓ select · r refresh · q quit"
	if a.lastEvent != "" {
		footer = a.lastEvent + " · " + footer
	}
	parts = append(parts, lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Render(footer))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (a *App) renderDetail() string {
	p, ok := a.Selected()
	if !ok {
		return "Nothing selected"
	}
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(p.Name)
	lines := []string{title, p.Role, ""}
	lines = append(lines, section("Developed Traits", p.DevelopedTraits)...)
	lines = append(lines, section("Learned Phrases", p.LearnedPhrases)...)
	events := a.source.EventsFor(p.Name)
	lines = append(lines, fmt.Sprintf("Events: %d", len(events)))
	return strings.Join(lines, "\n")
}

func section(title string, values []string) []string {
	if len(values) == 0 {
		return nil
	}
	if len(values) > detailEntries {
		values = values[len(values)-detailEntries:]
	}
	out := []string{title + ":"}
	for _, v := range values {
		out = append(out, "  • "+v)
	}
	return append(out, "")
}

func (a *App) renderJournal() string {
	if a.journal == nil {
		return ""
	}
	lines, total := a.journal.Tail(journalLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.journal.Path())
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("JOURNAL · %s (%d entries)", fileName, total))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}

func describeEvent(e persona.Event) string {
	if e.Type == persona.EventEvolution {
		return fmt.Sprintf("%s: %s", e.PersonaName, e.Context)
	}
	return fmt.Sprintf("%s: %s", e.PersonaName, e.Type)
}
