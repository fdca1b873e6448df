// Package chronicle renders personas as the plain-text chronicle report and
// as the canonical preset export.
package chronicle

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/harbz07/sanctuary-mythology/internal/persona"
)

// Title heads every chronicle report.
const Title = "SANCTUARY MYTHOLOGICAL CHRONICLE"

var rule = strings.Repeat("=", 60)

// Report renders the fixed-layout chronicle for personas in the given order.
func Report(personas []persona.Persona) string {
	lines := []string{rule, Title, rule, ""}
	for _, p := range personas {
		lines = append(lines,
			fmt.Sprintf("\n## %s — %s", p.Name, p.Role),
			fmt.Sprintf("Evolution Stage: %d", p.EvolutionStage),
			fmt.Sprintf("Invocations: %d", p.InvocationCount),
		)
		if len(p.DevelopedTraits) > 0 {
			lines = append(lines, "\nDeveloped Traits:")
			lines = append(lines, bullets(p.DevelopedTraits)...)
		}
		if len(p.LearnedPhrases) > 0 {
			lines = append(lines, "\nLearned Phrases:")
			lines = append(lines, bullets(p.LearnedPhrases)...)
		}
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}

func bullets(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = "  • " + v
	}
	return out
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))
	nameStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF"))
	roleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#AAAAAA"))
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// StyledReport renders the same content as Report as terminal cards.
func StyledReport(personas []persona.Persona) string {
	blocks := []string{titleStyle.Render(Title)}
	for _, p := range personas {
		lines := []string{
			nameStyle.Render(p.Name) + " " + roleStyle.Render(p.Role),
			labelStyle.Render("Evolution Stage: ") + fmt.Sprint(p.EvolutionStage),
			labelStyle.Render("Invocations: ") + fmt.Sprint(p.InvocationCount),
		}
		if len(p.DevelopedTraits) > 0 {
			lines = append(lines, "", labelStyle.Render("Developed Traits:"))
			lines = append(lines, bullets(p.DevelopedTraits)...)
		}
		if len(p.LearnedPhrases) > 0 {
			lines = append(lines, "", labelStyle.Render("Learned Phrases:"))
			lines = append(lines, bullets(p.LearnedPhrases)...)
		}
		blocks = append(blocks, cardStyle.Render(strings.Join(lines, "\n")))
	}
	return lipgloss.JoinVertical(lipgloss.Left, blocks...)
}
