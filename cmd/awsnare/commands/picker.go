package commands

import (
	"fmt"
	"slices"
	"strings"

	"github.com/awsnare/awsnare/pkg/config"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type regionModel struct {
	choices   []string
	selected  map[int]struct{}
	cursor    int
	cancelled bool
}

// initialRegionModel lists the known regions that are not configured yet.
func initialRegionModel(configured []string) regionModel {
	var choices []string
	for _, r := range config.KnownRegions {
		if !slices.Contains(configured, r) {
			choices = append(choices, r)
		}
	}
	return regionModel{
		choices:  choices,
		selected: make(map[int]struct{}),
	}
}

func (m regionModel) Init() tea.Cmd {
	return nil
}

func (m regionModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.cancelled = true
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.choices)-1 {
				m.cursor++
			}
		case " ", "x":
			if _, ok := m.selected[m.cursor]; ok {
				delete(m.selected, m.cursor)
			} else {
				m.selected[m.cursor] = struct{}{}
			}
		case "enter":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m regionModel) View() string {
	s := strings.Builder{}
	s.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).Render("? Which regions should be watched?"))
	s.WriteString("\n\n")

	for i, choice := range m.choices {
		cursor := " "
		if m.cursor == i {
			cursor = ">"
		}

		checked := " "
		if _, ok := m.selected[i]; ok {
			checked = "x"
		}

		s.WriteString(fmt.Sprintf("%s [%s] %s\n", cursor, checked, choice))
	}

	s.WriteString("\n(Press [space] to select, [enter] to confirm, [q] to cancel)\n")
	return s.String()
}

// SelectedRegions returns the ticked regions in list order.
func (m regionModel) SelectedRegions() []string {
	if m.cancelled {
		return nil
	}
	var selected []string
	for i, choice := range m.choices {
		if _, ok := m.selected[i]; ok {
			selected = append(selected, choice)
		}
	}
	return selected
}

// PromptForRegions runs the interactive picker.
func PromptForRegions(configured []string) ([]string, error) {
	p := tea.NewProgram(initialRegionModel(configured))
	m, err := p.Run()
	if err != nil {
		return nil, err
	}
	if rm, ok := m.(regionModel); ok {
		return rm.SelectedRegions(), nil
	}
	return nil, nil
}
