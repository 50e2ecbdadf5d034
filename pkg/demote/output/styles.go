package output

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jamesainslie/demote/pkg/demote/types"
)

// Color palette.
var (
	ColorPrimary = lipgloss.Color("39")
	ColorSuccess = lipgloss.Color("42")
	ColorWarning = lipgloss.Color("214")
	ColorDanger  = lipgloss.Color("196")
	ColorMuted   = lipgloss.Color("245")
)

var (
	// TitleStyle is used for section headers.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	// LabelStyle is used for field labels.
	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	// ValueStyle is used for field values.
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorDanger)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)

	// TableHeaderStyle is used for table column headers.
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorMuted).
				PaddingRight(2)

	// TableCellStyle is used for table data cells.
	TableCellStyle = lipgloss.NewStyle().
			PaddingRight(2)
)

// ClassStyle returns the style for a status class.
func ClassStyle(c types.Class) lipgloss.Style {
	switch c {
	case types.ClassCompliant:
		return SuccessStyle
	case types.ClassAdjusting:
		return WarningStyle
	case types.ClassFailure:
		return ErrorStyle
	default:
		return MutedStyle
	}
}
