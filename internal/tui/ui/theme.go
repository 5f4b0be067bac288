package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// Theme holds color constants for the TUI.
type Theme struct {
	BgColor           tcell.Color
	FgColor           tcell.Color
	BorderColor       tcell.Color
	BorderFocusColor  tcell.Color
	TableHeaderFg     tcell.Color
	TableHeaderBg     tcell.Color
	TableCursorFg     tcell.Color
	TableCursorBg     tcell.Color
	CrumbActiveFg     tcell.Color
	CrumbActiveBg     tcell.Color
	CrumbInactiveFg   tcell.Color
	CrumbInactiveBg   tcell.Color
	MenuKeyColor      tcell.Color
	NumericKeyColor   tcell.Color
	TitleColor        tcell.Color
	CounterColor      tcell.Color
	FlashInfoColor    tcell.Color
	FlashWarnColor    tcell.Color
	FlashErrColor     tcell.Color
	PromptBorderColor tcell.Color

	SelfColor    tcell.Color
	PeerColor    tcell.Color
	PendingColor tcell.Color
	FailedColor  tcell.Color
	OnlineColor  tcell.Color
	UnreadColor  tcell.Color
}

// DefaultTheme is the dark palette: blue chrome, warm accents for counts and
// notices.
func DefaultTheme() *Theme {
	t := &Theme{
		BgColor:     tcell.ColorBlack,
		FgColor:     tcell.ColorLightSteelBlue,
		BorderColor: tcell.ColorSteelBlue,
		TitleColor:  tcell.ColorOrchid,

		TableHeaderFg: tcell.ColorWhiteSmoke,
		TableCursorFg: tcell.ColorBlack,
		TableCursorBg: tcell.ColorMediumTurquoise,

		MenuKeyColor:    tcell.ColorSteelBlue,
		NumericKeyColor: tcell.ColorOrchid,
		CounterColor:    tcell.ColorWheat,

		FlashInfoColor: tcell.ColorWheat,
		FlashWarnColor: tcell.ColorGold,
		FlashErrColor:  tcell.ColorTomato,

		SelfColor:    tcell.ColorLightSkyBlue,
		PeerColor:    tcell.ColorWheat,
		PendingColor: tcell.ColorDimGray,
		FailedColor:  tcell.ColorTomato,
		OnlineColor:  tcell.ColorMediumSeaGreen,
		UnreadColor:  tcell.ColorGold,
	}
	t.BorderFocusColor = tcell.ColorPowderBlue
	t.TableHeaderBg = t.BgColor
	t.CrumbActiveFg, t.CrumbActiveBg = tcell.ColorBlack, t.UnreadColor
	t.CrumbInactiveFg, t.CrumbInactiveBg = tcell.ColorBlack, t.TableCursorBg
	t.PromptBorderColor = t.BorderColor
	return t
}

// Hex renders c as a tview color tag value.
func Hex(c tcell.Color) string {
	return fmt.Sprintf("#%06x", c.Hex())
}
