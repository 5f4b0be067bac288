package views

import (
	"fmt"
	"strings"

	"github.com/matheus3301/duet/internal/tui/ui"
	"github.com/rivo/tview"
)

// HelpView displays key binding reference.
type HelpView struct {
	*tview.TextView
}

// NewHelpView creates a new help view.
func NewHelpView(theme *ui.Theme) *HelpView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Help ")
	tv.SetTitleColor(theme.TitleColor)

	hv := &HelpView{TextView: tv}
	hv.render(ui.Hex(theme.MenuKeyColor))
	return hv
}

// Name implements Component.
func (hv *HelpView) Name() string { return "Help" }

// Start implements Component.
func (hv *HelpView) Start() { hv.ScrollToBeginning() }

// Stop implements Component.
func (hv *HelpView) Stop() {}

// Hints implements Component.
func (hv *HelpView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
	}
}

var helpSections = []struct {
	title string
	keys  [][2]string
}{
	{"Global Keys", [][2]string{
		{":", "Command mode"},
		{"Esc", "Cancel / Go back"},
		{"?", "Help"},
		{"q", "Quit / Back"},
		{"Ctrl-C", "Quit immediately"},
	}},
	{"Conversation List", [][2]string{
		{"Enter", "Open conversation"},
		{"/", "Filter by name or text"},
		{"0", "Clear filter"},
		{"1-9", "Jump to Nth chat"},
		{"n", "New conversation"},
		{"s", "Cycle sort mode"},
		{"r", "Refresh from server"},
	}},
	{"Message Thread", [][2]string{
		{"i", "Focus composer"},
		{"Enter", "Send message (in composer)"},
		{"o", "Load older messages"},
		{"R", "Retry the last failed message"},
		{"X", "Discard the last failed message"},
		{"d", "Conversation details"},
	}},
	{"Commands (: mode)", [][2]string{
		{":search <query>", "Search cached messages"},
		{":chat <name>", "Open chat by peer name"},
		{":new <user>", "Start a chat by user id or name"},
		{":send <path>", "Send a file to the open chat"},
		{":resync", "Reload everything from the server"},
		{":logout", "Sign out and wipe the cache"},
		{":help, :h", "Show this help"},
		{":quit, :q", "Quit application"},
	}},
}

func (hv *HelpView) render(kc string) {
	var b strings.Builder
	for _, sec := range helpSections {
		fmt.Fprintf(&b, "\n  [::b]%s[-:-:-]\n\n", sec.title)
		for _, k := range sec.keys {
			fmt.Fprintf(&b, "  [%s]%-18s[-:-:-] %s\n", kc, tview.Escape(k[0]), k[1])
		}
	}
	_, _ = fmt.Fprint(hv, b.String())
}
