package views

import (
	"fmt"

	"github.com/matheus3301/duet/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationInfo displays detailed information about a conversation.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates a new conversation info view.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Conversation Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements Component.
func (ci *ConversationInfo) Name() string { return "Details" }

// Start implements Component.
func (ci *ConversationInfo) Start() {}

// Stop implements Component.
func (ci *ConversationInfo) Stop() {}

// Hints implements Component.
func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// Update renders conversation details.
func (ci *ConversationInfo) Update(row Row, loaded int) {
	ci.Clear()

	fg := ui.Hex(ci.theme.FgColor)
	val := ui.Hex(ci.theme.CounterColor)
	c := row.Conversation

	online := "offline"
	if row.Online {
		online = fmt.Sprintf("[%s]online[-]", ui.Hex(ci.theme.OnlineColor))
	}
	email := row.Peer.Email
	if email == "" {
		email = "-"
	}
	history := fmt.Sprintf("%d loaded, more on server", loaded)
	if c.HistoryComplete {
		history = fmt.Sprintf("%d loaded, complete", loaded)
	}
	last := "-"
	if c.LastMessage != nil {
		last = clean(preview(lastText(c), 60))
	}

	fields := []struct{ label, value string }{
		{"Peer", fmt.Sprintf("%s (#%d)", clean(row.Peer.Name), row.Peer.ID)},
		{"Email", clean(email)},
		{"Presence", online},
		{"Conversation", fmt.Sprintf("#%d", c.ID)},
		{"Started", c.CreatedAt.Local().Format("2006-01-02 15:04")},
		{"Last Active", c.LastActivity().Local().Format("2006-01-02 15:04")},
		{"Unread", fmt.Sprint(c.UnreadCount)},
		{"History", history},
		{"Last Message", last},
	}
	_, _ = fmt.Fprintln(ci)
	for _, f := range fields {
		_, _ = fmt.Fprintf(ci, " [%s::b]%-13s[-:-:-] [%s]%s[-]\n", fg, f.label+":", val, f.value)
	}
	ci.SetTitle(fmt.Sprintf(" %s Details ", clean(row.Peer.Name)))
}
