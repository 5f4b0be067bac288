package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// SessionData holds session information for display.
type SessionData struct {
	Session string
	User    string
	Channel string
	Online  bool
	Chats   int
	Pending int
	Failed  int
	Uptime  time.Duration
}

// SessionInfo displays session metadata in the header.
type SessionInfo struct {
	*tview.TextView
	theme *Theme
}

// NewSessionInfo creates a new session info panel.
func NewSessionInfo(theme *Theme) *SessionInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &SessionInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the session info.
func (si *SessionInfo) Update(data SessionData) {
	si.Clear()

	fg := Hex(si.theme.FgColor)
	val := Hex(si.theme.CounterColor)
	channel := Hex(si.theme.FlashWarnColor)
	if data.Online {
		channel = Hex(si.theme.OnlineColor)
	}

	user := data.User
	if user == "" {
		user = "signed out"
	}
	outbox := fmt.Sprintf("%d pending", data.Pending)
	if data.Failed > 0 {
		outbox += fmt.Sprintf(", [%s]%d failed[-]", Hex(si.theme.FlashErrColor), data.Failed)
	}

	_, _ = fmt.Fprintf(si,
		"[%s::b]Session:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]User:[-:-:-]    [%s]%s[-]\n"+
			"[%s::b]Channel:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]Chats:[-:-:-]   [%s]%d[-]\n"+
			"[%s::b]Outbox:[-:-:-]  [%s]%s[-]\n"+
			"[%s::b]Uptime:[-:-:-]  [%s]%s[-]",
		fg, val, tview.Escape(data.Session),
		fg, val, tview.Escape(user),
		fg, channel, data.Channel,
		fg, val, data.Chats,
		fg, val, outbox,
		fg, val, formatDuration(data.Uptime),
	)
}

func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
