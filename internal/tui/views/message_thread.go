package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/duet/internal/state"
	"github.com/matheus3301/duet/internal/tui/ui"
	"github.com/rivo/tview"
)

// ThreadData is everything the thread renders for one conversation.
type ThreadData struct {
	Self     state.User
	Peer     state.User
	Online   bool
	Messages []state.Message
	Complete bool
	Typing   bool
}

// MessageThread displays messages and a composer for a single chat.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	typing   *tview.TextView
	composer *tview.InputField
	peerName string
	onSend   func(text string)
	onTyping func(stopped bool)
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	typing := tview.NewTextView().SetDynamicColors(true)
	typing.SetBackgroundColor(theme.BgColor)
	typing.SetTextColor(theme.PendingColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(typing, 1, 0, false).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		typing:   typing,
		composer: composer,
	}

	composer.SetChangedFunc(func(text string) {
		if mt.onTyping != nil {
			mt.onTyping(text == "")
		}
	})
	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && mt.onSend != nil {
			text := strings.TrimSpace(composer.GetText())
			if text != "" {
				mt.onSend(text)
				composer.SetText("")
			}
		}
	})

	return mt
}

// Name implements Component.
func (mt *MessageThread) Name() string {
	if mt.peerName != "" {
		return mt.peerName
	}
	return "Messages"
}

// Start implements Component.
func (mt *MessageThread) Start() {}

// Stop implements Component. Leaving the thread clears an unsent draft.
func (mt *MessageThread) Stop() {
	if mt.composer.GetText() != "" {
		mt.composer.SetText("")
	}
}

// Hints implements Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "o", Description: "Older"},
		{Key: "R", Description: "Retry failed"},
		{Key: "X", Description: "Discard failed"},
		{Key: "d", Description: "Details"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// SetOnSend sets the callback when a message is submitted.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// SetOnTyping sets the callback fired on every composer edit. stopped is true
// when the draft became empty.
func (mt *MessageThread) SetOnTyping(fn func(stopped bool)) {
	mt.onTyping = fn
}

// Update re-renders the thread. The view stays pinned to the bottom unless
// the user has scrolled up.
func (mt *MessageThread) Update(d ThreadData) {
	mt.peerName = d.Peer.Name
	title := " " + clean(d.Peer.Name) + " "
	if d.Online {
		title = fmt.Sprintf(" %s [%s]●[-] ", clean(d.Peer.Name), ui.Hex(mt.theme.OnlineColor))
	}
	mt.messages.SetTitle(title)

	row, _ := mt.messages.GetScrollOffset()
	_, _, _, height := mt.messages.GetInnerRect()
	atBottom := row+height >= strings.Count(mt.messages.GetText(false), "\n")

	mt.messages.Clear()
	if !d.Complete {
		_, _ = fmt.Fprintf(mt.messages, "[%s]  ... press o for older messages[-]\n\n", ui.Hex(mt.theme.PendingColor))
	}
	for _, m := range d.Messages {
		mt.writeMessage(m, d)
	}

	mt.typing.Clear()
	if d.Typing {
		_, _ = fmt.Fprintf(mt.typing, " %s is typing…", clean(d.Peer.Name))
	}

	if atBottom {
		mt.messages.ScrollToEnd()
	}
}

func (mt *MessageThread) writeMessage(m state.Message, d ThreadData) {
	sender, color := d.Peer.Name, mt.theme.PeerColor
	if m.SenderID == d.Self.ID {
		sender, color = "You", mt.theme.SelfColor
	}

	mark := ""
	switch m.Status {
	case state.StatusPending:
		mark = fmt.Sprintf(" [%s]sending…[-]", ui.Hex(mt.theme.PendingColor))
	case state.StatusFailed:
		mark = fmt.Sprintf(" [%s::b]failed (R retry, X discard)[-:-:-]", ui.Hex(mt.theme.FailedColor))
	default:
		if m.SenderID == d.Self.ID && m.IsRead {
			mark = fmt.Sprintf(" [%s]read[-]", ui.Hex(mt.theme.PendingColor))
		}
	}

	_, _ = fmt.Fprintf(mt.messages, "[%s::b]%s[-:-:-] [::d]%s[-:-:-]%s\n",
		ui.Hex(color), clean(sender), formatTimestamp(m.CreatedAt), mark)
	if m.Content != "" {
		_, _ = fmt.Fprintf(mt.messages, "%s\n", clean(m.Content))
	}
	for _, a := range m.Attachments {
		_, _ = fmt.Fprintf(mt.messages, "[::d]+ %s %s (%s)[-:-:-]\n", a.Type, clean(a.Name), humanSize(a.Size))
	}
	_, _ = fmt.Fprintln(mt.messages)
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}
