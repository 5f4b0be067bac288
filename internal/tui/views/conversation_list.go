package views

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/matheus3301/duet/internal/state"
	"github.com/matheus3301/duet/internal/tui/ui"
	"github.com/rivo/tview"
)

// SortMode orders the conversation list.
type SortMode int

const (
	SortRecent SortMode = iota
	SortUnread
	SortName
)

func (m SortMode) String() string {
	switch m {
	case SortUnread:
		return "unread"
	case SortName:
		return "name"
	default:
		return "recent"
	}
}

// Row is one conversation as the list renders it.
type Row struct {
	Conversation state.Conversation
	Peer         state.User
	Online       bool
}

// ConversationList is the main chat list view.
type ConversationList struct {
	*tview.Table
	theme   *ui.Theme
	rows    []Row
	visible []Row
	filter  string
	sort    SortMode
}

// NewConversationList creates a new conversation list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := newTable(theme, " Conversations ")

	return &ConversationList{
		Table: table,
		theme: theme,
	}
}

// Name implements Component.
func (cl *ConversationList) Name() string { return "Conversations" }

// Start implements Component.
func (cl *ConversationList) Start() {}

// Stop implements Component.
func (cl *ConversationList) Stop() {}

// Hints implements Component.
func (cl *ConversationList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "n", Description: "New chat"},
		{Key: "/", Description: "Filter"},
		{Key: ":", Description: "Command"},
		{Key: "s", Description: "Sort"},
		{Key: "r", Description: "Refresh"},
		{Key: "?", Description: "Help"},
		{Key: "q", Description: "Quit"},
		{Key: "1-9", Description: "Jump", Numeric: true},
	}
}

// Update refreshes the list, keeping the selection on the same conversation.
func (cl *ConversationList) Update(rows []Row) {
	selected := cl.SelectedConversation()
	cl.rows = rows
	cl.render()
	cl.SelectConversation(selected)
}

// SetFilter sets the active filter text and re-renders.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
}

// ClearFilter clears the active filter.
func (cl *ConversationList) ClearFilter() {
	cl.filter = ""
	cl.render()
}

// CycleSort switches to the next sort mode and returns it.
func (cl *ConversationList) CycleSort() SortMode {
	cl.sort = (cl.sort + 1) % 3
	selected := cl.SelectedConversation()
	cl.render()
	cl.SelectConversation(selected)
	return cl.sort
}

func (cl *ConversationList) render() {
	cl.Clear()

	writeHeader(cl.Table, cl.theme,
		column{"NAME", 1},
		column{"LAST MESSAGE", 2},
		column{"TIME", 0},
		column{"UNREAD", 0},
	)

	cl.visible = cl.visible[:0]
	for _, r := range cl.rows {
		if cl.filter != "" && !containsFold(r.Peer.Name, cl.filter) && !containsFold(lastText(r.Conversation), cl.filter) {
			continue
		}
		cl.visible = append(cl.visible, r)
	}
	cl.sortVisible()

	for i, r := range cl.visible {
		row := i + 1
		name := r.Peer.Name
		if name == "" {
			name = fmt.Sprintf("#%d", r.Conversation.ID)
		}
		dot := "  "
		if r.Online {
			dot = fmt.Sprintf("[%s]●[-] ", ui.Hex(cl.theme.OnlineColor))
		}
		unread := ""
		if n := r.Conversation.UnreadCount; n > 0 {
			unread = fmt.Sprintf("[%s::b]%d[-:-:-]", ui.Hex(cl.theme.UnreadColor), n)
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+dot+clean(name)).SetExpansion(1).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 1, tview.NewTableCell(" "+clean(preview(lastText(r.Conversation), 60))).SetExpansion(2).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 2, tview.NewTableCell(formatTimestamp(r.Conversation.LastActivity())).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
		cl.SetCell(row, 3, tview.NewTableCell(unread).SetAlign(tview.AlignRight))
	}

	title := fmt.Sprintf(" Conversations (%d) ", len(cl.rows))
	if cl.filter != "" {
		title = fmt.Sprintf(" Conversations (%d/%d) filter: %s ", len(cl.visible), len(cl.rows), tview.Escape(cl.filter))
	}
	if cl.sort != SortRecent {
		title += fmt.Sprintf("sort: %s ", cl.sort)
	}
	cl.SetTitle(title)
}

func (cl *ConversationList) sortVisible() {
	switch cl.sort {
	case SortUnread:
		slices.SortStableFunc(cl.visible, func(a, b Row) int {
			return cmp.Compare(b.Conversation.UnreadCount, a.Conversation.UnreadCount)
		})
	case SortName:
		slices.SortStableFunc(cl.visible, func(a, b Row) int {
			return cmp.Compare(a.Peer.Name, b.Peer.Name)
		})
	}
}

func lastText(c state.Conversation) string {
	if c.LastMessage == nil {
		return ""
	}
	if c.LastMessage.Content == "" && len(c.LastMessage.Attachments) > 0 {
		return "[attachment]"
	}
	return c.LastMessage.Content
}

// SelectedConversation returns the id of the selected conversation, or zero.
func (cl *ConversationList) SelectedConversation() int64 {
	row, _ := cl.GetSelection()
	return cl.ConversationByIndex(row)
}

// ConversationByIndex returns the id of the Nth visible conversation (1-based).
func (cl *ConversationList) ConversationByIndex(n int) int64 {
	if n < 1 || n > len(cl.visible) {
		return 0
	}
	return cl.visible[n-1].Conversation.ID
}

// SelectConversation moves the cursor to conversation id when it is visible.
func (cl *ConversationList) SelectConversation(id int64) {
	for i, r := range cl.visible {
		if r.Conversation.ID == id {
			cl.Table.Select(i+1, 0)
			return
		}
	}
	if len(cl.visible) > 0 {
		cl.Table.Select(1, 0)
	}
}
