package views

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/duet/internal/tui/model"
	"github.com/matheus3301/duet/internal/tui/ui"
	"github.com/rivo/tview"
)

// SearchView queries the daemon's message archive and lists the hits.
type SearchView struct {
	*tview.Flex
	theme    *ui.Theme
	input    *tview.InputField
	results  *tview.Table
	hits     []model.SearchHit
	onQuery  func(query string)
	onSelect func(convID int64)
}

func NewSearchView(theme *ui.Theme) *SearchView {
	sv := &SearchView{
		theme:   theme,
		input:   tview.NewInputField().SetLabel(" Search: ").SetFieldWidth(0),
		results: newTable(theme, " Results "),
	}
	sv.input.SetLabelColor(theme.MenuKeyColor).
		SetFieldTextColor(theme.FgColor).
		SetFieldBackgroundColor(theme.BgColor).
		SetBackgroundColor(theme.BgColor)

	sv.input.SetDoneFunc(func(key tcell.Key) {
		q := strings.TrimSpace(sv.input.GetText())
		if key != tcell.KeyEnter || q == "" || sv.onQuery == nil {
			return
		}
		sv.onQuery(q)
	})
	sv.results.SetSelectedFunc(func(row, _ int) {
		if row < 1 || row > len(sv.hits) || sv.onSelect == nil {
			return
		}
		sv.onSelect(sv.hits[row-1].Message.ConversationID)
	})

	sv.Flex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(sv.input, 1, 0, true).
		AddItem(sv.results, 0, 1, false)
	return sv
}

func (sv *SearchView) Name() string { return "Search" }

func (sv *SearchView) Start() {}

func (sv *SearchView) Stop() {}

func (sv *SearchView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Search/Open"},
		{Key: "Tab", Description: "Results"},
		{Key: "Esc", Description: "Back"},
	}
}

func (sv *SearchView) SetOnQuery(fn func(query string)) { sv.onQuery = fn }

// SetOnSelect is called with the conversation of the chosen hit.
func (sv *SearchView) SetOnSelect(fn func(convID int64)) { sv.onSelect = fn }

// SetQuery fills the input without running it.
func (sv *SearchView) SetQuery(q string) { sv.input.SetText(q) }

// Update lists hits for query, highlighting the matched text.
func (sv *SearchView) Update(query string, hits []model.SearchHit) {
	sv.hits = hits
	sv.results.Clear()
	writeHeader(sv.results, sv.theme,
		column{"CHAT", 0},
		column{"MESSAGE", 1},
		column{"TIME", 0},
	)
	for i, h := range hits {
		row := i + 1
		sv.results.SetCell(row, 0, tview.NewTableCell(" "+clean(h.Chat)).SetMaxWidth(25).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 1, tview.NewTableCell(" "+highlight(preview(h.Snippet, 120), query, ui.Hex(sv.theme.UnreadColor))).
			SetExpansion(1).SetTextColor(sv.theme.FgColor))
		sv.results.SetCell(row, 2, tview.NewTableCell(formatTimestamp(h.Message.CreatedAt)+" ").
			SetAlign(tview.AlignRight).SetTextColor(sv.theme.FgColor))
	}

	switch len(hits) {
	case 0:
		sv.results.SetTitle(fmt.Sprintf(" No matches for %q ", tview.Escape(query)))
	default:
		sv.results.SetTitle(fmt.Sprintf(" Results (%d) ", len(hits)))
	}
	sv.results.ScrollToBeginning().Select(1, 0)
}

func (sv *SearchView) Input() *tview.InputField { return sv.input }

func (sv *SearchView) Results() *tview.Table { return sv.results }

// highlight cleans s and colors every case-insensitive occurrence of q.
func highlight(s, q, color string) string {
	s = sanitizeForTerminal(s)
	if q == "" {
		return tview.Escape(s)
	}
	lower, lq := strings.ToLower(s), strings.ToLower(q)
	if len(lower) != len(s) || len(lq) != len(q) {
		// Case folding changed byte offsets; fall back to plain text.
		return tview.Escape(s)
	}
	var b strings.Builder
	for {
		i := strings.Index(lower, lq)
		if i < 0 {
			b.WriteString(tview.Escape(s))
			return b.String()
		}
		b.WriteString(tview.Escape(s[:i]))
		fmt.Fprintf(&b, "[%s::b]%s[-::-]", color, tview.Escape(s[i:i+len(lq)]))
		s, lower = s[i+len(lq):], lower[i+len(lq):]
	}
}
