package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/rivo/tview"
)

// Level is the severity of a notice.
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

var levelTTL = [...]time.Duration{
	LevelInfo:  5 * time.Second,
	LevelWarn:  8 * time.Second,
	LevelError: 10 * time.Second,
}

// Notice is one transient line shown on the flash bar. Seq orders notices so a
// stale expiry never clears a newer one.
type Notice struct {
	Seq   uint64
	Text  string
	Level Level
	TTL   time.Duration
}

// Notifier holds the notice currently on screen and feeds new ones to the
// render loop.
type Notifier struct {
	mu      sync.Mutex
	seq     uint64
	current *Notice
	ch      chan Notice
}

func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan Notice, 8)}
}

func (n *Notifier) Info(msg string) { n.post(LevelInfo, msg) }

func (n *Notifier) Warn(msg string) { n.post(LevelWarn, msg) }

// Errf reports that what failed with err.
func (n *Notifier) Errf(what string, err error) {
	n.post(LevelError, what+": "+err.Error())
}

func (n *Notifier) post(level Level, msg string) {
	n.mu.Lock()
	n.seq++
	notice := Notice{Seq: n.seq, Text: msg, Level: level, TTL: levelTTL[level]}
	n.current = &notice
	n.mu.Unlock()
	select {
	case n.ch <- notice:
	default:
	}
}

// Current returns the notice on screen, if any.
func (n *Notifier) Current() (Notice, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil {
		return Notice{}, false
	}
	return *n.current, true
}

// Expire drops notice seq if it is still the current one and reports whether
// it was.
func (n *Notifier) Expire(seq uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil || n.current.Seq != seq {
		return false
	}
	n.current = nil
	return true
}

// Notices delivers every posted notice. A full buffer drops notices; Current
// still reflects the latest.
func (n *Notifier) Notices() <-chan Notice {
	return n.ch
}

// FlashBar is the one-line notice area at the bottom of the screen.
type FlashBar struct {
	*tview.TextView
	theme *Theme
}

func NewFlashBar(theme *Theme) *FlashBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	return &FlashBar{TextView: tv, theme: theme}
}

// Show replaces the bar's text with n.
func (fb *FlashBar) Show(n Notice) {
	color, mark := fb.theme.FlashInfoColor, "i"
	switch n.Level {
	case LevelWarn:
		color, mark = fb.theme.FlashWarnColor, "!"
	case LevelError:
		color, mark = fb.theme.FlashErrColor, "x"
	}
	fb.Clear()
	_, _ = fmt.Fprintf(fb, " [%s::b]%s[-::-] [%s]%s[-]", Hex(color), mark, Hex(color), tview.Escape(n.Text))
}
