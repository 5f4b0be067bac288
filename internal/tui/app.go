package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/duet/internal/status"
	"github.com/matheus3301/duet/internal/tui/client"
	"github.com/matheus3301/duet/internal/tui/keys"
	"github.com/matheus3301/duet/internal/tui/model"
	"github.com/matheus3301/duet/internal/tui/ui"
	"github.com/matheus3301/duet/internal/tui/views"
	"github.com/rivo/tview"
)

// Page keys.
const (
	pageLogin         = "login"
	pageConversations = "conversations"
	pageThread        = "thread"
	pageInfo          = "info"
	pageSearch        = "search"
	pageHelp          = "help"
)

const (
	callTimeout = 10 * time.Second
	promptRows  = 3
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	pages    *ui.Pages
	main     *tview.Flex
	info     *ui.SessionInfo
	menu     *ui.Menu
	crumbs   *ui.Crumbs
	flash    *ui.Notifier
	flashBar *ui.FlashBar
	prompt   *ui.Prompt
	vm       *model.ViewModel
	daemon   *client.Client
	registry *keys.Registry
	session  string

	list    *views.ConversationList
	thread  *views.MessageThread
	details *views.ConversationInfo
	search  *views.SearchView
	help    *views.HelpView
	login   *views.LoginView

	events *refresher
	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *client.Client, sessionName string) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:      tview.NewApplication(),
		theme:    theme,
		pages:    ui.NewPages(),
		info:     ui.NewSessionInfo(theme),
		menu:     ui.NewMenu(theme),
		crumbs:   ui.NewCrumbs(theme),
		flash:    ui.NewNotifier(),
		flashBar: ui.NewFlashBar(theme),
		prompt:   ui.NewPrompt(theme),
		vm:       model.NewViewModel(c),
		daemon:   c,
		registry: keys.NewRegistry(),
		session:  sessionName,
		list:     views.NewConversationList(theme),
		thread:   views.NewMessageThread(theme),
		details:  views.NewConversationInfo(theme),
		search:   views.NewSearchView(theme),
		help:     views.NewHelpView(theme),
		login:    views.NewLoginView(theme),
		ctx:      ctx,
		cancel:   cancel,
	}
	a.events = newRefresher(a)

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(
		keys.Rune('q', a.back),
		keys.Rune('?', func() { a.pages.Push(pageHelp) }),
		keys.Rune(':', func() { a.showPrompt(ui.PromptCommand) }),
	)

	a.registry.AddView(pageConversations,
		keys.Rune('q', a.Stop),
		keys.Rune('/', func() { a.showPrompt(ui.PromptFilter) }),
		keys.Rune('0', func() { a.list.ClearFilter() }),
		keys.Rune('s', func() { a.flash.Info("Sorted by " + a.list.CycleSort().String()) }),
		keys.Rune('r', func() { a.refreshConversations(true) }),
		keys.Rune('n', func() {
			a.prompt.Activate(ui.PromptCommand)
			a.prompt.SetText("new ")
			a.revealPrompt()
		}),
		keys.Rune('j', func() { a.moveList(1) }),
		keys.Rune('k', func() { a.moveList(-1) }),
	)
	for n := '1'; n <= '9'; n++ {
		idx := int(n - '0')
		a.registry.AddView(pageConversations, keys.Rune(n, func() {
			if id := a.list.ConversationByIndex(idx); id != 0 {
				a.open(id)
			}
		}))
	}

	a.registry.AddView(pageThread,
		keys.Rune('i', func() { a.app.SetFocus(a.thread.Composer()) }),
		keys.Rune('o', a.loadOlder),
		keys.Rune('R', a.retryFailed),
		keys.Rune('X', a.discardFailed),
		keys.Rune('d', a.showDetails),
	)
}

func (a *App) setupCallbacks() {
	a.pages.SetOnChange(func(top ui.Component, crumbs []string) {
		a.crumbs.Update(crumbs)
		if top != nil {
			a.menu.Update(top.Hints())
		}
	})

	a.list.SetSelectedFunc(func(row, _ int) {
		if id := a.list.ConversationByIndex(row); id != 0 {
			a.open(id)
		}
	})

	a.thread.SetOnSend(a.send)
	a.thread.SetOnTyping(func(stopped bool) {
		go a.vm.Typing(a.ctx, stopped)
	})

	a.search.SetOnQuery(a.runSearch)
	a.search.SetOnSelect(a.open)

	a.login.SetOnSubmit(a.signIn)

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptFilter:
			a.list.SetFilter(text)
		case ui.PromptCommand:
			a.execute(ParseCommand(text))
		}
	})
	a.prompt.SetOnCancel(a.hidePrompt)
}

func (a *App) setupLayout() {
	a.pages.Register(pageLogin, a.login)
	a.pages.Register(pageConversations, a.list)
	a.pages.Register(pageThread, a.thread)
	a.pages.Register(pageInfo, a.details)
	a.pages.Register(pageSearch, a.search)
	a.pages.Register(pageHelp, a.help)

	header := tview.NewFlex().
		AddItem(a.info, 40, 0, false).
		AddItem(a.menu, 0, 1, false).
		AddItem(ui.NewLogo(a.theme), 16, 0, false)

	a.main = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 7, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)
	a.main.SetBackgroundColor(a.theme.BgColor)

	a.app.SetRoot(a.main, true)
	a.app.SetInputCapture(a.capture)
}

func (a *App) capture(event *tcell.EventKey) *tcell.EventKey {
	current := a.pages.Current()
	focused := a.app.GetFocus()

	if focused == a.prompt.InputField {
		return event
	}
	if focused == a.thread.Composer() {
		if event.Key() == tcell.KeyEscape {
			a.app.SetFocus(a.thread.Messages())
			return nil
		}
		return event
	}
	if current == pageLogin {
		return event
	}
	if focused == a.search.Input() {
		switch event.Key() {
		case tcell.KeyEscape:
			a.back()
			return nil
		case tcell.KeyTab, tcell.KeyDown:
			a.app.SetFocus(a.search.Results())
			return nil
		}
		return event
	}

	if event.Key() == tcell.KeyEscape {
		a.back()
		return nil
	}
	if current == pageSearch && event.Key() == tcell.KeyTab {
		a.app.SetFocus(a.search.Input())
		return nil
	}
	if a.registry.HandleEvent(current, event) {
		return nil
	}
	return event
}

// back pops one page, or clears the list filter on the root page.
func (a *App) back() {
	if a.pages.Pop() == "" {
		a.list.ClearFilter()
		return
	}
	if a.pages.Current() == pageConversations {
		a.vm.Close()
	}
	a.focusCurrent()
}

func (a *App) focusCurrent() {
	switch a.pages.Current() {
	case pageThread:
		a.app.SetFocus(a.thread.Messages())
	case pageSearch:
		a.app.SetFocus(a.search.Input())
	default:
		a.app.SetFocus(a.pages.Top())
	}
}

func (a *App) moveList(delta int) {
	row, _ := a.list.GetSelection()
	if row+delta >= 1 && row+delta < a.list.GetRowCount() {
		a.list.Table.Select(row+delta, 0)
	}
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	a.revealPrompt()
}

func (a *App) revealPrompt() {
	a.main.ResizeItem(a.prompt, promptRows, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.main.ResizeItem(a.prompt, 0, 0)
	a.focusCurrent()
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	a.pages.Reset(pageConversations)

	go a.bootstrap()
	go a.watchFlash()
	go a.events.run(a.ctx)
	go a.tick()

	defer a.cancel()
	return a.app.Run()
}

// bootstrap decides between the login form and the conversation list.
func (a *App) bootstrap() {
	ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
	defer cancel()
	if err := a.vm.LoadStatus(ctx); err != nil {
		a.flash.Errf("Daemon unreachable", err)
		return
	}
	if !a.vm.Status().SignedIn {
		a.app.QueueUpdateDraw(a.showLogin)
		return
	}
	a.refreshConversations(false)
}

func (a *App) showLogin() {
	a.vm.Clear()
	a.list.Update(nil)
	a.pages.Reset(pageLogin)
	a.app.SetFocus(a.login)
	a.renderHeader()
}

func (a *App) showConversations() {
	if a.pages.Current() == pageLogin {
		a.pages.Reset(pageConversations)
		a.app.SetFocus(a.list)
	}
}

// tick keeps the header's uptime and channel state fresh.
func (a *App) tick() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(a.ctx, callTimeout)
			err := a.vm.LoadStatus(ctx)
			cancel()
			if err == nil {
				a.app.QueueUpdateDraw(a.renderHeader)
			}
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) watchFlash() {
	for {
		select {
		case n := <-a.flash.Notices():
			a.app.QueueUpdateDraw(func() { a.flashBar.Show(n) })
			time.AfterFunc(n.TTL, func() {
				if a.flash.Expire(n.Seq) {
					a.app.QueueUpdateDraw(func() { a.flashBar.Clear() })
				}
			})
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) renderHeader() {
	st := a.vm.Status()
	data := ui.SessionData{
		Session: a.session,
		Channel: st.Channel,
		Online:  st.Channel == string(status.Connected),
		Chats:   st.Conversations,
		Pending: st.Pending,
		Failed:  st.Failed,
		Uptime:  time.Duration(st.UptimeMs) * time.Millisecond,
	}
	if st.User != nil {
		data.User = st.User.Name
	}
	a.info.Update(data)
}

func (a *App) renderList() {
	self := a.vm.Self()
	convs := a.vm.Conversations()
	rows := make([]views.Row, 0, len(convs))
	for _, c := range convs {
		peer, _ := c.Peer(self.ID)
		rows = append(rows, views.Row{Conversation: c, Peer: peer, Online: a.vm.Online(peer.ID)})
	}
	a.list.Update(rows)
}

func (a *App) renderThread() {
	id := a.vm.Active()
	if id == 0 {
		return
	}
	self := a.vm.Self()
	c, _ := a.vm.Conversation(id)
	peer, _ := c.Peer(self.ID)
	typing := false
	for _, uid := range a.vm.Typers() {
		if uid != self.ID {
			typing = true
		}
	}
	a.thread.Update(views.ThreadData{
		Self:     self,
		Peer:     peer,
		Online:   a.vm.Online(peer.ID),
		Messages: a.vm.Messages(),
		Complete: a.vm.Complete(),
		Typing:   typing,
	})
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
