package views

import (
	"github.com/matheus3301/duet/internal/tui/ui"
	"github.com/rivo/tview"
)

// Credentials is what the login form collects. Name is only set on register.
type Credentials struct {
	Name     string
	Email    string
	Password string
	Register bool
}

// LoginView is the sign-in and registration form shown while signed out.
type LoginView struct {
	*tview.Flex
	form     *tview.Form
	message  *tview.TextView
	theme    *ui.Theme
	register bool
	onSubmit func(Credentials)
}

// NewLoginView creates a new login view.
func NewLoginView(theme *ui.Theme) *LoginView {
	form := tview.NewForm()
	form.SetBorder(true)
	form.SetBorderColor(theme.BorderColor)
	form.SetBackgroundColor(theme.BgColor)
	form.SetTitleColor(theme.TitleColor)
	form.SetFieldBackgroundColor(theme.TableHeaderBg)
	form.SetFieldTextColor(theme.FgColor)
	form.SetLabelColor(theme.MenuKeyColor)
	form.SetButtonBackgroundColor(theme.TableCursorBg)
	form.SetButtonTextColor(theme.TableCursorFg)

	message := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	message.SetBackgroundColor(theme.BgColor)

	inner := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(form, 13, 0, true).
		AddItem(message, 2, 0, false)

	flex := tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().
			SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(inner, 15, 0, true).
			AddItem(nil, 0, 1, false), 60, 0, true).
		AddItem(nil, 0, 1, false)
	flex.SetBackgroundColor(theme.BgColor)

	lv := &LoginView{
		Flex:    flex,
		form:    form,
		message: message,
		theme:   theme,
	}
	lv.build()
	return lv
}

func (lv *LoginView) build() {
	lv.form.Clear(true)
	if lv.register {
		lv.form.SetTitle(" Create Account ")
		lv.form.AddInputField("Name", "", 0, nil, nil)
	} else {
		lv.form.SetTitle(" Sign In ")
	}
	lv.form.AddInputField("Email", "", 0, nil, nil)
	lv.form.AddPasswordField("Password", "", 0, '*', nil)

	primary, other := "Sign in", "Register instead"
	if lv.register {
		primary, other = "Register", "Sign in instead"
	}
	lv.form.AddButton(primary, lv.submit)
	lv.form.AddButton(other, func() {
		lv.register = !lv.register
		lv.build()
	})
	lv.form.SetFocus(0)
}

func (lv *LoginView) submit() {
	if lv.onSubmit == nil {
		return
	}
	c := Credentials{Register: lv.register}
	if lv.register {
		c.Name = lv.text("Name")
	}
	c.Email = lv.text("Email")
	c.Password = lv.text("Password")
	if c.Email == "" || c.Password == "" || (c.Register && c.Name == "") {
		lv.ShowError("All fields are required.")
		return
	}
	lv.ShowMessage("Signing in...")
	lv.onSubmit(c)
}

func (lv *LoginView) text(label string) string {
	if f, ok := lv.form.GetFormItemByLabel(label).(*tview.InputField); ok {
		return f.GetText()
	}
	return ""
}

// Name implements Component.
func (lv *LoginView) Name() string { return "Sign In" }

// Start implements Component.
func (lv *LoginView) Start() {}

// Stop implements Component. The form is rebuilt so no password lingers.
func (lv *LoginView) Stop() {
	lv.build()
	lv.message.Clear()
}

// Hints implements Component.
func (lv *LoginView) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Tab", Description: "Next field"},
		{Key: "Enter", Description: "Select"},
		{Key: "Ctrl-C", Description: "Quit"},
	}
}

// SetOnSubmit sets the callback when the form is submitted.
func (lv *LoginView) SetOnSubmit(fn func(Credentials)) {
	lv.onSubmit = fn
}

// ShowMessage displays an informational line under the form.
func (lv *LoginView) ShowMessage(msg string) {
	lv.message.Clear()
	lv.message.SetText(tview.Escape(msg))
}

// ShowError displays an error line under the form.
func (lv *LoginView) ShowError(msg string) {
	lv.message.Clear()
	lv.message.SetText("[" + ui.Hex(lv.theme.FlashErrColor) + "]" + tview.Escape(msg) + "[-]")
}
