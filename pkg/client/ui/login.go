package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	loginFieldUsername = iota
	loginFieldPassword
)

// loginForm is the sign in / sign up surface shown until a session exists
type loginForm struct {
	username textinput.Model
	password textinput.Model
	focused  int
	signUp   bool
	busy     bool
	err      string
}

func newLoginForm(lastUsername string, maxUsername int) loginForm {
	user := textinput.New()
	user.Placeholder = "username"
	user.Prompt = "Username: "
	user.CharLimit = maxUsername
	user.Width = 32
	user.SetValue(lastUsername)

	pass := textinput.New()
	pass.Placeholder = "password"
	pass.Prompt = "Password: "
	pass.EchoMode = textinput.EchoPassword
	pass.EchoCharacter = '•'
	pass.Width = 32

	f := loginForm{username: user, password: pass}
	if lastUsername != "" {
		f.focus(loginFieldPassword)
	} else {
		f.focus(loginFieldUsername)
	}
	return f
}

func (f *loginForm) focus(field int) {
	f.focused = field
	if field == loginFieldUsername {
		f.username.Focus()
		f.password.Blur()
	} else {
		f.password.Focus()
		f.username.Blur()
	}
}

func (f *loginForm) toggleField() {
	if f.focused == loginFieldUsername {
		f.focus(loginFieldPassword)
	} else {
		f.focus(loginFieldUsername)
	}
}

func (f loginForm) credentials() (string, string) {
	return strings.TrimSpace(f.username.Value()), f.password.Value()
}

// update forwards a message to the focused field
func (f *loginForm) update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	if f.focused == loginFieldUsername {
		f.username, cmd = f.username.Update(msg)
	} else {
		f.password, cmd = f.password.Update(msg)
	}
	return cmd
}

func (f loginForm) view(serverURL string, width, height int) string {
	title := "Sign in to Chorus"
	toggle := "[Ctrl+S] Create an account instead"
	action := "[Enter] Sign in"
	if f.signUp {
		title = "Create a Chorus account"
		toggle = "[Ctrl+S] I already have an account"
		action = "[Enter] Sign up"
	}

	lines := []string{
		HeaderStyle.Render(title),
		MutedStyle.Render(serverURL),
		"",
		f.username.View(),
		f.password.View(),
		"",
	}
	switch {
	case f.busy:
		lines = append(lines, WarningStyle.Render("Contacting server..."))
	case f.err != "":
		lines = append(lines, ErrorStyle.Render(f.err))
	default:
		lines = append(lines, "")
	}
	lines = append(lines, "", MutedStyle.Render(action+"  [Tab] Switch field  "+toggle))

	box := LoginBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, box)
}
