package ui

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds every binding of the main view
type KeyMap struct {
	Up         key.Binding
	Down       key.Binding
	Select     key.Binding
	NextPane   key.Binding
	PrevPane   key.Binding
	Send       key.Binding
	Home       key.Binding
	StartDM    key.Binding
	NewServer  key.Binding
	JoinServer key.Binding
	Report     key.Binding
	CopyInvite key.Binding
	Dismiss    key.Binding
	Reload     key.Binding
	SignOut    key.Binding
	Help       key.Binding
	Quit       key.Binding
}

// DefaultKeyMap returns the standard bindings
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up:         key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Select:     key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
		NextPane:   key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next pane")),
		PrevPane:   key.NewBinding(key.WithKeys("shift+tab"), key.WithHelp("shift+tab", "previous pane")),
		Send:       key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
		Home:       key.NewBinding(key.WithKeys("ctrl+g"), key.WithHelp("ctrl+g", "direct messages")),
		StartDM:    key.NewBinding(key.WithKeys("ctrl+d"), key.WithHelp("ctrl+d", "new DM")),
		NewServer:  key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "create server")),
		JoinServer: key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "join server")),
		Report:     key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "report message")),
		CopyInvite: key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "show invite code")),
		Dismiss:    key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("ctrl+x", "dismiss notice")),
		Reload:     key.NewBinding(key.WithKeys("ctrl+r"), key.WithHelp("ctrl+r", "reload")),
		SignOut:    key.NewBinding(key.WithKeys("ctrl+o"), key.WithHelp("ctrl+o", "sign out")),
		Help:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:       key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

// ShortHelp is shown in the footer
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.NextPane, k.Select, k.StartDM, k.Help, k.Quit}
}

// FullHelp is shown in the help modal
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Select, k.NextPane, k.PrevPane, k.Send},
		{k.Home, k.StartDM, k.NewServer, k.JoinServer, k.CopyInvite},
		{k.Report, k.Dismiss, k.Reload, k.SignOut, k.Help, k.Quit},
	}
}
