// Package modal holds the terminal client's dialogs and the stack that
// layers them over the main view.
package modal

import (
	tea "github.com/charmbracelet/bubbletea"
)

// ModalType uniquely identifies each modal type
type ModalType int

const (
	ModalNone ModalType = iota // Special value: no modal active
	ModalError
	ModalHelp
	ModalConnectionFailed
	ModalStartDM
	ModalCreateServer
	ModalJoinServer
	ModalReport
)

// String returns the string representation of the modal type
func (m ModalType) String() string {
	switch m {
	case ModalNone:
		return "None"
	case ModalError:
		return "Error"
	case ModalHelp:
		return "Help"
	case ModalConnectionFailed:
		return "ConnectionFailed"
	case ModalStartDM:
		return "StartDM"
	case ModalCreateServer:
		return "CreateServer"
	case ModalJoinServer:
		return "JoinServer"
	case ModalReport:
		return "Report"
	default:
		return "Unknown"
	}
}

// Modal represents a modal dialog
type Modal interface {
	// Type returns the modal type identifier
	Type() ModalType

	// HandleKey processes keyboard input when this modal is active
	// Returns (handled, newModal, cmd)
	// - handled: true if the key was consumed by this modal
	// - newModal: nil to close modal, same modal to stay open, different modal to replace
	// - cmd: bubbletea command to execute
	HandleKey(msg tea.KeyMsg) (handled bool, newModal Modal, cmd tea.Cmd)

	// Render returns the modal content to be overlaid
	Render(width, height int) string

	// IsBlockingInput returns true if this modal blocks all input to underlying views
	// If false, unhandled keys fall through to the main view
	IsBlockingInput() bool
}

// UpdatableModal is an optional interface for modals that need to handle Update messages
type UpdatableModal interface {
	Modal
	// Update processes bubbletea messages (e.g. cursor blink)
	Update(msg tea.Msg) tea.Cmd
}

// ModalStack manages the stack of active modals
type ModalStack struct {
	stack []Modal
}

// Push adds a modal to the top of the stack
// If a modal of the same type already exists, it is removed first
func (ms *ModalStack) Push(m Modal) {
	ms.stack = ms.removeByType(m.Type())
	ms.stack = append(ms.stack, m)
}

// Pop removes and returns the top modal
// Returns nil if stack is empty
func (ms *ModalStack) Pop() Modal {
	if len(ms.stack) == 0 {
		return nil
	}
	m := ms.stack[len(ms.stack)-1]
	ms.stack = ms.stack[:len(ms.stack)-1]
	return m
}

// Replace swaps the top modal. A nil replacement pops it.
func (ms *ModalStack) Replace(m Modal) {
	ms.Pop()
	if m != nil {
		ms.stack = append(ms.stack, m)
	}
}

// Top returns the active (topmost) modal without removing it
// Returns nil if stack is empty
func (ms *ModalStack) Top() Modal {
	if len(ms.stack) == 0 {
		return nil
	}
	return ms.stack[len(ms.stack)-1]
}

// TopType returns the type of the active modal, or ModalNone if empty
func (ms *ModalStack) TopType() ModalType {
	if m := ms.Top(); m != nil {
		return m.Type()
	}
	return ModalNone
}

func (ms *ModalStack) removeByType(t ModalType) []Modal {
	filtered := []Modal{}
	for _, m := range ms.stack {
		if m.Type() != t {
			filtered = append(filtered, m)
		}
	}
	return filtered
}

// RemoveByType removes all modals of a specific type from the stack
func (ms *ModalStack) RemoveByType(t ModalType) {
	ms.stack = ms.removeByType(t)
}

// Clear removes all modals
func (ms *ModalStack) Clear() {
	ms.stack = []Modal{}
}

// IsEmpty returns true if no modals are active
func (ms *ModalStack) IsEmpty() bool {
	return len(ms.stack) == 0
}

// Size returns the number of modals in the stack
func (ms *ModalStack) Size() int {
	return len(ms.stack)
}
