package input

// Action is what a keystroke means in the list view.
type Action int

const (
	ActionNone Action = iota
	ActionQuit
	ActionUp
	ActionDown
	ActionOpen
	ActionToggleRead
	ActionToggleStar
	ActionDelete
	ActionUndo
	ActionSearch
	ActionRefresh
	ActionNextAccount
	ActionPrevAccount
	ActionNextFolder
	ActionSummarize
	ActionSummarizeThread
	ActionSaveAttachments
)

// Bindings maps printable keys to actions. Special keys (arrows, enter)
// are handled directly by the coordinator.
type Bindings map[rune]Action

// DefaultBindings returns the stock key map.
func DefaultBindings() Bindings {
	return Bindings{
		'q': ActionQuit,
		'j': ActionDown,
		'k': ActionUp,
		'm': ActionToggleRead,
		's': ActionToggleStar,
		'd': ActionDelete,
		'u': ActionUndo,
		'/': ActionSearch,
		'r': ActionRefresh,
		'a': ActionNextAccount,
		'A': ActionPrevAccount,
		'f': ActionNextFolder,
		'i': ActionSummarize,
		'I': ActionSummarizeThread,
		'o': ActionSaveAttachments,
	}
}

// Lookup resolves a key against the bindings.
func (b Bindings) Lookup(key Key) Action {
	switch key.Special {
	case KeyUp:
		return ActionUp
	case KeyDown:
		return ActionDown
	case KeyEnter:
		return ActionOpen
	case KeyCtrlC:
		return ActionQuit
	}
	if key.Rune != 0 {
		if action, ok := b[key.Rune]; ok {
			return action
		}
	}
	return ActionNone
}
