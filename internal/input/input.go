// Package input reads raw terminal keystrokes on a background goroutine
// and exposes them as a channel the event loop can poll with a timeout.
// The terminal is already in raw mode (the renderer owns that); this
// package only parses the byte stream.
package input

import (
	"bufio"
	"io"
)

// Special identifies non-printable keys.
type Special int

const (
	KeyNone Special = iota
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyEnter
	KeyEscape
	KeyBackspace
	KeyTab
	KeyCtrlC
)

// Key is one decoded keystroke: either a printable rune or a special key.
type Key struct {
	Rune    rune
	Special Special
}

// Reader decodes keystrokes from a raw-mode byte stream.
type Reader struct {
	src  *bufio.Reader
	keys chan Key
}

// NewReader wraps a raw-mode input stream. Start launches the decode
// goroutine.
func NewReader(src io.Reader) *Reader {
	return &Reader{
		src:  bufio.NewReader(src),
		keys: make(chan Key, 16),
	}
}

// Keys exposes the decoded keystroke channel.
func (r *Reader) Keys() <-chan Key { return r.keys }

// Start launches the decode goroutine. It exits (closing the channel)
// when the underlying stream ends.
func (r *Reader) Start() {
	go r.run()
}

func (r *Reader) run() {
	defer close(r.keys)
	for {
		key, ok := r.readKey()
		if !ok {
			return
		}
		r.keys <- key
	}
}

func (r *Reader) readKey() (Key, bool) {
	b, err := r.src.ReadByte()
	if err != nil {
		return Key{}, false
	}

	switch b {
	case 0x03:
		return Key{Special: KeyCtrlC}, true
	case '\r', '\n':
		return Key{Special: KeyEnter}, true
	case 0x7f, 0x08:
		return Key{Special: KeyBackspace}, true
	case '\t':
		return Key{Special: KeyTab}, true
	case 0x1b:
		return r.readEscape()
	}

	if b < 0x20 {
		return Key{Special: KeyNone}, true
	}
	if b < 0x80 {
		return Key{Rune: rune(b)}, true
	}

	// Multi-byte UTF-8: unread and decode as a rune.
	if err := r.src.UnreadByte(); err != nil {
		return Key{}, false
	}
	ru, _, err := r.src.ReadRune()
	if err != nil {
		return Key{}, false
	}
	return Key{Rune: ru}, true
}

// readEscape decodes the common CSI arrow sequences; a bare escape (no
// buffered continuation) is the escape key.
func (r *Reader) readEscape() (Key, bool) {
	if r.src.Buffered() == 0 {
		return Key{Special: KeyEscape}, true
	}

	b, err := r.src.ReadByte()
	if err != nil {
		return Key{Special: KeyEscape}, true
	}
	if b != '[' && b != 'O' {
		_ = r.src.UnreadByte()
		return Key{Special: KeyEscape}, true
	}

	b, err = r.src.ReadByte()
	if err != nil {
		return Key{Special: KeyEscape}, true
	}
	switch b {
	case 'A':
		return Key{Special: KeyUp}, true
	case 'B':
		return Key{Special: KeyDown}, true
	case 'C':
		return Key{Special: KeyRight}, true
	case 'D':
		return Key{Special: KeyLeft}, true
	}
	return Key{Special: KeyEscape}, true
}
