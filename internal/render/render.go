// Package render runs the render process: a goroutine that owns the
// terminal and draws snapshots of the UI state. The coordinator hands it
// frames through a capacity-one channel, so producing a frame never
// blocks the event loop and only the newest pending frame survives.
package render

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Renderer consumes snapshots and draws them. Exactly one goroutine
// reads frames; exactly one (the coordinator) writes them.
type Renderer struct {
	out io.Writer

	frames chan *Snapshot
	stop   chan chan struct{}
	done   chan struct{}

	rawState *term.State
	ttyFD    int
	isTTY    bool
}

// New creates a renderer writing to out. When out is a terminal the
// renderer takes ownership of it: raw mode and the alternate screen are
// entered on Start and restored on Stop.
func New(out io.Writer) *Renderer {
	r := &Renderer{
		out:    out,
		frames: make(chan *Snapshot, 1),
		stop:   make(chan chan struct{}),
		done:   make(chan struct{}),
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		r.isTTY = true
		r.ttyFD = int(f.Fd())
	}
	return r
}

// Start enters raw mode (when on a terminal) and launches the render
// goroutine.
func (r *Renderer) Start() error {
	if r.isTTY {
		state, err := term.MakeRaw(r.ttyFD)
		if err != nil {
			return fmt.Errorf("entering raw mode: %w", err)
		}
		r.rawState = state
		fmt.Fprint(r.out, "\x1b[?1049h\x1b[?25l") // alt screen, hide cursor
	}

	go r.run()
	return nil
}

// Render hands a snapshot to the render goroutine without ever blocking.
// If a frame is already pending it is discarded in favor of this one:
// the renderer eventually draws a snapshot at least as recent as the
// last one retained here.
func (r *Renderer) Render(snap *Snapshot) {
	select {
	case r.frames <- snap:
		return
	default:
	}

	// Channel full: drop the stale pending frame, then retry. If the
	// goroutine consumed it in between, the send simply succeeds.
	select {
	case <-r.frames:
	default:
	}
	select {
	case r.frames <- snap:
	default:
	}
}

// Stop shuts the render goroutine down and blocks until it acknowledges,
// so the terminal is restored before the caller exits.
func (r *Renderer) Stop() {
	ack := make(chan struct{})
	select {
	case r.stop <- ack:
		<-ack
	case <-r.done:
	}
}

func (r *Renderer) run() {
	defer close(r.done)

	for {
		select {
		case snap := <-r.frames:
			r.draw(snap)
		case ack := <-r.stop:
			r.restore()
			close(ack)
			return
		}
	}
}

func (r *Renderer) draw(snap *Snapshot) {
	width, height := 80, 24
	if r.isTTY {
		if w, h, err := term.GetSize(r.ttyFD); err == nil {
			width, height = w, h
		}
	}

	frame := buildFrame(snap, width, height)
	fmt.Fprint(r.out, "\x1b[H\x1b[2J"+frame)
}

func (r *Renderer) restore() {
	if !r.isTTY {
		return
	}
	fmt.Fprint(r.out, "\x1b[?25h\x1b[?1049l") // show cursor, leave alt screen
	if r.rawState != nil {
		_ = term.Restore(r.ttyFD, r.rawState)
	}
}
