package ai

import (
	"context"
	"log"

	"github.com/quillmail/quill/internal/mail"
	"github.com/quillmail/quill/internal/retry"
)

// Command is a request to the assistant agent. The set is closed.
type Command interface{ aiCommand() }

// SummarizeEmail asks for a short summary of one message.
type SummarizeEmail struct {
	UID     uint32
	Subject string
	Body    string
}

// SummarizeThread asks for a summary of a whole conversation. Messages
// are rendered bodies, oldest first.
type SummarizeThread struct {
	ThreadID mail.ThreadID
	Subject  string
	Messages []string
}

// Polish asks for a rewritten version of a draft.
type Polish struct {
	Original string
}

func (SummarizeEmail) aiCommand()  {}
func (SummarizeThread) aiCommand() {}
func (Polish) aiCommand()          {}

// Event is a result from the assistant agent. The set is closed.
type Event interface{ aiEvent() }

// EmailSummary delivers a single-message summary.
type EmailSummary struct {
	UID     uint32
	Summary string
}

// ThreadSummary delivers a conversation summary.
type ThreadSummary struct {
	ThreadID mail.ThreadID
	Summary  string
}

// Polished delivers a rewritten draft.
type Polished struct {
	Original string
	Polished string
}

// Error carries a user-facing assistant error.
type Error struct {
	Message string
}

func (EmailSummary) aiEvent()  {}
func (ThreadSummary) aiEvent() {}
func (Polished) aiEvent()      {}
func (Error) aiEvent()         {}

const actorBuffer = 16

// Actor is the assistant agent goroutine. Like the account agents it
// talks to the coordinator only through bounded channels with
// non-blocking sends.
type Actor struct {
	completer Completer
	retryCfg  retry.Config

	cmds   chan Command
	events chan Event
	done   chan struct{}
}

// NewActor creates the assistant agent. Run must be called on its own
// goroutine.
func NewActor(completer Completer, retryCfg retry.Config) *Actor {
	return &Actor{
		completer: completer,
		retryCfg:  retryCfg,
		cmds:      make(chan Command, actorBuffer),
		events:    make(chan Event, actorBuffer),
		done:      make(chan struct{}),
	}
}

// Events exposes the actor's event channel for draining.
func (a *Actor) Events() <-chan Event { return a.events }

// Done is closed when the actor goroutine has exited.
func (a *Actor) Done() <-chan struct{} { return a.done }

// Send enqueues a command without blocking.
func (a *Actor) Send(cmd Command) bool {
	select {
	case a.cmds <- cmd:
		return true
	default:
		log.Printf("ai: command channel full, dropping %T", cmd)
		return false
	}
}

// Run is the actor goroutine body. It exits on context cancellation.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-a.cmds:
			a.handle(ctx, cmd)
		}
	}
}

func (a *Actor) handle(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case SummarizeEmail:
		text, err := a.complete(ctx, summarizeSystem, summarizePrompt(c.Subject, c.Body))
		if err != nil {
			a.emit(Error{Message: "summarize failed: " + err.Error()})
			return
		}
		a.emit(EmailSummary{UID: c.UID, Summary: text})

	case SummarizeThread:
		text, err := a.complete(ctx, threadSystem, threadPrompt(c.Subject, c.Messages))
		if err != nil {
			a.emit(Error{Message: "thread summary failed: " + err.Error()})
			return
		}
		a.emit(ThreadSummary{ThreadID: c.ThreadID, Summary: text})

	case Polish:
		text, err := a.complete(ctx, polishSystem, c.Original)
		if err != nil {
			a.emit(Error{Message: "polish failed: " + err.Error()})
			return
		}
		a.emit(Polished{Original: c.Original, Polished: text})
	}
}

func (a *Actor) complete(ctx context.Context, system, user string) (string, error) {
	return retry.Do(ctx, a.retryCfg, func(ctx context.Context) (string, error) {
		return a.completer.Complete(ctx, system, user)
	})
}

func (a *Actor) emit(ev Event) {
	select {
	case a.events <- ev:
	default:
		log.Printf("ai: event channel full, dropping %T", ev)
	}
}
