package agent

import (
	"context"
	"time"

	"github.com/quillmail/quill/internal/cache"
	"github.com/quillmail/quill/internal/mail"
	"github.com/quillmail/quill/internal/model"
)

// SessionFactory builds a session for one account+folder pair. Tests
// substitute fakes; main wires NewIMAPSession.
type SessionFactory func(account model.Account) Session

// AccountEvent is a drained agent or monitor event tagged with its
// origin. Folder is empty for main-path agent events and names the
// watched folder for monitor events.
type AccountEvent struct {
	AccountIndex int
	AccountID    string
	Folder       string
	Event        mail.Event
}

// AccountStatus is the passive per-account info the frame shows:
// badge count, connectivity, and the cached folder list.
type AccountStatus struct {
	ID           string
	Name         string
	NewMailCount int
	Connected    bool
	LastError    string
	Folders      []string
}

// handle bundles one account's agent, its folder monitors, and the
// passively maintained status.
type handle struct {
	account  model.Account
	agent    *Agent
	monitors []*Monitor
	status   AccountStatus
}

// Pool owns every account's agent and monitor goroutines. It is driven
// only by the coordinator goroutine, so its bookkeeping needs no locks;
// all cross-goroutine traffic rides the agents' channels.
type Pool struct {
	handles []*handle
	active  int
	cancel  context.CancelFunc
}

// NewPool builds (but does not start) agents for the configured accounts
// and monitors for each account's watched folders.
func NewPool(accounts []model.Account, factory SessionFactory, c *cache.Cache, attachDir string, syncInterval time.Duration) *Pool {
	p := &Pool{}
	for _, acct := range accounts {
		h := &handle{
			account: acct,
			agent:   New(acct.ID, factory(acct), c, attachDir, syncInterval),
			status:  AccountStatus{ID: acct.ID, Name: acct.Name},
		}
		for _, folder := range acct.Monitors {
			h.monitors = append(h.monitors,
				NewMonitor(acct.ID, folder, factory(acct), c, syncInterval))
		}
		p.handles = append(p.handles, h)
	}
	return p
}

// Start launches every agent and monitor goroutine.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for _, h := range p.handles {
		go h.agent.Run(ctx)
		for _, m := range h.monitors {
			go m.Run(ctx)
		}
	}
}

// PollEvents drains every queued event from every agent and monitor
// without blocking, updating the passive account statuses as it goes.
func (p *Pool) PollEvents() []AccountEvent {
	var drained []AccountEvent
	for i, h := range p.handles {
		for {
			select {
			case ev := <-h.agent.Events():
				p.observe(i, ev)
				drained = append(drained, AccountEvent{
					AccountIndex: i,
					AccountID:    h.account.ID,
					Event:        ev,
				})
				continue
			default:
			}
			break
		}

		for _, m := range h.monitors {
			for {
				select {
				case ev := <-m.Events():
					drained = append(drained, AccountEvent{
						AccountIndex: i,
						AccountID:    h.account.ID,
						Folder:       m.Folder(),
						Event:        ev,
					})
					continue
				default:
				}
				break
			}
		}
	}
	return drained
}

// observe maintains the passive status fields from main-path events.
func (p *Pool) observe(i int, ev mail.Event) {
	st := &p.handles[i].status
	switch e := ev.(type) {
	case mail.Connected:
		st.Connected = true
		st.LastError = ""
	case mail.ErrorEvent:
		st.LastError = e.Message
	case mail.FolderList:
		st.Folders = e.Folders
	case mail.NewMail:
		if i != p.active {
			st.NewMailCount += e.Count
		}
	}
}

// Len returns the number of accounts.
func (p *Pool) Len() int { return len(p.handles) }

// Active returns the index of the active account.
func (p *Pool) Active() int { return p.active }

// ActiveID returns the active account's ID.
func (p *Pool) ActiveID() string {
	if len(p.handles) == 0 {
		return ""
	}
	return p.handles[p.active].account.ID
}

// Status returns the passive status of one account.
func (p *Pool) Status(i int) AccountStatus {
	return p.handles[i].status
}

// Statuses returns the passive status of every account, in order.
func (p *Pool) Statuses() []AccountStatus {
	out := make([]AccountStatus, len(p.handles))
	for i, h := range p.handles {
		out[i] = h.status
	}
	return out
}

// Send dispatches a command to the active account's agent.
func (p *Pool) Send(cmd mail.Command) bool {
	if len(p.handles) == 0 {
		return false
	}
	return p.handles[p.active].agent.Send(cmd)
}

// SendTo dispatches a command to the agent of the named account,
// regardless of which account is active. Deletion sweeps use this so a
// pending deletion commits to the account that recorded it.
func (p *Pool) SendTo(accountID string, cmd mail.Command) bool {
	for _, h := range p.handles {
		if h.account.ID == accountID {
			return h.agent.Send(cmd)
		}
	}
	return false
}

// NextAccount advances the active account and clears its badge.
func (p *Pool) NextAccount() int {
	if len(p.handles) == 0 {
		return 0
	}
	p.active = (p.active + 1) % len(p.handles)
	p.handles[p.active].status.NewMailCount = 0
	return p.active
}

// PrevAccount steps the active account back and clears its badge.
func (p *Pool) PrevAccount() int {
	if len(p.handles) == 0 {
		return 0
	}
	p.active = (p.active - 1 + len(p.handles)) % len(p.handles)
	p.handles[p.active].status.NewMailCount = 0
	return p.active
}

// Shutdown asks every agent to exit, cancels the monitors, and waits for
// the agents to finish so their sessions close cleanly.
func (p *Pool) Shutdown(timeout time.Duration) {
	for _, h := range p.handles {
		h.agent.Send(mail.Shutdown{})
	}

	deadline := time.After(timeout)
	for _, h := range p.handles {
		select {
		case <-h.agent.Done():
		case <-deadline:
		}
	}

	if p.cancel != nil {
		p.cancel()
	}
}
