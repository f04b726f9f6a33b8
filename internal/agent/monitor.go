package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/quillmail/quill/internal/cache"
	"github.com/quillmail/quill/internal/mail"
	"github.com/quillmail/quill/internal/retry"
)

// Monitor watches one folder of one account in the background. It is a
// stripped-down agent: no command channel, just a periodic sync whose
// results land in the cache and whose events the pool tags with the
// folder name.
type Monitor struct {
	accountID string
	folder    string
	session   Session
	cache     *cache.Cache
	interval  time.Duration

	events chan mail.Event
	done   chan struct{}
}

// NewMonitor creates a folder monitor. Run must be called on its own
// goroutine.
func NewMonitor(accountID, folder string, session Session, c *cache.Cache, interval time.Duration) *Monitor {
	return &Monitor{
		accountID: accountID,
		folder:    folder,
		session:   session,
		cache:     c,
		interval:  interval,
		events:    make(chan mail.Event, eventBuffer),
		done:      make(chan struct{}),
	}
}

// Events exposes the monitor's event channel for draining.
func (m *Monitor) Events() <-chan mail.Event { return m.events }

// Folder returns the watched folder name.
func (m *Monitor) Folder() string { return m.folder }

// Done is closed when the monitor goroutine has exited.
func (m *Monitor) Done() <-chan struct{} { return m.done }

// Run is the monitor goroutine body. It exits on context cancellation.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.done)
	defer m.session.Close()

	_, err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.session.Connect(ctx)
	})
	if err != nil {
		log.Printf("monitor %s/%s: connect failed: %v", m.accountID, m.folder, err)
		m.emit(mail.ErrorEvent{Message: fmt.Sprintf("%s/%s: connection failed: %v", m.accountID, m.folder, err)})
		return
	}

	m.sync(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sync(ctx)
		}
	}
}

func (m *Monitor) sync(ctx context.Context) {
	result, err := m.session.Sync(ctx, m.folder)
	if err != nil {
		log.Printf("monitor %s/%s: sync failed: %v", m.accountID, m.folder, err)
		return
	}

	key := mail.CacheKey(m.accountID, m.folder)
	if err := m.cache.InsertHeaders(ctx, key, result.Headers); err != nil {
		log.Printf("monitor %s/%s: caching headers: %v", m.accountID, m.folder, err)
		return
	}

	m.emit(mail.SyncComplete{
		NewCount: result.NewCount,
		Total:    result.Total,
		FullSync: result.FullSync,
	})
	if result.NewCount > 0 {
		m.emit(mail.NewMail{Count: result.NewCount})
	}
}

func (m *Monitor) emit(ev mail.Event) {
	select {
	case m.events <- ev:
	default:
		log.Printf("monitor %s/%s: event channel full, dropping %T", m.accountID, m.folder, ev)
	}
}
