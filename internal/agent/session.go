// Package agent runs one goroutine per configured account (plus one per
// monitored folder). Agents own their network session and the
// per-account command channel; everything else talks to them through
// message passing only.
package agent

import (
	"context"

	"github.com/quillmail/quill/internal/cache"
	"github.com/quillmail/quill/internal/mail"
)

// SyncResult is what one folder synchronization produced. Headers hold
// every fetched header, NewCount how many were not seen before.
type SyncResult struct {
	Headers  []mail.EmailHeader
	NewCount int
	Total    int
	FullSync bool
}

// BodyResult is a fetched and parsed message body plus the attachment
// metadata discovered while parsing. Raw is the unparsed RFC 822 message;
// it is cached so attachments can be extracted without re-downloading.
type BodyResult struct {
	Body        string
	Raw         []byte
	Attachments []cache.Attachment
}

// Session is the wire protocol an agent drives. IMAPSession is the real
// implementation; tests substitute a fake.
type Session interface {
	Connect(ctx context.Context) error
	ListFolders(ctx context.Context) ([]string, error)
	Sync(ctx context.Context, folder string) (*SyncResult, error)
	FetchBody(ctx context.Context, folder string, uid uint32) (*BodyResult, error)
	// FetchAttachment downloads one attachment part into destDir and
	// returns the written path.
	FetchAttachment(ctx context.Context, folder string, uid uint32, index int, destDir string) (string, error)
	// Store adds or removes one flag and returns the message's resulting
	// flag bitmask.
	Store(ctx context.Context, folder string, uid uint32, flag mail.Flags, add bool) (mail.Flags, error)
	Delete(ctx context.Context, folder string, uid uint32) error
	Close() error
}
