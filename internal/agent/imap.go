package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	gomail "github.com/emersion/go-message/mail"

	"github.com/quillmail/quill/internal/cache"
	"github.com/quillmail/quill/internal/mail"
	"github.com/quillmail/quill/internal/model"
)

// fetchLimit caps how many headers one folder sync pulls. Older mail is
// reached through pagination against the cache, not the server.
const fetchLimit = 500

// IMAPSession implements Session over a persistent go-imap connection.
// It is driven by exactly one agent goroutine and needs no locking.
type IMAPSession struct {
	account  model.Account
	password string

	client   *imapclient.Client
	selected string
	// maxSeen tracks the highest uid observed per folder, for new-mail
	// detection across syncs.
	maxSeen map[string]uint32
}

// NewIMAPSession creates a session configuration. No connection is made
// until Connect.
func NewIMAPSession(account model.Account, password string) *IMAPSession {
	return &IMAPSession{
		account:  account,
		password: password,
		maxSeen:  make(map[string]uint32),
	}
}

// Connect dials the server and authenticates. A previous connection, if
// any, is discarded first.
func (s *IMAPSession) Connect(_ context.Context) error {
	if s.client != nil {
		_ = s.client.Close()
		s.client = nil
		s.selected = ""
	}

	addr := s.account.Addr()

	var client *imapclient.Client
	var err error
	if s.account.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(s.account.ID, s.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return fmt.Errorf("authenticating %s: %w", s.account.ID, err)
	}

	s.client = client
	return nil
}

// Close logs out and drops the connection.
func (s *IMAPSession) Close() error {
	if s.client == nil {
		return nil
	}
	err := s.client.Logout().Wait()
	s.client = nil
	s.selected = ""
	return err
}

// ListFolders returns the account's mailbox names.
func (s *IMAPSession) ListFolders(_ context.Context) ([]string, error) {
	if s.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	mailboxes, err := s.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}

	folders := make([]string, 0, len(mailboxes))
	for _, mb := range mailboxes {
		folders = append(folders, mb.Mailbox)
	}
	return folders, nil
}

// selectFolder issues SELECT only when the folder actually changes.
func (s *IMAPSession) selectFolder(folder string) error {
	if s.client == nil {
		return fmt.Errorf("not connected")
	}
	if s.selected == folder {
		return nil
	}
	if _, err := s.client.Select(folder, nil).Wait(); err != nil {
		return fmt.Errorf("selecting %s: %w", folder, err)
	}
	s.selected = folder
	return nil
}

// Sync fetches envelopes and flags for the most recent messages in the
// folder and reports how many were new since the previous sync.
func (s *IMAPSession) Sync(_ context.Context, folder string) (*SyncResult, error) {
	if err := s.selectFolder(folder); err != nil {
		return nil, err
	}

	searchData, err := s.client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", folder, err)
	}

	uids := searchData.AllUIDs()
	total := len(uids)
	if len(uids) > fetchLimit {
		uids = uids[len(uids)-fetchLimit:]
	}

	prevMax, known := s.maxSeen[folder]
	result := &SyncResult{Total: total, FullSync: !known}

	if len(uids) == 0 {
		s.maxSeen[folder] = prevMax
		return result, nil
	}

	fetchCmd := s.client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
		UID:      true,
	})
	defer fetchCmd.Close()

	maxUID := prevMax
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		h := headerFromBuffer(buf)
		if known && h.UID > prevMax {
			result.NewCount++
		}
		if h.UID > maxUID {
			maxUID = h.UID
		}
		result.Headers = append(result.Headers, h)
	}

	if err := fetchCmd.Close(); err != nil {
		return result, fmt.Errorf("fetching headers in %s: %w", folder, err)
	}

	s.maxSeen[folder] = maxUID
	return result, nil
}

// FetchBody downloads and parses one message body.
func (s *IMAPSession) FetchBody(_ context.Context, folder string, uid uint32) (*BodyResult, error) {
	raw, err := s.fetchRaw(folder, uid)
	if err != nil {
		return nil, err
	}

	body, attachments := parseMIMEBody(uid, raw)
	return &BodyResult{Body: body, Raw: raw, Attachments: attachments}, nil
}

// FetchAttachment downloads one message, extracts the index-th attachment
// part, and writes it to destDir.
func (s *IMAPSession) FetchAttachment(
	_ context.Context, folder string, uid uint32, index int, destDir string,
) (string, error) {
	raw, err := s.fetchRaw(folder, uid)
	if err != nil {
		return "", err
	}
	return saveAttachmentPart(raw, uid, index, destDir)
}

// saveAttachmentPart extracts the index-th attachment from a raw message
// and writes it to destDir. The agent uses it against the cached raw
// message so saving attachments needs no server round-trip.
func saveAttachmentPart(raw []byte, uid uint32, index int, destDir string) (string, error) {
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parsing message %d: %w", uid, err)
	}
	defer mr.Close()

	seen := 0
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*gomail.AttachmentHeader)
		if !ok {
			continue
		}
		seen++
		if seen != index {
			continue
		}

		filename, _ := h.Filename()
		if filename == "" {
			filename = fmt.Sprintf("attachment-%d", index)
		}
		data, err := io.ReadAll(part.Body)
		if err != nil {
			return "", fmt.Errorf("reading attachment %d/%d: %w", uid, index, err)
		}

		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return "", fmt.Errorf("creating attachment dir: %w", err)
		}
		path := filepath.Join(destDir, fmt.Sprintf("%d-%d-%s", uid, index, filepath.Base(filename)))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return "", fmt.Errorf("writing attachment: %w", err)
		}
		return path, nil
	}

	return "", fmt.Errorf("message %d has no attachment %d", uid, index)
}

// Store adds or removes one flag and returns the resulting bitmask as
// reported by the server.
func (s *IMAPSession) Store(
	_ context.Context, folder string, uid uint32, flag mail.Flags, add bool,
) (mail.Flags, error) {
	if err := s.selectFolder(folder); err != nil {
		return 0, err
	}

	op := imap.StoreFlagsAdd
	if !add {
		op = imap.StoreFlagsDel
	}

	msgs, err := s.client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:    op,
		Flags: []imap.Flag{toIMAPFlag(flag)},
	}, nil).Collect()
	if err != nil {
		return 0, fmt.Errorf("storing flags on %d: %w", uid, err)
	}

	if len(msgs) == 0 {
		return 0, fmt.Errorf("no flag response for %d", uid)
	}
	return fromIMAPFlags(msgs[0].Flags), nil
}

// Delete marks the message deleted and expunges the folder.
func (s *IMAPSession) Delete(_ context.Context, folder string, uid uint32) error {
	if err := s.selectFolder(folder); err != nil {
		return err
	}

	err := s.client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil).Close()
	if err != nil {
		return fmt.Errorf("marking %d deleted: %w", uid, err)
	}

	if err := s.client.Expunge().Close(); err != nil {
		return fmt.Errorf("expunging %s: %w", folder, err)
	}
	return nil
}

// fetchRaw downloads the full RFC 822 content of one message.
func (s *IMAPSession) fetchRaw(folder string, uid uint32) ([]byte, error) {
	if err := s.selectFolder(folder); err != nil {
		return nil, err
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := s.client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message %d not found", uid)
	}
	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message %d: %w", uid, err)
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching message %d: %w", uid, err)
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return nil, fmt.Errorf("message %d has no body section", uid)
	}
	return raw, nil
}

// headerFromBuffer converts a fetched message into the local header model.
func headerFromBuffer(buf *imapclient.FetchMessageBuffer) mail.EmailHeader {
	h := mail.EmailHeader{
		UID:   uint32(buf.UID),
		Flags: fromIMAPFlags(buf.Flags),
	}

	if env := buf.Envelope; env != nil {
		h.MessageID = env.MessageID
		h.Subject = env.Subject
		h.Date = env.Date.Unix()
		// The envelope may list several In-Reply-To IDs; thread grouping
		// wants the immediate parent, which comes first.
		if len(env.InReplyTo) > 0 {
			h.InReplyTo = env.InReplyTo[0]
		}

		if len(env.From) > 0 {
			h.FromAddr = env.From[0].Addr()
			h.FromName = env.From[0].Name
		}
		if len(env.To) > 0 {
			h.ToAddr = env.To[0].Addr()
		}
	}

	return h
}

// toIMAPFlag maps one local flag bit to the wire flag.
func toIMAPFlag(f mail.Flags) imap.Flag {
	switch f {
	case mail.FlagSeen:
		return imap.FlagSeen
	case mail.FlagStarred:
		return imap.FlagFlagged
	case mail.FlagAnswered:
		return imap.FlagAnswered
	case mail.FlagDeleted:
		return imap.FlagDeleted
	case mail.FlagDraft:
		return imap.FlagDraft
	}
	return ""
}

// fromIMAPFlags folds wire flags into the local bitmask.
func fromIMAPFlags(flags []imap.Flag) mail.Flags {
	var f mail.Flags
	for _, fl := range flags {
		switch fl {
		case imap.FlagSeen:
			f = f.With(mail.FlagSeen)
		case imap.FlagFlagged:
			f = f.With(mail.FlagStarred)
		case imap.FlagAnswered:
			f = f.With(mail.FlagAnswered)
		case imap.FlagDeleted:
			f = f.With(mail.FlagDeleted)
		case imap.FlagDraft:
			f = f.With(mail.FlagDraft)
		}
	}
	return f
}

// parseMIMEBody extracts the best displayable body text and attachment
// metadata from a raw message.
func parseMIMEBody(uid uint32, raw []byte) (string, []cache.Attachment) {
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Unparseable MIME: show the raw text rather than nothing.
		return string(raw), nil
	}
	defer mr.Close()

	var textBody, htmlBody string
	var attachments []cache.Attachment

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *gomail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html"):
				htmlBody = string(body)
			}

		case *gomail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			attachments = append(attachments, cache.Attachment{
				UID:      uid,
				Index:    len(attachments) + 1,
				Filename: filename,
				MimeType: contentType,
				Size:     int64(len(body)),
			})
		}
	}

	if textBody != "" {
		return textBody, attachments
	}
	return htmlBody, attachments
}
