package mail

// Event is a notification sent from an account agent back to the
// coordinator. Like Command, the set is closed.
type Event interface{ event() }

// Connected reports a successful connection (or reconnection).
type Connected struct{}

// SyncStarted reports that a folder sync began.
type SyncStarted struct{}

// SyncComplete reports a finished sync. Headers are already in the cache
// when this event is observed. FullSync means the agent refreshed the
// whole folder rather than only fetching new mail.
type SyncComplete struct {
	NewCount int
	Total    int
	FullSync bool
}

// NewMail reports messages that arrived since the last sync.
type NewMail struct {
	Count int
}

// BodyFetched delivers a fetched message body. The body is also in the
// cache by the time this is observed.
type BodyFetched struct {
	UID  uint32
	Body string
}

// BodyFetchFailed reports a failed body fetch.
type BodyFetchFailed struct {
	UID uint32
	Err string
}

// FlagUpdated confirms a server-side flag change with the resulting
// bitmask.
type FlagUpdated struct {
	UID   uint32
	Flags Flags
}

// Deleted confirms a server-side deletion.
type Deleted struct {
	UID uint32
}

// FolderList delivers the account's folder names.
type FolderList struct {
	Folders []string
}

// FolderSelected confirms a folder switch.
type FolderSelected struct {
	Folder string
}

// PrefetchComplete reports that a background folder sync finished.
type PrefetchComplete struct {
	Folder string
}

// AttachmentFetched delivers the on-disk path of a downloaded attachment.
type AttachmentFetched struct {
	UID   uint32
	Index int
	Path  string
}

// AttachmentFetchFailed reports a failed attachment download.
type AttachmentFetchFailed struct {
	UID   uint32
	Index int
	Err   string
}

// ErrorEvent carries a user-facing error message from the agent.
type ErrorEvent struct {
	Message string
}

func (Connected) event()             {}
func (SyncStarted) event()           {}
func (SyncComplete) event()          {}
func (NewMail) event()               {}
func (BodyFetched) event()           {}
func (BodyFetchFailed) event()       {}
func (FlagUpdated) event()           {}
func (Deleted) event()               {}
func (FolderList) event()            {}
func (FolderSelected) event()        {}
func (PrefetchComplete) event()      {}
func (AttachmentFetched) event()     {}
func (AttachmentFetchFailed) event() {}
func (ErrorEvent) event()            {}
