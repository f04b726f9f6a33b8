package mail

// Command is a request sent from the coordinator to an account agent.
// The set is closed; the marker method keeps dispatch exhaustive.
type Command interface{ command() }

// Sync asks the agent to synchronize the selected folder with the server.
type Sync struct{}

// ListFolders asks the agent for the account's folder names.
type ListFolders struct{}

// SelectFolder switches the agent's selected folder and triggers a sync
// of it.
type SelectFolder struct {
	Folder string
}

// FetchBody requests the full body of one message. Folder overrides the
// selected folder when non-empty.
type FetchBody struct {
	UID    uint32
	Folder string
}

// SetFlag adds a flag to a message on the server.
type SetFlag struct {
	UID    uint32
	Flag   Flags
	Folder string
}

// RemoveFlag removes a flag from a message on the server.
type RemoveFlag struct {
	UID    uint32
	Flag   Flags
	Folder string
}

// Delete permanently removes a message on the server. By the time this is
// dispatched the local state no longer shows the message; there is no
// undo past this point.
type Delete struct {
	UID    uint32
	Folder string
}

// FetchAttachment downloads one attachment part to local disk.
type FetchAttachment struct {
	UID    uint32
	Folder string
	Index  int
}

// PrefetchFolder syncs a folder in the background without selecting it.
type PrefetchFolder struct {
	Folder string
}

// Shutdown asks the agent to close its connection and exit.
type Shutdown struct{}

func (Sync) command()            {}
func (ListFolders) command()     {}
func (SelectFolder) command()    {}
func (FetchBody) command()       {}
func (SetFlag) command()         {}
func (RemoveFlag) command()      {}
func (Delete) command()          {}
func (FetchAttachment) command() {}
func (PrefetchFolder) command()  {}
func (Shutdown) command()        {}
