package types

// Request type constants. Every client frame carries one of these.
const (
	ReqHello      = "hello"
	ReqExpand     = "expand"
	ReqCollapse   = "collapse"
	ReqChangeRoot = "changeRoot"
	ReqRefresh    = "refresh"
	ReqOp         = "op"
	ReqSelect     = "select"
	ReqDeselect   = "deselect"
	ReqCopy       = "copy"
	ReqCut        = "cut"
	ReqPaste      = "paste"
	ReqClipboard  = "clipboard"
	ReqSearch     = "search"
)

// Response and push type constants.
const (
	RespAck      = "ack"
	RespSnapshot = "snapshot"
	RespEntries  = "entries"
	RespOpResult = "opResult"
	RespMatches  = "matches"
	RespError    = "error"
	PushDelta    = "delta"
)

// Delta kinds pushed to sessions.
const (
	DeltaAdded           = "added"
	DeltaRemoved         = "removed"
	DeltaUpdated         = "updated"
	DeltaStatus          = "status"
	DeltaResync          = "resync"
	DeltaRootInvalidated = "rootInvalidated"
	DeltaWatchDegraded   = "watchDegraded"
)

// Failure codes carried on error responses and per-path outcomes.
const (
	CodeNotFound         = "notFound"
	CodePermissionDenied = "permissionDenied"
	CodeAlreadyExists    = "alreadyExists"
	CodeCrossDevice      = "crossDevice"
	CodeWatchUnavailable = "watchUnavailable"
	CodeTrashUnavailable = "trashUnavailable"
	CodeVcsQueryFailed   = "vcsQueryFailed"
	CodeCancelled        = "cancelled"
	CodePartial          = "partial"
	CodeBadRequest       = "badRequest"
	CodeInternal         = "internal"
)

// Request is a client-to-server frame. Type selects which fields matter;
// ID is echoed on the matching response.
type Request struct {
	ID         uint64   `json:"id"`
	Type       string   `json:"type"`
	Root       string   `json:"root,omitempty"`
	ShowHidden *bool    `json:"showHidden,omitempty"`
	Path       string   `json:"path,omitempty"`
	Paths      []string `json:"paths,omitempty"`
	Dest       string   `json:"dest,omitempty"`
	Query      string   `json:"query,omitempty"`
	Exact      bool     `json:"exact,omitempty"`
	Op         *Op      `json:"op,omitempty"`
}

// Op describes a mutating file operation.
type Op struct {
	Kind      OpKind   `json:"kind"`
	Paths     []string `json:"paths"`
	Dest      string   `json:"dest,omitempty"`
	Overwrite bool     `json:"overwrite,omitempty"`
	Permanent bool     `json:"permanent,omitempty"` // required for non-trash delete
}

// OpKind enumerates mutating operations.
type OpKind string

const (
	OpCreateFile OpKind = "createFile"
	OpCreateDir  OpKind = "createDir"
	OpRename     OpKind = "rename"
	OpCopy       OpKind = "copy"
	OpMove       OpKind = "move"
	OpTrash      OpKind = "trash"
	OpDelete     OpKind = "delete"
)

// Delta is one incremental change pushed to interested sessions.
type Delta struct {
	Kind  string     `json:"kind"`
	Path  string     `json:"path"`
	From  string     `json:"from,omitempty"` // rename source
	Entry *EntryInfo `json:"entry,omitempty"`
}

// PathResult is the outcome for one path of a multi-path operation.
type PathResult struct {
	Path  string `json:"path"`
	Dest  string `json:"dest,omitempty"`
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// Response is a server-to-client frame. Pushes use ID 0.
type Response struct {
	ID      uint64       `json:"id"`
	Type    string       `json:"type"`
	OK      bool         `json:"ok"`
	Code    string       `json:"code,omitempty"`
	Error   string       `json:"error,omitempty"`
	Root    string       `json:"root,omitempty"`
	Entries []EntryInfo  `json:"entries,omitempty"`
	Results []PathResult `json:"results,omitempty"`
	Paths   []string     `json:"paths,omitempty"`
	Mode    string       `json:"mode,omitempty"` // clipboard mode: "copy" or "cut"
	Delta   *Delta       `json:"delta,omitempty"`
}

// ClipboardMode values.
const (
	ClipboardCopy = "copy"
	ClipboardCut  = "cut"
)
