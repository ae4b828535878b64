package daemon

import (
	"fmt"

	"github.com/Aman-CERP/indexkeeper/internal/bus"
	"github.com/Aman-CERP/indexkeeper/internal/cache"
	"github.com/Aman-CERP/indexkeeper/internal/errors"
	"github.com/Aman-CERP/indexkeeper/internal/search"
	"github.com/Aman-CERP/indexkeeper/internal/telemetry"
)

// JSON-RPC 2.0 method names.
const (
	MethodPing             = "ping"
	MethodStatus           = "status"
	MethodSearch           = "search"
	MethodSuggest          = "suggest"
	MethodIndex            = "index"
	MethodDelete           = "delete"
	MethodDirectoryQuery   = "directory_query"
	MethodDirectoryChanged = "directory_changed"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Daemon-specific error codes.
const (
	ErrCodeNotFound      = -32001
	ErrCodeSearchFailed  = -32002
	ErrCodeBusy          = -32003
	ErrCodeIndexFailed   = -32004
	ErrCodeUnavailable   = -32005
	ErrCodeInvalidSearch = -32006
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error. Data carries the indexkeeper
// error code when there is one.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{JSONRPC: "2.0", Result: result, ID: id}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	}
}

// errorResponse maps an indexkeeper error to a JSON-RPC error.
func errorResponse(id string, err error, fallback int) Response {
	resp := NewErrorResponse(id, fallback, err.Error())
	code := errors.GetCode(err)
	switch code {
	case errors.ErrCodeNotFound, errors.ErrCodeUnknownType:
		resp.Error.Code = ErrCodeNotFound
	case errors.ErrCodeLockContention, errors.ErrCodeBuildLockTimeout:
		resp.Error.Code = ErrCodeBusy
	case errors.ErrCodeBusUnavailable, errors.ErrCodePublishFailed:
		resp.Error.Code = ErrCodeUnavailable
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidQuery:
		resp.Error.Code = ErrCodeInvalidParams
	}
	if code != "" {
		resp.Error.Data = code
	}
	return resp
}

// Search modes.
const (
	ModeDefault          = ""
	ModeNgram            = "ngram"
	ModeSuggestAndSearch = "suggest_and_search"
)

// SearchParams are the parameters for search and suggest.
type SearchParams struct {
	// Principal owns the indexes searched (required).
	Principal string `json:"principal"`
	// Query is the raw query text (required).
	Query string `json:"query"`
	// Mode selects the search flavor; suggest ignores it.
	Mode string `json:"mode,omitempty"`

	search.Options
}

// Validate checks required fields and clamps the page size.
func (p *SearchParams) Validate() error {
	if p.Principal == "" {
		return fmt.Errorf("principal is required")
	}
	if p.Query == "" {
		return fmt.Errorf("query is required")
	}
	switch p.Mode {
	case ModeDefault, ModeNgram, ModeSuggestAndSearch:
	default:
		return fmt.Errorf("unknown search mode %q", p.Mode)
	}
	if p.Limit < 0 {
		p.Limit = search.DefaultLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return nil
}

// IndexParams are the parameters for index. Update replaces an existing
// document instead of adding one.
type IndexParams struct {
	Principal string         `json:"principal"`
	Type      string         `json:"type,omitempty"`
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	Update    bool           `json:"update,omitempty"`
}

// Validate checks that required fields are present.
func (p *IndexParams) Validate() error {
	if p.Principal == "" {
		return fmt.Errorf("principal is required")
	}
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if len(p.Fields) == 0 {
		return fmt.Errorf("fields are required")
	}
	return nil
}

// DeleteParams are the parameters for delete.
type DeleteParams struct {
	Principal string `json:"principal"`
	Type      string `json:"type"`
	ID        string `json:"id"`
}

// Validate checks that required fields are present.
func (p *DeleteParams) Validate() error {
	if p.Principal == "" || p.Type == "" || p.ID == "" {
		return fmt.Errorf("principal, type and id are required")
	}
	return nil
}

// MutationResult reports whether an index or delete was applied. False
// means the type was unknown or the document was rejected.
type MutationResult struct {
	Applied bool `json:"applied"`
}

// DirectoryQueryParams are the parameters for directory_query.
type DirectoryQueryParams struct {
	Term       string `json:"term"`
	RestrictTo string `json:"restrict_to,omitempty"`
}

// Validate checks that required fields are present.
func (p *DirectoryQueryParams) Validate() error {
	if p.Term == "" {
		return fmt.Errorf("term is required")
	}
	return nil
}

// DirectoryChangedParams report a change made to the identity store.
// Subject is the identity name for created and modified, the numeric id
// for deleted.
type DirectoryChangedParams struct {
	Op      string `json:"op"`
	Subject string `json:"subject"`
}

// Validate checks the operation and subject.
func (p *DirectoryChangedParams) Validate() error {
	if _, err := p.ParseOp(); err != nil {
		return err
	}
	if p.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	return nil
}

// ParseOp maps Op to a bus operation.
func (p *DirectoryChangedParams) ParseOp() (bus.Op, error) {
	for _, op := range []bus.Op{bus.OpCreated, bus.OpModified, bus.OpDeleted} {
		if p.Op == op.String() {
			return op, nil
		}
	}
	return 0, fmt.Errorf("op must be created, modified or deleted, got %q", p.Op)
}

// StatusResult contains daemon status information.
type StatusResult struct {
	Running        bool                `json:"running"`
	PID            int                 `json:"pid"`
	Uptime         string              `json:"uptime"`
	Origin         string              `json:"origin,omitempty"`
	Transport      string              `json:"transport,omitempty"`
	Types          []string            `json:"types,omitempty"`
	DirectoryState string              `json:"directory_state,omitempty"`
	DirectoryDocs  uint64              `json:"directory_docs"`
	Cache          cache.Stats         `json:"cache"`
	Listener       bus.ListenerStats   `json:"listener"`
	Compactions    uint64              `json:"compactions"`
	Queries        *telemetry.Snapshot `json:"queries,omitempty"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}
