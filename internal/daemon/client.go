package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/Aman-CERP/indexkeeper/internal/identity"
	"github.com/Aman-CERP/indexkeeper/internal/search"
)

// RPCError is a JSON-RPC error returned by the daemon.
type RPCError struct {
	Method  string
	Code    int
	Message string
	// Kind is the indexkeeper error code, if any.
	Kind string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s failed: %s (code: %d)", e.Method, e.Message, e.Code)
}

// Client talks to the daemon.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

// NewClient creates a new daemon client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{socketPath: cfg.SocketPath, timeout: timeout}
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	var res PingResult
	return c.call(ctx, MethodPing, nil, &res)
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var status StatusResult
	if err := c.call(ctx, MethodStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Search runs a search for a principal.
func (c *Client) Search(ctx context.Context, p SearchParams) (*search.Result, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	var res search.Result
	if err := c.call(ctx, MethodSearch, p, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Suggest completes the last word of a query.
func (c *Client) Suggest(ctx context.Context, p SearchParams) (*search.Result, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	var res search.Result
	if err := c.call(ctx, MethodSuggest, p, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Index adds or updates a document.
func (c *Client) Index(ctx context.Context, p IndexParams) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, fmt.Errorf("invalid params: %w", err)
	}
	var res MutationResult
	err := c.call(ctx, MethodIndex, p, &res)
	return res.Applied, err
}

// Delete removes a document.
func (c *Client) Delete(ctx context.Context, p DeleteParams) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, fmt.Errorf("invalid params: %w", err)
	}
	var res MutationResult
	err := c.call(ctx, MethodDelete, p, &res)
	return res.Applied, err
}

// DirectoryQuery searches the identity directory.
func (c *Client) DirectoryQuery(ctx context.Context, p DirectoryQueryParams) ([]identity.Identity, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	var res []identity.Identity
	if err := c.call(ctx, MethodDirectoryQuery, p, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// DirectoryChanged reports an identity store change to the daemon.
func (c *Client) DirectoryChanged(ctx context.Context, p DirectoryChangedParams) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	var res MutationResult
	return c.call(ctx, MethodDirectoryChanged, p, &res)
}

// call sends one request on a fresh connection and decodes the result
// into out.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{JSONRPC: "2.0", Method: method, Params: params, ID: c.nextID()}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
		ID     string          `json:"id"`
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("failed to receive response: %w", err)
	}
	if resp.Error != nil {
		kind, _ := resp.Error.Data.(string)
		return &RPCError{Method: method, Code: resp.Error.Code, Message: resp.Error.Message, Kind: kind}
	}
	if len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	return fmt.Sprintf("req-%d", c.requestID.Add(1))
}
