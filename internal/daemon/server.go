package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/Aman-CERP/indexkeeper/internal/identity"
	"github.com/Aman-CERP/indexkeeper/internal/search"
)

// Handler serves the RPC methods.
type Handler interface {
	Search(ctx context.Context, p SearchParams) (*search.Result, error)
	Suggest(ctx context.Context, p SearchParams) (*search.Result, error)
	Index(ctx context.Context, p IndexParams) (MutationResult, error)
	Delete(ctx context.Context, p DeleteParams) (MutationResult, error)
	DirectoryQuery(ctx context.Context, p DirectoryQueryParams) ([]identity.Identity, error)
	DirectoryChanged(ctx context.Context, p DirectoryChangedParams) error
	Status(ctx context.Context) StatusResult
}

// validator is implemented by every params type.
type validator interface {
	Validate() error
}

// Server listens on a Unix socket and answers one request per connection.
type Server struct {
	socketPath string
	timeout    time.Duration
	listener   net.Listener
	handler    Handler
	started    time.Time

	mu       sync.Mutex
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server for the given socket path.
func NewServer(socketPath string, h Handler) *Server {
	return &Server{socketPath: socketPath, handler: h, timeout: 30 * time.Second}
}

// SetTimeout bounds the time a connection may take.
func (s *Server) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// ListenAndServe serves until ctx is cancelled, then waits for in-flight
// requests and returns ctx.Err().
func (s *Server) ListenAndServe(ctx context.Context) error {
	// A stale socket from a crashed daemon blocks Listen.
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.started = time.Now()
	s.mu.Unlock()

	defer func() {
		_ = listener.Close()
		_ = os.Remove(s.socketPath)
	}()

	slog.Info("server_listening", slog.String("socket", s.socketPath))

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isShutdown() {
				break
			}
			slog.Error("accept_failed", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return ctx.Err()
}

func (s *Server) isShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		slog.Warn("connection_deadline_failed", slog.String("error", err.Error()))
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	encoder := json.NewEncoder(conn)
	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}

	start := time.Now()
	resp := s.handleRequest(ctx, req)
	slog.Debug("request_handled",
		slog.String("method", req.Method),
		slog.String("id", req.ID),
		slog.Bool("ok", resp.Error == nil),
		slog.Duration("took", time.Since(start)))
	_ = encoder.Encode(resp)
}

// handleRequest dispatches a request to the handler.
func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	if req.JSONRPC != "2.0" {
		return NewErrorResponse(req.ID, ErrCodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}

	switch req.Method {
	case MethodPing:
		return NewSuccessResponse(req.ID, PingResult{Pong: true})

	case MethodStatus:
		return NewSuccessResponse(req.ID, s.status(ctx))
	}

	if s.handler == nil {
		return NewErrorResponse(req.ID, ErrCodeInternalError, "no handler configured")
	}

	switch req.Method {
	case MethodSearch:
		var p SearchParams
		return dispatch(req, &p, func() (any, error) { return s.handler.Search(ctx, p) }, ErrCodeSearchFailed)

	case MethodSuggest:
		var p SearchParams
		return dispatch(req, &p, func() (any, error) { return s.handler.Suggest(ctx, p) }, ErrCodeSearchFailed)

	case MethodIndex:
		var p IndexParams
		return dispatch(req, &p, func() (any, error) { return s.handler.Index(ctx, p) }, ErrCodeIndexFailed)

	case MethodDelete:
		var p DeleteParams
		return dispatch(req, &p, func() (any, error) { return s.handler.Delete(ctx, p) }, ErrCodeIndexFailed)

	case MethodDirectoryQuery:
		var p DirectoryQueryParams
		return dispatch(req, &p, func() (any, error) {
			ids, err := s.handler.DirectoryQuery(ctx, p)
			if ids == nil {
				ids = []identity.Identity{}
			}
			return ids, err
		}, ErrCodeSearchFailed)

	case MethodDirectoryChanged:
		var p DirectoryChangedParams
		return dispatch(req, &p, func() (any, error) {
			return MutationResult{Applied: true}, s.handler.DirectoryChanged(ctx, p)
		}, ErrCodeIndexFailed)

	default:
		return NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

// dispatch decodes req.Params into params, validates them and calls fn.
func dispatch(req Request, params validator, fn func() (any, error), failCode int) Response {
	if err := decodeParams(req.Params, params); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(req.ID, ErrCodeInvalidParams, err.Error())
	}
	result, err := fn()
	if err != nil {
		return errorResponse(req.ID, err, failCode)
	}
	return NewSuccessResponse(req.ID, result)
}

// decodeParams converts the generic params value into out.
func decodeParams(in any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode params: %w", err)
	}
	return nil
}

func (s *Server) status(ctx context.Context) StatusResult {
	var status StatusResult
	if s.handler != nil {
		status = s.handler.Status(ctx)
	}
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	status.Running = true
	status.PID = os.Getpid()
	status.Uptime = time.Since(started).Round(time.Second).String()
	return status
}

// Close stops accepting connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
