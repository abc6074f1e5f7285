package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Cmd represents a tool command type.
type Cmd string

const (
	CmdStore        = Cmd("store")
	CmdExists       = Cmd("exists")
	CmdResolveShare = Cmd("resolve_share")
	CmdClose        = Cmd("close")
)

// Request represents one tool invocation, sent as a single JSON line.
type Request struct {
	ID            int64
	Command       Cmd
	MediaLocator  string `json:",omitempty"`
	SourceLocator string `json:",omitempty"`
	ShareLink     string `json:",omitempty"`
	Bucket        string `json:",omitempty"`
}

// Response represents the reply to a Request. Result holds a StoreResult,
// ExistsResult or ShareResult depending on the command.
type Response struct {
	ID            int64       `json:",omitempty"`
	Err           string      `json:",omitempty"`
	KnownCommands []Cmd       `json:",omitempty"`
	Result        interface{} `json:",omitempty"`
}

// ToolServer serves App operations over a JSON-lines protocol. Requests are
// handled concurrently and responses may be written out of order; callers
// match them by ID.
type ToolServer struct {
	app        *App
	reader     *bufio.Reader
	writer     *bufio.Writer
	writerLock sync.Mutex
	logger     *slog.Logger
	stats      *Stats
}

// NewToolServer creates a server reading requests from r and writing responses to w.
func NewToolServer(app *App, r io.Reader, w io.Writer, logger *slog.Logger, stats *Stats) *ToolServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolServer{
		app:    app,
		reader: bufio.NewReader(r),
		writer: bufio.NewWriter(w),
		logger: logger,
		stats:  stats,
	}
}

// SendResponse writes a response line (thread-safe).
func (s *ToolServer) SendResponse(resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	s.writerLock.Lock()
	defer s.writerLock.Unlock()

	if _, err := s.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}

	if err := s.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return s.writer.Flush()
}

// SendInitialResponse announces the supported commands.
func (s *ToolServer) SendInitialResponse() error {
	return s.SendResponse(Response{
		ID:            0,
		KnownCommands: []Cmd{CmdStore, CmdExists, CmdResolveShare, CmdClose},
	})
}

// readLine reads a line, skipping empty lines. A final line without a
// trailing newline is still returned.
func (s *ToolServer) readLine() ([]byte, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		if len(strings.TrimSpace(string(line))) > 0 {
			return []byte(strings.TrimRight(string(line), "\r\n")), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// ReadRequest reads the next request.
func (s *ToolServer) ReadRequest() (*Request, error) {
	line, err := s.readLine()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read request: %w", err)
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal request: %w (line: %q)", err, string(line))
	}
	return &req, nil
}

// HandleRequest processes a single request and sends a response. A panic in
// the handler is reported as an error response.
func (s *ToolServer) HandleRequest(ctx context.Context, req *Request) error {
	resp := Response{ID: req.ID}
	start := time.Now()

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic handling request", "id", req.ID, "command", req.Command, "panic", r)
				resp.Result = nil
				resp.Err = fmt.Sprintf("internal error: %v", r)
			}
		}()

		switch req.Command {
		case CmdStore:
			resp.Result = s.app.StoreMedia(ctx, req.MediaLocator, req.SourceLocator, req.Bucket)
		case CmdExists:
			resp.Result = s.app.ExistsBySource(ctx, req.SourceLocator, req.Bucket)
		case CmdResolveShare:
			resp.Result = s.app.ResolveShareLink(ctx, req.ShareLink, req.Bucket)
		case CmdClose:
			// Will exit after sending response
		default:
			resp.Err = fmt.Sprintf("unknown command: %s", req.Command)
		}
	}()

	s.stats.recordLatency(req.Command, time.Since(start))
	s.logger.Debug("handled request", "id", req.ID, "command", req.Command, "duration", time.Since(start))
	return s.SendResponse(resp)
}

// Run serves requests until EOF or a close command.
func (s *ToolServer) Run(ctx context.Context) error {
	if err := s.SendInitialResponse(); err != nil {
		return fmt.Errorf("failed to send initial response: %w", err)
	}

	var wg sync.WaitGroup
	errChan := make(chan error, 1)

	for {
		req, err := s.ReadRequest()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Wait for any in-flight requests to complete
			wg.Wait()
			return err
		}

		if req.Command == CmdClose {
			// Drain in-flight requests before acknowledging close
			wg.Wait()
			if err := s.HandleRequest(ctx, req); err != nil {
				return fmt.Errorf("failed to handle close request: %w", err)
			}
			break
		}

		wg.Add(1)
		go func(r *Request) {
			defer wg.Done()
			if err := s.HandleRequest(ctx, r); err != nil {
				select {
				case errChan <- err:
				default:
				}
			}
		}(req)

		select {
		case err := <-errChan:
			wg.Wait()
			return fmt.Errorf("failed to handle request: %w", err)
		default:
		}
	}

	wg.Wait()
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to handle request: %w", err)
	default:
	}
	return nil
}
