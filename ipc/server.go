// Package ipc implements the local stream-socket server and client carrying
// the roslyn-query protocol. One server serves one workspace; one client
// owns one persistent connection.
package ipc

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roslynquery/roslynquery/protocol"
)

// Handler executes one decoded request. The returned after func, when
// non-nil, is invoked after the response has been written to the client
// (used by shutdown to reply before stopping).
type Handler interface {
	Handle(ctx context.Context, req *protocol.Request) (*protocol.Response, func())
}

// Server accepts connections on a local socket and serves frames until
// Shutdown. Responses on one connection are written in the order their
// requests were read.
type Server struct {
	socketPath string
	listener   net.Listener
	handler    Handler

	// lastActivity is read by the idle watchdog on a coarse interval; it
	// gets its own lock so request handling never contends with anything
	// slower.
	activityMu   sync.Mutex
	lastActivity time.Time

	// conns tracks in-flight connection handlers so shutdown can drain
	// them with a bounded wait. Entries are removed on completion.
	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	done     chan struct{}
	accepted sync.WaitGroup
}

// NewServer binds the socket, replacing any stale socket file, and restricts
// it to the owning user.
func NewServer(socketPath string, handler Handler) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return nil, err
	}
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		log.Printf("Failed to restrict socket permissions: %v", err)
	}

	return &Server{
		socketPath:   socketPath,
		listener:     listener,
		handler:      handler,
		lastActivity: time.Now(),
		conns:        make(map[net.Conn]struct{}),
		done:         make(chan struct{}),
	}, nil
}

// Start launches the accept loop. It returns immediately.
func (s *Server) Start(ctx context.Context) {
	s.accepted.Add(1)
	go func() {
		defer s.accepted.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.done:
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.Printf("Accept failed: %v", err)
				continue
			}
			s.register(conn)
			go s.handleConn(ctx, conn)
		}
	}()
}

// Touch records activity now. Called for every successfully parsed request
// and by the supervisor for every watcher batch.
func (s *Server) Touch() {
	s.activityMu.Lock()
	s.lastActivity = time.Now()
	s.activityMu.Unlock()
}

// IdleFor reports the time since the most recent activity.
func (s *Server) IdleFor() time.Duration {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	return time.Since(s.lastActivity)
}

func (s *Server) register(conn net.Conn) {
	s.connsMu.Lock()
	s.conns[conn] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) deregister(conn net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, conn)
	s.connsMu.Unlock()
}

func (s *Server) inFlight() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

// handleConn serves one connection: read a frame, dispatch, reply, repeat.
// It returns on EOF, malformed framing, write failure or shutdown. Decode
// failures of otherwise well-framed payloads are answered with parse_error
// and the connection keeps serving.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		s.deregister(conn)
		conn.Close()
	}()

	codec := protocol.NewCodec(conn)
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		req, err := codec.ReadRequest()
		if err != nil {
			var decodeErr *protocol.DecodeError
			switch {
			case errors.Is(err, io.EOF):
				return
			case errors.As(err, &decodeErr):
				resp := protocol.NewErrorResponse("", protocol.CodeParseError, decodeErr.Error())
				if werr := codec.WriteFrame(resp); werr != nil {
					return
				}
				continue
			case errors.Is(err, protocol.ErrFrameTooLarge):
				// The stream is desynchronized; no reply is possible.
				return
			default:
				return
			}
		}

		s.Touch()

		resp, after := s.handler.Handle(ctx, req)
		if resp == nil {
			resp = protocol.NewErrorResponse(req.ID, protocol.CodeInternalError, "empty response")
		}
		if err := codec.WriteFrame(resp); err != nil {
			return
		}
		if after != nil {
			after()
		}
	}
}

// StopAccepting closes the listener so no new connections arrive. Existing
// connections keep serving until Drain.
func (s *Server) StopAccepting() {
	close(s.done)
	s.listener.Close()
	s.accepted.Wait()
}

// Drain waits up to the timeout for in-flight connections to finish, then
// force-closes the stragglers.
func (s *Server) Drain(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for s.inFlight() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()
}

// Unbind removes the socket file.
func (s *Server) Unbind() {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to remove socket file: %v", err)
	}
}

// Shutdown runs the full stop sequence: stop accepting, drain, unbind.
func (s *Server) Shutdown(drainTimeout time.Duration) {
	s.StopAccepting()
	s.Drain(drainTimeout)
	s.Unbind()
}
