package control

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/praxis-tools/servitor/pkg/errors"
	"github.com/praxis-tools/servitor/pkg/logging"
	"github.com/praxis-tools/servitor/pkg/supervisor"
)

// maxRequestBytes bounds one request frame
const maxRequestBytes = 64 * 1024

type ServerOptions struct {
	SocketPath string
	UnitDir    string // reported in daemon-status
}

// Server accepts concurrent client connections on the control socket and
// translates commands into supervisor operations. Connections are handled
// independently; serialization of registry mutations is the supervisor's
// job, not the server's.
type Server struct {
	options    ServerOptions
	supervisor *supervisor.Supervisor
	logger     logging.Logger

	listener  net.Listener
	startedAt time.Time

	conns map[net.Conn]struct{}
	mutex sync.Mutex
	wg    sync.WaitGroup

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

func NewServer(options ServerOptions, sup *supervisor.Supervisor, logger logging.Logger) *Server {
	return &Server{
		options:    options,
		supervisor: sup,
		logger:     logger,
		conns:      make(map[net.Conn]struct{}),
		shutdownCh: make(chan struct{}),
	}
}

// Start binds the control socket and begins accepting connections. A
// connectable socket at the same path means another daemon instance owns
// the endpoint: that is fatal, the daemon must never silently proceed
// managing no services. A stale socket file (present but refusing
// connections) is removed.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	if _, err := os.Stat(s.options.SocketPath); err == nil {
		probe, err := net.DialTimeout("unix", s.options.SocketPath, time.Second)
		if err == nil {
			probe.Close()
			return errors.NewConflictError("control socket already in use by another daemon", nil).
				WithContext("socket", s.options.SocketPath)
		}
		s.logger.Warnf("Removing stale control socket, path: %s", s.options.SocketPath)
		if err := os.Remove(s.options.SocketPath); err != nil {
			return errors.NewIOError("failed to remove stale control socket", err).
				WithContext("socket", s.options.SocketPath)
		}
	}

	listener, err := net.Listen("unix", s.options.SocketPath)
	if err != nil {
		return errors.NewIOError("failed to bind control socket", err).
			WithContext("socket", s.options.SocketPath)
	}
	if err := os.Chmod(s.options.SocketPath, 0600); err != nil {
		listener.Close()
		return errors.NewPermissionError("failed to restrict control socket permissions", err).
			WithContext("socket", s.options.SocketPath)
	}

	s.listener = listener
	s.startedAt = time.Now()

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Infof("Control socket listening, path: %s", s.options.SocketPath)
	return nil
}

// ShutdownRequested is closed when a shutdown command has been accepted
func (s *Server) ShutdownRequested() <-chan struct{} {
	return s.shutdownCh
}

// Stop closes the listener and all active connections and removes the
// socket file
func (s *Server) Stop() error {
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mutex.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mutex.Unlock()

	s.wg.Wait()
	os.Remove(s.options.SocketPath)

	s.logger.Infof("Control socket stopped")
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Listener closed during shutdown
			return
		}

		s.mutex.Lock()
		s.conns[conn] = struct{}{}
		s.mutex.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
			s.mutex.Lock()
			delete(s.conns, conn)
			s.mutex.Unlock()
		}()
	}
}

// handleConnection serves one client: a sequence of request frames, one
// response frame each
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxRequestBytes)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var request Request
		if err := json.Unmarshal(line, &request); err != nil {
			s.writeResponse(writer, errorResponse(
				errors.NewProtocolError("malformed request", err)))
			continue
		}

		response, shutdown := s.handleRequest(&request)
		if !s.writeResponse(writer, response) {
			return
		}

		if shutdown {
			s.requestShutdown()
			return
		}
	}
}

func (s *Server) writeResponse(writer *bufio.Writer, response *Response) bool {
	payload, err := json.Marshal(response)
	if err != nil {
		s.logger.Errorf("Failed to encode response: %v", err)
		return false
	}
	payload = append(payload, '\n')
	if _, err := writer.Write(payload); err != nil {
		return false
	}
	return writer.Flush() == nil
}

func (s *Server) requestShutdown() {
	s.shutdownOnce.Do(func() {
		s.logger.Infof("Shutdown requested via control socket")
		close(s.shutdownCh)
	})
}

// handleRequest dispatches one command. The bool result is true for a
// shutdown command, which is acknowledged before the daemon begins
// stopping services.
func (s *Server) handleRequest(request *Request) (*Response, bool) {
	s.logger.Debugf("Handling request, command: %s, service: %s", request.Command, request.Service)

	if needsService(request.Command) && request.Service == "" {
		return errorResponse(errors.NewProtocolError(
			fmt.Sprintf("command %q requires a service name", request.Command), nil)), false
	}

	ctx := context.Background()

	switch request.Command {
	case CommandList:
		return &Response{OK: true, Services: s.supervisor.List()}, false

	case CommandStart:
		started, err := s.supervisor.StartService(ctx, request.Service)
		if err != nil {
			return errorResponse(err), false
		}
		if !started {
			return okResponse(fmt.Sprintf("service %q already active", request.Service)), false
		}
		return okResponse(fmt.Sprintf("service %q started", request.Service)), false

	case CommandStop:
		if err := s.supervisor.StopService(ctx, request.Service); err != nil {
			return errorResponse(err), false
		}
		return okResponse(fmt.Sprintf("service %q stopped", request.Service)), false

	case CommandRestart:
		if err := s.supervisor.RestartService(ctx, request.Service); err != nil {
			return errorResponse(err), false
		}
		return okResponse(fmt.Sprintf("service %q restarted", request.Service)), false

	case CommandStatus:
		status, err := s.supervisor.Status(request.Service)
		if err != nil {
			return errorResponse(err), false
		}
		return &Response{OK: true, Status: &status}, false

	case CommandDaemonStatus:
		return &Response{OK: true, Daemon: &DaemonInfo{
			PID:          os.Getpid(),
			StartedAt:    s.startedAt,
			SocketPath:   s.options.SocketPath,
			UnitDir:      s.options.UnitDir,
			ServiceCount: len(s.supervisor.List()),
		}}, false

	case CommandPing:
		return okResponse("pong"), false

	case CommandShutdown:
		return okResponse("daemon shutting down"), true

	default:
		return errorResponse(errors.NewProtocolError(
			fmt.Sprintf("unknown command: %q", request.Command), nil)), false
	}
}
