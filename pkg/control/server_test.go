//go:build !windows

package control

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-tools/servitor/pkg/errors"
	"github.com/praxis-tools/servitor/pkg/logging"
	"github.com/praxis-tools/servitor/pkg/supervisor"
	"github.com/praxis-tools/servitor/pkg/units"
)

type TestLogger struct{}

func (l *TestLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (l *TestLogger) Debugf(format string, args ...interface{})               {}
func (l *TestLogger) Infof(format string, args ...interface{})                {}
func (l *TestLogger) Warnf(format string, args ...interface{})                {}
func (l *TestLogger) Errorf(format string, args ...interface{})               {}

var _ logging.Logger = &TestLogger{}

func sleepCommand() string {
	return "/bin/sleep 60"
}

func newTestSupervisor(t *testing.T) *supervisor.Supervisor {
	t.Helper()
	set := units.NewSet()
	require.NoError(t, set.Add(&units.Unit{
		Name: "svc",
		Service: units.ServiceSection{
			Type:      units.ServiceTypeSimple,
			ExecStart: sleepCommand(),
			Restart:   units.RestartNever,
		},
	}))
	sup := supervisor.NewSupervisor(set, supervisor.Options{
		GracefulTimeout:  3 * time.Second,
		ForceKillTimeout: 3 * time.Second,
	}, &TestLogger{})
	t.Cleanup(func() { sup.StopAll(context.Background()) })
	return sup
}

func startTestServer(t *testing.T) (*Server, *Client) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "daemon.sock")
	server := NewServer(ServerOptions{SocketPath: socketPath, UnitDir: "/srv/units"}, newTestSupervisor(t), &TestLogger{})
	require.NoError(t, server.Start(context.Background()))
	t.Cleanup(func() { server.Stop() })
	return server, NewClient(socketPath)
}

func send(t *testing.T, client *Client, request *Request) *Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	response, err := client.Send(ctx, request)
	require.NoError(t, err)
	return response
}

func TestServer_Ping(t *testing.T) {
	_, client := startTestServer(t)

	response := send(t, client, &Request{Command: CommandPing})
	assert.True(t, response.OK)
	assert.Equal(t, "pong", response.Message)

	assert.True(t, client.Ping(time.Second))
}

func TestServer_StartStatusStop(t *testing.T) {
	_, client := startTestServer(t)

	response := send(t, client, &Request{Command: CommandStart, Service: "svc"})
	require.True(t, response.OK)

	response = send(t, client, &Request{Command: CommandStatus, Service: "svc"})
	require.True(t, response.OK)
	require.NotNil(t, response.Status)
	assert.Equal(t, "svc", response.Status.Name)
	assert.Equal(t, supervisor.StateActive, response.Status.State)
	assert.Greater(t, response.Status.PID, 0)

	// Second start is acknowledged, not an error
	response = send(t, client, &Request{Command: CommandStart, Service: "svc"})
	require.True(t, response.OK)
	assert.Contains(t, response.Message, "already active")

	response = send(t, client, &Request{Command: CommandStop, Service: "svc"})
	require.True(t, response.OK)

	response = send(t, client, &Request{Command: CommandStatus, Service: "svc"})
	require.True(t, response.OK)
	assert.Equal(t, supervisor.StateInactive, response.Status.State)
}

func TestServer_List(t *testing.T) {
	_, client := startTestServer(t)

	response := send(t, client, &Request{Command: CommandList})
	require.True(t, response.OK)
	require.Len(t, response.Services, 1)
	assert.Equal(t, "svc", response.Services[0].Name)
}

func TestServer_UnknownServiceStructuredError(t *testing.T) {
	_, client := startTestServer(t)

	response := send(t, client, &Request{Command: CommandStart, Service: "ghost"})
	require.False(t, response.OK)
	assert.Equal(t, string(errors.ErrorTypeNotFound), response.ErrorType)
	assert.NotEmpty(t, response.Message)
}

func TestServer_MissingServiceArgument(t *testing.T) {
	_, client := startTestServer(t)

	response := send(t, client, &Request{Command: CommandStart})
	require.False(t, response.OK)
	assert.Equal(t, string(errors.ErrorTypeProtocol), response.ErrorType)
}

func TestServer_UnknownCommand(t *testing.T) {
	_, client := startTestServer(t)

	response := send(t, client, &Request{Command: "frobnicate"})
	require.False(t, response.OK)
	assert.Equal(t, string(errors.ErrorTypeProtocol), response.ErrorType)
}

func TestServer_MalformedFrame(t *testing.T) {
	server, _ := startTestServer(t)

	conn, err := net.Dial("unix", server.options.SocketPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	assert.Contains(t, string(line), "malformed request")

	// The connection survives a malformed frame
	_, err = conn.Write([]byte(`{"command":"ping"}` + "\n"))
	require.NoError(t, err)
	line, err = reader.ReadBytes('\n')
	require.NoError(t, err)
	assert.Contains(t, string(line), "pong")
}

func TestServer_DaemonStatus(t *testing.T) {
	_, client := startTestServer(t)

	response := send(t, client, &Request{Command: CommandDaemonStatus})
	require.True(t, response.OK)
	require.NotNil(t, response.Daemon)
	assert.Greater(t, response.Daemon.PID, 0)
	assert.Equal(t, "/srv/units", response.Daemon.UnitDir)
	assert.Equal(t, 1, response.Daemon.ServiceCount)
}

func TestServer_Shutdown(t *testing.T) {
	server, client := startTestServer(t)

	response := send(t, client, &Request{Command: CommandShutdown})
	require.True(t, response.OK)

	select {
	case <-server.ShutdownRequested():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown was not requested")
	}
}

func TestServer_RefusesBusySocket(t *testing.T) {
	server, _ := startTestServer(t)

	second := NewServer(ServerOptions{SocketPath: server.options.SocketPath}, newTestSupervisor(t), &TestLogger{})
	err := second.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))
}

func TestServer_ReplacesStaleSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "daemon.sock")

	// A dead daemon leaves a socket file that refuses connections
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	listener.(*net.UnixListener).SetUnlinkOnClose(false)
	listener.Close()

	server := NewServer(ServerOptions{SocketPath: socketPath}, newTestSupervisor(t), &TestLogger{})
	require.NoError(t, server.Start(context.Background()))
	defer server.Stop()

	client := NewClient(socketPath)
	assert.True(t, client.Ping(time.Second))
}

func TestClient_NoDaemon(t *testing.T) {
	client := NewClient(filepath.Join(t.TempDir(), "absent.sock"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := client.Send(ctx, &Request{Command: CommandPing})
	require.Error(t, err)
	assert.True(t, errors.IsIOError(err))

	assert.False(t, client.Ping(time.Second))
}
