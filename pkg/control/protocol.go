// Package control implements the daemon's local control endpoint: a unix
// domain socket carrying newline-delimited JSON request/response frames.
// Each request yields exactly one response; the framing keeps concurrent
// clients from corrupting each other's reads.
package control

import (
	"time"

	"github.com/praxis-tools/servitor/pkg/errors"
	"github.com/praxis-tools/servitor/pkg/supervisor"
)

// Command identifies a control protocol operation
type Command string

const (
	CommandList         Command = "list"
	CommandStart        Command = "start"
	CommandStop         Command = "stop"
	CommandRestart      Command = "restart"
	CommandStatus       Command = "status"
	CommandDaemonStatus Command = "daemon-status"
	CommandPing         Command = "ping"
	CommandShutdown     Command = "shutdown"
)

// Request is one client command frame
type Request struct {
	Command Command `json:"command"`
	Service string  `json:"service,omitempty"`
}

// Response is the single reply frame for a request. OK false carries a
// structured error type from the pkg/errors taxonomy.
type Response struct {
	OK        bool                       `json:"ok"`
	Message   string                     `json:"message,omitempty"`
	ErrorType string                     `json:"error_type,omitempty"`
	Status    *supervisor.ServiceStatus  `json:"status,omitempty"`
	Services  []supervisor.ServiceStatus `json:"services,omitempty"`
	Daemon    *DaemonInfo                `json:"daemon,omitempty"`
}

// DaemonInfo is the daemon-status payload
type DaemonInfo struct {
	PID          int       `json:"pid"`
	StartedAt    time.Time `json:"started_at"`
	SocketPath   string    `json:"socket_path"`
	UnitDir      string    `json:"unit_dir"`
	ServiceCount int       `json:"service_count"`
}

func okResponse(message string) *Response {
	return &Response{OK: true, Message: message}
}

func errorResponse(err error) *Response {
	return &Response{
		OK:        false,
		Message:   err.Error(),
		ErrorType: string(errors.TypeOf(err)),
	}
}

// needsService reports whether a command requires a service argument
func needsService(command Command) bool {
	switch command {
	case CommandStart, CommandStop, CommandRestart, CommandStatus:
		return true
	default:
		return false
	}
}
