package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	flags "github.com/jessevdk/go-flags"

	"github.com/praxis-tools/servitor/pkg/control"
	"github.com/praxis-tools/servitor/pkg/daemon"
	"github.com/praxis-tools/servitor/pkg/logging"
	"github.com/praxis-tools/servitor/pkg/supervisor"
)

type flagOptions struct {
	UnitDir  string `long:"unit-dir" description:"directory containing .service unit files"`
	StateDir string `long:"state-dir" description:"daemon state directory (socket, PID file, log)"`

	Args struct {
		Command string `positional-arg-name:"command" description:"start|stop|restart|status|list|daemon-status|ping|kill"`
		Service string `positional-arg-name:"service"`
	} `positional-args:"yes"`
}

const requestTimeout = 30 * time.Second

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v", err)
		os.Exit(1)
	}

	if opts.Args.Command == "" {
		fmt.Println("Command is required: start|stop|restart|status|list|daemon-status|ping|kill")
		os.Exit(1)
	}

	config, err := daemon.DefaultConfig(opts.UnitDir)
	if err != nil {
		fmt.Printf("Failed to resolve daemon paths: %v\n", err)
		os.Exit(1)
	}
	if opts.StateDir != "" {
		config = config.WithStateDir(opts.StateDir)
	}

	if err := run(config, opts.Args.Command, opts.Args.Service); err != nil {
		fmt.Printf("%s %v\n", color.RedString("✗"), err)
		os.Exit(1)
	}
}

func run(config daemon.Config, command, service string) error {
	client := control.NewClient(config.SocketPath)

	switch command {
	case "ping":
		if client.Ping(time.Second) {
			fmt.Println("Daemon is alive")
			return nil
		}
		return fmt.Errorf("daemon is not running")

	case "daemon-status":
		return daemonStatus(client, config)

	case "kill":
		return killDaemon(client)

	case "start", "stop", "restart", "status", "list":
		// Commands that act on services launch the daemon on demand
		logger := logging.NewLogger("", logging.LogFuncs{
			Debugf: discardf,
			Infof:  discardf,
			Warnf:  warnf,
			Errorf: warnf,
		})
		if err := daemon.EnsureRunning(config, logger); err != nil {
			return err
		}
		return serviceCommand(client, command, service)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func serviceCommand(client *control.Client, command, service string) error {
	request := &control.Request{
		Command: control.Command(command),
		Service: service,
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	response, err := client.Send(ctx, request)
	if err != nil {
		return err
	}
	if !response.OK {
		return fmt.Errorf("%s", response.Message)
	}

	switch {
	case response.Services != nil || command == "list":
		printServiceTable(response.Services)
	case response.Status != nil:
		printServiceStatus(response.Status)
	default:
		fmt.Printf("%s %s\n", color.GreenString("✓"), response.Message)
	}
	return nil
}

func daemonStatus(client *control.Client, config daemon.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	response, err := client.Send(ctx, &control.Request{Command: control.CommandDaemonStatus})
	if err != nil || !response.OK || response.Daemon == nil {
		if daemon.IsDaemonRunning(config) {
			pid, _ := daemon.ReadPIDFile(config.PIDFile)
			fmt.Printf("%s Daemon process exists (PID %d) but the control socket is not responding\n",
				color.YellowString("!"), pid)
			return nil
		}
		fmt.Printf("%s Daemon is not running\n", color.RedString("✗"))
		return nil
	}

	info := response.Daemon
	fmt.Printf("%s Daemon is running\n", color.GreenString("✓"))
	fmt.Printf("  PID: %d\n", info.PID)
	fmt.Printf("  Started: %s\n", info.StartedAt.Format(time.RFC3339))
	fmt.Printf("  Socket: %s\n", info.SocketPath)
	fmt.Printf("  Unit dir: %s\n", info.UnitDir)
	fmt.Printf("  Services: %d\n", info.ServiceCount)
	return nil
}

func killDaemon(client *control.Client) error {
	if !client.Ping(time.Second) {
		fmt.Println("Daemon is not running")
		return nil
	}

	fmt.Println("Killing daemon...")
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if _, err := client.Send(ctx, &control.Request{Command: control.CommandShutdown}); err != nil {
		return fmt.Errorf("failed to kill daemon: %w", err)
	}
	fmt.Printf("%s Daemon killed\n", color.GreenString("✓"))
	return nil
}

func printServiceTable(services []supervisor.ServiceStatus) {
	if len(services) == 0 {
		fmt.Println("No services loaded")
		return
	}

	fmt.Printf("%-30s %-15s %-8s %s\n", "SERVICE", "STATE", "PID", "RESTARTS")
	fmt.Println(strings.Repeat("-", 62))
	for _, status := range services {
		pid := "-"
		if status.PID != 0 {
			pid = fmt.Sprintf("%d", status.PID)
		}
		fmt.Printf("%-30s %s %-8s %d\n", status.Name, coloredState(status.State), pid, status.RestartCount)
	}
}

func printServiceStatus(status *supervisor.ServiceStatus) {
	fmt.Printf("%s - %s\n", status.Name, status.Description)
	fmt.Printf("  State: %s\n", coloredState(status.State))
	if status.PID != 0 {
		fmt.Printf("  PID: %d\n", status.PID)
	}
	if !status.StartedAt.IsZero() {
		fmt.Printf("  Started: %s\n", status.StartedAt.Format(time.RFC3339))
	}
	fmt.Printf("  Restarts: %d\n", status.RestartCount)
	if status.LastExitCode != nil {
		fmt.Printf("  Last exit code: %d\n", *status.LastExitCode)
	}
	if status.LastError != "" {
		fmt.Printf("  Last error: %s\n", status.LastError)
	}
}

// coloredState pads before coloring so the ANSI escapes do not break the
// column alignment
func coloredState(state supervisor.ServiceState) string {
	padded := fmt.Sprintf("%-15s", string(state))
	switch state {
	case supervisor.StateActive:
		return color.GreenString(padded)
	case supervisor.StateFailed:
		return color.RedString(padded)
	case supervisor.StateActivating, supervisor.StateRestarting, supervisor.StateDeactivating:
		return color.YellowString(padded)
	default:
		return color.New(color.Faint).Sprint(padded)
	}
}

func discardf(format string, args ...interface{}) {}

func warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}
