package main

import (
	"context"
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/praxis-tools/servitor/pkg/daemon"
	"github.com/praxis-tools/servitor/pkg/logging"
)

type flagOptions struct {
	UnitDir    string `long:"unit-dir" description:"directory containing .service unit files"`
	StateDir   string `long:"state-dir" description:"daemon state directory (socket, PID file, log)"`
	LogLevel   string `long:"log-level" default:"info" description:"log level: debug, info, warn, error"`
	Foreground bool   `long:"foreground" description:"log to stderr instead of the daemon log file"`
}

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

	config, err := daemon.DefaultConfig(opts.UnitDir)
	if err != nil {
		fmt.Printf("Failed to resolve daemon paths: %v\n", err)
		os.Exit(1)
	}
	if opts.StateDir != "" {
		config = config.WithStateDir(opts.StateDir)
	}

	logFile := config.LogFile
	if opts.Foreground {
		logFile = ""
	}
	logger, closeLogger, err := logging.NewZapLogger(logging.ZapOptions{
		Level:   opts.LogLevel,
		LogFile: logFile,
	})
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLogger()

	logger.Infof("Starting daemon, unit dir: %s, state dir: %s", config.UnitDir, config.StateDir)

	d, err := daemon.New(config, logger)
	if err != nil {
		logger.Errorf("Failed to create daemon: %v", err)
		os.Exit(1)
	}

	if err := d.Run(context.Background()); err != nil {
		logger.Errorf("Daemon exited with error: %v", err)
		os.Exit(1)
	}

	logger.Infof("Daemon stopped")
}
