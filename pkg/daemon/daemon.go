package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/praxis-tools/servitor/pkg/control"
	"github.com/praxis-tools/servitor/pkg/logging"
	"github.com/praxis-tools/servitor/pkg/supervisor"
	"github.com/praxis-tools/servitor/pkg/units"
)

// Daemon assembles the registry, control server, and unit watcher for one
// daemon instance
type Daemon struct {
	config     Config
	logger     logging.Logger
	supervisor *supervisor.Supervisor
	server     *control.Server
	watcher    *UnitWatcher
}

// New loads the unit set from the configured unit directory and builds
// the daemon. Unresolved hard dependencies are reported per affected
// unit; the affected units stay loaded but every start attempt against
// them fails with a dependency error, so only the affected services are
// refused.
func New(config Config, logger logging.Logger) (*Daemon, error) {
	if err := config.EnsureDirs(); err != nil {
		return nil, err
	}

	set, err := units.LoadDir(config.UnitDir, logger)
	if err != nil {
		return nil, err
	}
	for _, refErr := range set.ValidateReferences() {
		logger.Warnf("Unit has unresolved dependency and will refuse to start: %v", refErr)
	}
	logger.Infof("Loaded %d units from %s", set.Len(), config.UnitDir)

	sup := supervisor.NewSupervisor(set, supervisor.Options{}, logging.NewLogger("supervisor: ", loggerFuncs(logger)))

	server := control.NewServer(control.ServerOptions{
		SocketPath: config.SocketPath,
		UnitDir:    config.UnitDir,
	}, sup, logging.NewLogger("control: ", loggerFuncs(logger)))

	watcher := NewUnitWatcher(config.UnitDir, sup, logger)

	return &Daemon{
		config:     config,
		logger:     logger,
		supervisor: sup,
		server:     server,
		watcher:    watcher,
	}, nil
}

// Supervisor exposes the registry, mainly for tests
func (d *Daemon) Supervisor() *supervisor.Supervisor {
	return d.supervisor
}

// Run starts the control endpoint and blocks until a shutdown command or
// a termination signal arrives, then stops all managed services
// (dependents first) and tears the endpoint down. A control endpoint that
// cannot be created is fatal.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.server.Start(ctx); err != nil {
		return err
	}

	if err := WritePIDFile(d.config.PIDFile); err != nil {
		d.server.Stop()
		return err
	}
	defer RemovePIDFile(d.config.PIDFile)

	if err := d.watcher.Start(); err != nil {
		d.logger.Warnf("Unit directory watching disabled: %v", err)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	d.logger.Infof("Daemon running, PID: %d, socket: %s", os.Getpid(), d.config.SocketPath)

	select {
	case sig := <-signals:
		d.logger.Infof("Received signal %v, shutting down", sig)
	case <-d.server.ShutdownRequested():
	case <-ctx.Done():
		d.logger.Infof("Context cancelled, shutting down")
	}

	d.watcher.Stop()
	d.supervisor.StopAll(context.Background())
	return d.server.Stop()
}

func loggerFuncs(logger logging.Logger) logging.LogFuncs {
	return logging.LogFuncs{
		Debugf: logger.Debugf,
		Infof:  logger.Infof,
		Warnf:  logger.Warnf,
		Errorf: logger.Errorf,
	}
}
