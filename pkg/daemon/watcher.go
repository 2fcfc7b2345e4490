package daemon

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/praxis-tools/servitor/pkg/errors"
	"github.com/praxis-tools/servitor/pkg/logging"
	"github.com/praxis-tools/servitor/pkg/supervisor"
	"github.com/praxis-tools/servitor/pkg/units"
)

// UnitWatcher watches the unit directory and loads newly created unit
// files into the registry at runtime. Invalid files are reported and
// skipped; removing a file never removes the running instance (instances
// live until daemon exit).
type UnitWatcher struct {
	dir        string
	supervisor *supervisor.Supervisor
	logger     logging.Logger

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
}

func NewUnitWatcher(dir string, sup *supervisor.Supervisor, logger logging.Logger) *UnitWatcher {
	return &UnitWatcher{
		dir:        dir,
		supervisor: sup,
		logger:     logger,
	}
}

// Start begins watching the unit directory
func (w *UnitWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.NewInternalError("failed to create unit watcher", err)
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		return errors.NewIOError("failed to watch unit directory", err).WithContext("dir", w.dir)
	}
	w.watcher = watcher

	w.wg.Add(1)
	go w.loop()

	w.logger.Infof("Watching unit directory, dir: %s", w.dir)
	return nil
}

// Stop ends the watch and waits for the loop to drain
func (w *UnitWatcher) Stop() {
	if w.watcher != nil {
		w.watcher.Close()
		w.wg.Wait()
	}
}

func (w *UnitWatcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if filepath.Ext(event.Name) != units.UnitFileExtension {
				continue
			}
			w.loadFile(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnf("Unit watcher error: %v", err)
		}
	}
}

func (w *UnitWatcher) loadFile(path string) {
	unit, err := units.LoadUnitFile(path)
	if err != nil {
		w.logger.Warnf("Ignoring invalid unit file, path: %s, error: %v", path, err)
		return
	}
	if err := w.supervisor.AddUnit(unit); err != nil {
		if errors.IsConflictError(err) {
			// Rewrites of known units are not picked up; definitions
			// are immutable for the daemon's lifetime
			w.logger.Debugf("Unit already loaded, name: %s", unit.Name)
			return
		}
		w.logger.Warnf("Failed to load unit, name: %s, error: %v", unit.Name, err)
		return
	}
	w.logger.Infof("New unit discovered, name: %s", unit.Name)
}
