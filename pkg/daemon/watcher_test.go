//go:build !windows

package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestUnitWatcher_DiscoversNewUnit(t *testing.T) {
	dir := t.TempDir()
	sup := supervisor.NewSupervisor(units.NewSet(), supervisor.Options{}, &TestLogger{})

	watcher := NewUnitWatcher(dir, sup, &TestLogger{})
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	content := "service:\n  exec_start: /bin/sleep 60\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "late.service"), []byte(content), 0644))

	require.Eventually(t, func() bool {
		_, err := sup.Status("late")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	status, err := sup.Status("late")
	require.NoError(t, err)
	assert.Equal(t, supervisor.StateInactive, status.State)
}

func TestUnitWatcher_IgnoresInvalidAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	sup := supervisor.NewSupervisor(units.NewSet(), supervisor.Options{}, &TestLogger{})

	watcher := NewUnitWatcher(dir, sup, &TestLogger{})
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.service"), []byte("service:\n  exec_start: \"\"\n"), 0644))

	// Give the watcher time to process, then confirm nothing was loaded
	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, sup.List())
}

func TestUnitWatcher_MissingDirectory(t *testing.T) {
	sup := supervisor.NewSupervisor(units.NewSet(), supervisor.Options{}, &TestLogger{})

	watcher := NewUnitWatcher(filepath.Join(t.TempDir(), "absent"), sup, &TestLogger{})
	assert.Error(t, watcher.Start())
}
