package units

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/praxis-tools/servitor/pkg/errors"
	"github.com/praxis-tools/servitor/pkg/logging"
)

// UnitFileExtension is the required extension for unit files
const UnitFileExtension = ".service"

// LoadUnitFile parses a single YAML unit file. The unit name is the file
// stem (foo.service -> foo).
func LoadUnitFile(path string) (*Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError("failed to read unit file", err).WithContext("path", path)
	}

	var unit Unit
	if err := yaml.Unmarshal(data, &unit); err != nil {
		return nil, errors.NewValidationError("failed to parse unit file", err).WithContext("path", path)
	}

	base := filepath.Base(path)
	unit.Name = strings.TrimSuffix(base, filepath.Ext(base))

	setUnitDefaults(&unit)

	if err := ValidateUnit(&unit); err != nil {
		return nil, err
	}

	return &unit, nil
}

// LoadDir loads every *.service file in dir into a Set, in lexical
// filename order so the declaration order is stable across runs. A file
// that fails to parse or validate affects only itself: it is reported via
// the logger and skipped, never silently dropped and never fatal to the
// rest of the set.
func LoadDir(dir string, logger logging.Logger) (*Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.NewIOError("failed to read unit directory", err).WithContext("dir", dir)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != UnitFileExtension {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	set := NewSet()
	for _, name := range names {
		unit, err := LoadUnitFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warnf("Skipping unit file, file: %s, error: %v", name, err)
			continue
		}
		if unit.Service.Type != ServiceTypeSimple {
			logger.Warnf("Service type %q is not implemented and degrades to simple semantics, unit: %s",
				unit.Service.Type, unit.Name)
		}
		if unit.Service.User != "" {
			logger.Warnf("The user directive is not implemented and is ignored, unit: %s", unit.Name)
		}
		if err := set.Add(unit); err != nil {
			logger.Warnf("Skipping unit, name: %s, error: %v", unit.Name, err)
		}
	}

	return set, nil
}
