package units

import (
	"fmt"
	"strings"
	"time"

	"github.com/praxis-tools/servitor/pkg/errors"
)

// ServiceType represents how the started process relates to the service
type ServiceType string

const (
	ServiceTypeSimple  ServiceType = "simple"
	ServiceTypeForking ServiceType = "forking"
	ServiceTypeOneshot ServiceType = "oneshot"
)

// RestartPolicy decides whether an exited process is respawned
type RestartPolicy string

const (
	RestartAlways    RestartPolicy = "always"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartNever     RestartPolicy = "never"
)

// DefaultRestartSec is the restart delay applied when restart_sec is unset
const DefaultRestartSec = 5

// UnitSection holds the [unit] part of a unit file: identity and
// dependency declarations.
type UnitSection struct {
	Description string   `yaml:"description,omitempty"`
	After       []string `yaml:"after,omitempty"`
	Requires    []string `yaml:"requires,omitempty"`
	Wants       []string `yaml:"wants,omitempty"`
}

// ServiceSection holds the [service] part of a unit file: how to run and
// supervise the process.
type ServiceSection struct {
	Type             ServiceType   `yaml:"type,omitempty"`
	ExecStart        string        `yaml:"exec_start"`
	ExecStop         string        `yaml:"exec_stop,omitempty"`
	Restart          RestartPolicy `yaml:"restart,omitempty"`
	RestartSec       *uint         `yaml:"restart_sec,omitempty"` // Pointer to distinguish unset from 0
	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	Environment      []string      `yaml:"environment,omitempty"`
	User             string        `yaml:"user,omitempty"` // Accepted but not implemented, see Validate
}

// Unit is the immutable definition of one manageable service, keyed by
// its unique name. Produced by the loader, consumed read-only everywhere
// else.
type Unit struct {
	Name    string         `yaml:"-"`
	Unit    UnitSection    `yaml:"unit"`
	Service ServiceSection `yaml:"service"`
}

// Dependencies returns the names of all requires and wants targets, with
// any ".service" suffix stripped.
func (u *Unit) Dependencies() []string {
	deps := make([]string, 0, len(u.Unit.Requires)+len(u.Unit.Wants))
	for _, d := range u.Unit.Requires {
		deps = append(deps, StripServiceSuffix(d))
	}
	for _, d := range u.Unit.Wants {
		deps = append(deps, StripServiceSuffix(d))
	}
	return deps
}

// RequiresNames returns the hard dependency names, suffix-stripped
func (u *Unit) RequiresNames() []string {
	return stripAll(u.Unit.Requires)
}

// WantsNames returns the soft dependency names, suffix-stripped
func (u *Unit) WantsNames() []string {
	return stripAll(u.Unit.Wants)
}

// AfterNames returns the ordering-only predecessor names, suffix-stripped
func (u *Unit) AfterNames() []string {
	return stripAll(u.Unit.After)
}

// RestartDelay returns the configured restart delay as a duration
func (u *Unit) RestartDelay() time.Duration {
	if u.Service.RestartSec == nil {
		return DefaultRestartSec * time.Second
	}
	return time.Duration(*u.Service.RestartSec) * time.Second
}

// StripServiceSuffix removes a trailing ".service" from a dependency
// reference; unit files may use either form.
func StripServiceSuffix(name string) string {
	return strings.TrimSuffix(name, ".service")
}

func stripAll(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = StripServiceSuffix(n)
	}
	return out
}

// setUnitDefaults applies defaults for omitted fields
func setUnitDefaults(unit *Unit) {
	if unit.Service.Type == "" {
		unit.Service.Type = ServiceTypeSimple
	}
	if unit.Service.Restart == "" {
		unit.Service.Restart = RestartNever
	}
}

// ValidateUnit checks a single unit definition for malformed fields.
// Cross-unit checks (unresolved references) are done on the full Set.
func ValidateUnit(unit *Unit) error {
	if unit.Name == "" {
		return errors.NewValidationError("unit name cannot be empty", nil)
	}
	if strings.ContainsAny(unit.Name, " \t\n/") {
		return errors.NewValidationError("unit name contains invalid characters", nil).WithContext("name", unit.Name)
	}

	if strings.TrimSpace(unit.Service.ExecStart) == "" {
		return errors.NewValidationError("exec_start cannot be empty", nil).WithContext("name", unit.Name)
	}

	switch unit.Service.Type {
	case ServiceTypeSimple, ServiceTypeForking, ServiceTypeOneshot:
	default:
		return errors.NewValidationError(
			fmt.Sprintf("unsupported service type: %s", unit.Service.Type),
			nil).WithContext("name", unit.Name)
	}

	switch unit.Service.Restart {
	case RestartAlways, RestartOnFailure, RestartNever:
	case "no": // accepted alias
		unit.Service.Restart = RestartNever
	default:
		return errors.NewValidationError(
			fmt.Sprintf("unsupported restart policy: %s", unit.Service.Restart),
			nil).WithContext("name", unit.Name)
	}

	for _, env := range unit.Service.Environment {
		if !strings.Contains(env, "=") {
			return errors.NewValidationError(
				fmt.Sprintf("environment entry is not KEY=VALUE: %q", env),
				nil).WithContext("name", unit.Name)
		}
	}

	return nil
}
