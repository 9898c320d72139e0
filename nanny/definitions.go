package nanny

import (
	"fmt"
	"math"

	"github.com/wippyai/sandbox-runtime/errors"
)

// Definitions are the configured ceilings of one sandbox. Limits holds
// renewable, level and fungible resources; Allowed holds the port
// allow-sets of individual item resources. Resources left out of Limits
// get a limit of zero.
type Definitions struct {
	Limits  map[Name]float64
	Allowed map[Name][]int
}

// Validate checks names, values and the mandatory resources.
func (d Definitions) Validate() error {
	for name, v := range d.Limits {
		switch CategoryOf(name) {
		case CategoryUnknown:
			return invalid("unknown resource %q", name)
		case CategoryIndividual:
			return invalid("resource %q takes a port list, not a limit", name)
		case CategoryFungible:
			if v != math.Trunc(v) {
				return invalid("resource %q must be an integer, got %v", name, v)
			}
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return invalid("resource %q has invalid limit %v", name, v)
		}
	}
	for name, ports := range d.Allowed {
		if CategoryOf(name) != CategoryIndividual {
			return invalid("resource %q does not take a port list", name)
		}
		for _, p := range ports {
			if p < 0 || p > 65535 {
				return invalid("resource %q has invalid port %d", name, p)
			}
		}
	}
	for _, name := range MustAssign {
		if _, ok := d.Limits[name]; !ok {
			return invalid("missing required resource %q", name)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (d Definitions) Clone() Definitions {
	out := Definitions{
		Limits:  make(map[Name]float64, len(d.Limits)),
		Allowed: make(map[Name][]int, len(d.Allowed)),
	}
	for k, v := range d.Limits {
		out.Limits[k] = v
	}
	for k, v := range d.Allowed {
		out.Allowed[k] = append([]int(nil), v...)
	}
	return out
}

func invalid(format string, args ...any) error {
	return errors.InvalidData(errors.PhaseConfig, fmt.Sprintf(format, args...))
}
