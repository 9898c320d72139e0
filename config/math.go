package config

import (
	"slices"

	"github.com/wippyai/sandbox-runtime/nanny"
)

// Add returns the sum of two definitions. Limits add; port sets join.
func Add(a, b nanny.Definitions) (nanny.Definitions, error) {
	if err := a.Validate(); err != nil {
		return nanny.Definitions{}, err
	}
	if err := b.Validate(); err != nil {
		return nanny.Definitions{}, err
	}
	out := a.Clone()
	for k, v := range b.Limits {
		out.Limits[k] += v
	}
	for k, v := range b.Allowed {
		out.Allowed[k] = dedupe(append(out.Allowed[k], v...))
	}
	return out, nil
}

// Subtract removes b from a. A limit going negative, or a port of b
// missing from a, is an error.
func Subtract(a, b nanny.Definitions) (nanny.Definitions, error) {
	if err := a.Validate(); err != nil {
		return nanny.Definitions{}, err
	}
	if err := b.Validate(); err != nil {
		return nanny.Definitions{}, err
	}
	out := a.Clone()
	for k, v := range b.Limits {
		left := out.Limits[k] - v
		if left < 0 {
			return nanny.Definitions{}, invalid("insufficient quantity: %s would be %v", k, left)
		}
		out.Limits[k] = left
	}
	for k, ports := range b.Allowed {
		have := out.Allowed[k]
		for _, p := range ports {
			if !slices.Contains(have, p) {
				return nanny.Definitions{}, invalid("%s does not contain port %d", k, p)
			}
		}
		out.Allowed[k] = slices.DeleteFunc(slices.Clone(have), func(p int) bool {
			return slices.Contains(ports, p)
		})
	}
	return out, nil
}
