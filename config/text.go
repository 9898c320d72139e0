package config

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/nanny"
)

// ParseText parses the line-oriented restrictions format:
//
//	# comment
//	resource cpu .10
//	resource events 10
//	resource connport 12345
//	resource connport 12346
//	call gethostbyname_ex allow
//
// Port resources may repeat and accumulate; any other resource may
// appear once. "call" lines are kept but have no effect.
func ParseText(r io.Reader) (*Config, error) {
	cfg := &Config{
		Definitions: nanny.Definitions{
			Limits:  make(map[nanny.Name]float64),
			Allowed: make(map[nanny.Name][]int),
		},
	}

	sc := bufio.NewScanner(r)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "call":
			cfg.Calls = append(cfg.Calls, strings.Join(fields, " "))
		case "resource":
			if err := cfg.addRule(fields); err != nil {
				return nil, lineError(lineno, err)
			}
		default:
			return nil, lineError(lineno, invalid("line not understood: %q", line))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "cannot read restrictions")
	}

	for name, ports := range cfg.Definitions.Allowed {
		cfg.Definitions.Allowed[name] = dedupe(ports)
	}
	if err := cfg.Definitions.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) addRule(fields []string) error {
	if len(fields) != 3 {
		return invalid("resource rule needs a name and a value")
	}
	name, raw := nanny.Name(fields[1]), fields[2]

	switch nanny.CategoryOf(name) {
	case nanny.CategoryUnknown:
		return invalid("unknown resource %q", name)
	case nanny.CategoryIndividual:
		port, err := strconv.Atoi(raw)
		if err != nil {
			return invalid("invalid port %q for %s", raw, name)
		}
		c.Definitions.Allowed[name] = append(c.Definitions.Allowed[name], port)
		return nil
	}

	if _, dup := c.Definitions.Limits[name]; dup {
		return invalid("duplicate resource rule for %q", name)
	}
	var (
		v   float64
		err error
	)
	if nanny.CategoryOf(name) == nanny.CategoryFungible {
		var i int64
		i, err = strconv.ParseInt(raw, 10, 64)
		v = float64(i)
	} else {
		v, err = strconv.ParseFloat(raw, 64)
	}
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return invalid("invalid value %q for %s", raw, name)
	}
	c.Definitions.Limits[name] = v
	return nil
}

func lineError(lineno int, err error) error {
	var e *errors.Error
	if errors.As(err, &e) {
		e.Detail = fmt.Sprintf("line %d: %s", lineno, e.Detail)
	}
	return err
}

// WriteText writes defs in the restrictions format, one rule per line
// in a stable order.
func WriteText(w io.Writer, defs nanny.Definitions) error {
	bw := bufio.NewWriter(w)
	for _, name := range nanny.Known() {
		if v, ok := defs.Limits[name]; ok {
			fmt.Fprintf(bw, "resource %s %s\n", name, strconv.FormatFloat(v, 'f', -1, 64))
		}
		for _, p := range defs.Allowed[name] {
			fmt.Fprintf(bw, "resource %s %d\n", name, p)
		}
	}
	return bw.Flush()
}

func dedupe(ports []int) []int {
	out := slices.Clone(ports)
	slices.Sort(out)
	return slices.Compact(out)
}
