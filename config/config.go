// Package config loads resource definitions and sandbox settings.
//
// Three formats are accepted, chosen by file extension:
//   - .yaml / .yml: a Document decoded with gopkg.in/yaml.v3
//   - .toml: the same Document decoded with BurntSushi/toml
//   - anything else: the line-oriented restrictions format, one
//     "resource <name> <value>" rule per line
//
// Every format ends in the same validation: unknown resources, bad or
// negative values and missing mandatory resources fail with InvalidData.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/nanny"
)

// Format is a configuration file format.
type Format string

const (
	FormatText Format = "text"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatOf picks the format for a file name.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatText
	}
}

// Duration is a time.Duration written as a Go duration string ("10s").
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Document is the structured configuration file.
type Document struct {
	// Resources maps renewable, level and fungible resources to limits.
	Resources map[string]float64 `yaml:"resources" toml:"resources"`

	// Ports maps messport and connport to the ports the guest may use.
	Ports map[string][]int `yaml:"ports" toml:"ports"`

	// Sandbox holds settings that are not resource limits.
	Sandbox Sandbox `yaml:"sandbox" toml:"sandbox"`
}

// Sandbox configures one sandbox instance.
type Sandbox struct {
	// Dir is the directory guest files live in.
	Dir string `yaml:"dir" toml:"dir"`

	// LocalIPs restricts which local addresses the guest may bind.
	// Empty allows every address.
	LocalIPs []string `yaml:"local_ips" toml:"local_ips"`

	// UnbindTimeout bounds the wait for a closed listener's endpoint to
	// be released by the kernel.
	UnbindTimeout Duration `yaml:"unbind_timeout" toml:"unbind_timeout"`

	// LogLevel is the zap level name for runtime logs.
	LogLevel string `yaml:"log_level" toml:"log_level"`
}

// Config is a loaded configuration.
type Config struct {
	Definitions nanny.Definitions
	Sandbox     Sandbox

	// Calls holds the obsolete "call" lines of a restrictions file.
	Calls []string
}

// Load reads path and parses it in the format its extension names.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, fmt.Sprintf("cannot read %s", path))
	}
	return Parse(data, FormatOf(path))
}

// Parse decodes data in the given format and validates the result.
func Parse(data []byte, format Format) (*Config, error) {
	switch format {
	case FormatYAML:
		var doc Document
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "invalid YAML configuration")
		}
		return fromDocument(doc)
	case FormatTOML:
		var doc Document
		md, err := toml.Decode(string(data), &doc)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "invalid TOML configuration")
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, invalid("unknown key %q", undecoded[0].String())
		}
		return fromDocument(doc)
	default:
		return ParseText(bytes.NewReader(data))
	}
}

func fromDocument(doc Document) (*Config, error) {
	defs := nanny.Definitions{
		Limits:  make(map[nanny.Name]float64, len(doc.Resources)),
		Allowed: make(map[nanny.Name][]int, len(doc.Ports)),
	}
	for k, v := range doc.Resources {
		defs.Limits[nanny.Name(k)] = v
	}
	for k, v := range doc.Ports {
		defs.Allowed[nanny.Name(k)] = dedupe(v)
	}
	if err := defs.Validate(); err != nil {
		return nil, err
	}
	return &Config{Definitions: defs, Sandbox: doc.Sandbox}, nil
}

// Document converts c back to its structured file form.
func (c *Config) Document() Document {
	doc := Document{
		Resources: make(map[string]float64, len(c.Definitions.Limits)),
		Ports:     make(map[string][]int, len(c.Definitions.Allowed)),
		Sandbox:   c.Sandbox,
	}
	for k, v := range c.Definitions.Limits {
		doc.Resources[string(k)] = v
	}
	for k, v := range c.Definitions.Allowed {
		doc.Ports[string(k)] = append([]int(nil), v...)
	}
	return doc
}

func invalid(format string, args ...any) error {
	return errors.InvalidData(errors.PhaseConfig, fmt.Sprintf(format, args...))
}
