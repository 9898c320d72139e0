package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/nanny"
)

const restrictions = `
# basic limits
resource cpu .10
resource memory 15000000   # 15 MB
resource diskused 10000000
resource events 10
resource netsend 10000
resource connport 12345
resource connport 12346
resource connport 12345

call gethostbyname_ex allow
`

func TestParseText(t *testing.T) {
	cfg, err := ParseText(strings.NewReader(restrictions))
	require.NoError(t, err)

	defs := cfg.Definitions
	assert.Equal(t, 0.10, defs.Limits[nanny.CPU])
	assert.Equal(t, 15000000.0, defs.Limits[nanny.Memory])
	assert.Equal(t, 10.0, defs.Limits[nanny.Events])
	assert.Equal(t, []int{12345, 12346}, defs.Allowed[nanny.ConnPort])
	assert.Equal(t, []string{"call gethostbyname_ex allow"}, cfg.Calls)
}

func TestParseTextErrors(t *testing.T) {
	base := "resource cpu 1\nresource memory 1\nresource diskused 1\n"
	tests := []struct {
		name  string
		extra string
	}{
		{"unknown line", "allow everything\n"},
		{"unknown resource", "resource bogus 1\n"},
		{"wrong arity", "resource netsend\n"},
		{"bad value", "resource netsend fast\n"},
		{"fractional fungible", "resource events 2.5\n"},
		{"negative", "resource netrecv -5\n"},
		{"duplicate", "resource cpu 2\n"},
		{"bad port", "resource messport http\n"},
		{"port out of range", "resource messport 70000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseText(strings.NewReader(base + tt.extra))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidData), "got %v", err)
		})
	}

	_, err := ParseText(strings.NewReader("resource cpu 1\nresource memory 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "diskused")
}

func TestParseTextLineNumbers(t *testing.T) {
	_, err := ParseText(strings.NewReader("resource cpu 1\n\nresource nope 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 3")
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sandbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
resources:
  cpu: 0.5
  memory: 100000000
  diskused: 1000000
  outsockets: 2
ports:
  messport: [5000, 5001]
sandbox:
  dir: /tmp/guest
  local_ips: ["127.0.0.1"]
  unbind_timeout: 3s
  log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Definitions.Limits[nanny.CPU])
	assert.Equal(t, 2.0, cfg.Definitions.Limits[nanny.OutSockets])
	assert.Equal(t, []int{5000, 5001}, cfg.Definitions.Allowed[nanny.MessPort])
	assert.Equal(t, "/tmp/guest", cfg.Sandbox.Dir)
	assert.Equal(t, []string{"127.0.0.1"}, cfg.Sandbox.LocalIPs)
	assert.Equal(t, Duration(3*time.Second), cfg.Sandbox.UnbindTimeout)
	assert.Equal(t, "debug", cfg.Sandbox.LogLevel)
}

func TestLoadYAMLUnknownField(t *testing.T) {
	_, err := Parse([]byte("resources:\n  cpu: 1\nsurprise: true\n"), FormatYAML)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidData))
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sandbox.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[resources]
cpu = 1.0
memory = 1e8
diskused = 1e6
filesopened = 5

[ports]
connport = [8080]

[sandbox]
unbind_timeout = "500ms"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.Definitions.Limits[nanny.FilesOpened])
	assert.Equal(t, []int{8080}, cfg.Definitions.Allowed[nanny.ConnPort])
	assert.Equal(t, Duration(500*time.Millisecond), cfg.Sandbox.UnbindTimeout)

	_, err = Parse([]byte("[resources]\ncpu = 1.0\nmemory = 1\ndiskused = 1\n[extra]\nx = 1\n"), FormatTOML)
	assert.True(t, errors.Is(err, errors.ErrInvalidData))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.cfg"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatOf("a.yml"))
	assert.Equal(t, FormatYAML, FormatOf("a.YAML"))
	assert.Equal(t, FormatTOML, FormatOf("a.toml"))
	assert.Equal(t, FormatText, FormatOf("restrictions.default"))
}

func TestWriteTextRoundTrip(t *testing.T) {
	cfg, err := ParseText(strings.NewReader(restrictions))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, cfg.Definitions))
	assert.Contains(t, buf.String(), "resource cpu 0.1\n")
	assert.Contains(t, buf.String(), "resource memory 15000000\n")

	again, err := ParseText(&buf)
	require.NoError(t, err)
	assert.Equal(t, cfg.Definitions, again.Definitions)
}

func TestAddSubtract(t *testing.T) {
	a := nanny.Definitions{
		Limits:  map[nanny.Name]float64{nanny.CPU: 1, nanny.Memory: 100, nanny.DiskUsed: 100, nanny.Events: 10},
		Allowed: map[nanny.Name][]int{nanny.ConnPort: {1, 2}},
	}
	b := nanny.Definitions{
		Limits:  map[nanny.Name]float64{nanny.CPU: 0.5, nanny.Memory: 50, nanny.DiskUsed: 10, nanny.Events: 3},
		Allowed: map[nanny.Name][]int{nanny.ConnPort: {2, 3}},
	}

	sum, err := Add(a, b)
	require.NoError(t, err)
	assert.Equal(t, 1.5, sum.Limits[nanny.CPU])
	assert.Equal(t, 13.0, sum.Limits[nanny.Events])
	assert.Equal(t, []int{1, 2, 3}, sum.Allowed[nanny.ConnPort])
	assert.Equal(t, 1.0, a.Limits[nanny.CPU])

	diff, err := Subtract(sum, b)
	require.NoError(t, err)
	assert.Equal(t, a.Limits, diff.Limits)
	assert.Equal(t, []int{1}, diff.Allowed[nanny.ConnPort])

	_, err = Subtract(b, a)
	assert.True(t, errors.Is(err, errors.ErrInvalidData))
}
