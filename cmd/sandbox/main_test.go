package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/bubbles/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/sandbox-runtime/nanny"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLimitsAddText(t *testing.T) {
	base := writeFile(t, "base", "resource cpu 0.5\nresource memory 1000\nresource diskused 10\nresource messport 8000\n")
	extra := writeFile(t, "extra.yaml", "resources:\n  cpu: 0.25\n  memory: 24\n  diskused: 0\nports:\n  messport: [8001]\n")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"limits", base, "--add", extra})
	require.NoError(t, root.Execute())

	text := out.String()
	assert.Contains(t, text, "resource cpu 0.75")
	assert.Contains(t, text, "resource memory 1024")
	assert.Contains(t, text, "resource messport 8000")
	assert.Contains(t, text, "resource messport 8001")
}

func TestLimitsSubtractInsufficient(t *testing.T) {
	base := writeFile(t, "base", "resource cpu 0.5\nresource memory 1000\nresource diskused 10\n")
	more := writeFile(t, "more", "resource cpu 1\nresource memory 1\nresource diskused 1\n")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"limits", base, "--subtract", more})
	assert.Error(t, root.Execute())
}

func TestLimitsYAML(t *testing.T) {
	base := writeFile(t, "base.toml", "[resources]\ncpu = 1.0\nmemory = 2048.0\ndiskused = 0.0\n")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"limits", base, "-f", "yaml"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "memory: 2048")
}

func TestCheckRejectsGarbage(t *testing.T) {
	path := writeFile(t, "bad.wasm", "not wasm")
	assert.Equal(t, 1, execute([]string{"check", path}))
}

func TestCheckAcceptsEmptyModule(t *testing.T) {
	path := writeFile(t, "empty.wasm", "\x00asm\x01\x00\x00\x00")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"check", path})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "ok")
}

func TestNewLoggerLevels(t *testing.T) {
	l, err := newLogger("", "")
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = newLogger("loud", "")
	assert.Error(t, err)

	l, err = newLogger("debug", filepath.Join(t.TempDir(), "log"))
	require.NoError(t, err)
	l.Debug("hello")
	require.NoError(t, l.Sync())
}

func TestReportRows(t *testing.T) {
	rows := reportRows(nanny.Report{
		Limits:  map[nanny.Name]float64{nanny.Memory: 2048, nanny.CPU: 0},
		Usage:   map[nanny.Name]float64{nanny.Memory: 1024},
		Items:   map[nanny.Name][]int{nanny.ConnPort: {9000}},
		Allowed: map[nanny.Name][]int{nanny.ConnPort: {9000, 9001}},
	})
	require.Len(t, rows, 3)
	assert.Equal(t, table.Row{"cpu", "0", "0", "-"}, rows[0])
	assert.Equal(t, table.Row{"memory", "1.0K", "2.0K", "50"}, rows[1])
	assert.Equal(t, table.Row{"connport", "[9000]", "[9000 9001]", ""}, rows[2])
}

func TestLastLines(t *testing.T) {
	assert.Equal(t, "b\nc", lastLines("a\nb\nc\n", 2))
	assert.Equal(t, "a", lastLines("a", 5))
}
