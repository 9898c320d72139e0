package sandboxruntime

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/nanny"
)

func testDefinitions() nanny.Definitions {
	return nanny.Definitions{
		Limits: map[nanny.Name]float64{
			nanny.CPU:         1,
			nanny.Memory:      1 << 24,
			nanny.DiskUsed:    1 << 30,
			nanny.FileRead:    1 << 30,
			nanny.FileWrite:   1 << 30,
			nanny.FilesOpened: 4,
			nanny.Events:      4,
			nanny.LogRate:     1 << 20,
		},
	}
}

func TestNewAndClose(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := context.Background()

	sb, err := New(ctx, testDefinitions(), Options{Logger: zap.New(core)})
	require.NoError(t, err)
	_, err = uuid.Parse(sb.ID)
	require.NoError(t, err)

	dir := sb.Files.Dir()
	f, err := sb.Files.OpenFile("data", true)
	require.NoError(t, err)
	require.NoError(t, f.WriteAt([]byte("x"), 0))

	_, err = sb.Timer.SetTimer(time.Hour, func(...any) {})
	require.NoError(t, err)
	assert.Equal(t, 2, sb.Nanny.Count(nanny.Events)+sb.Nanny.Count(nanny.FilesOpened))

	require.NoError(t, sb.Close(ctx))
	require.NoError(t, sb.Close(ctx))

	assert.Equal(t, 0, sb.Nanny.Count(nanny.Events))
	assert.Equal(t, 0, sb.Nanny.Count(nanny.FilesOpened))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	created := logs.FilterMessage("handle created").Len()
	dropped := logs.FilterMessage("handle dropped").Len()
	assert.Equal(t, 2, created)
	assert.Equal(t, 2, dropped)
	for _, entry := range logs.FilterMessage("sandbox created").All() {
		assert.Equal(t, sb.ID, entry.ContextMap()["sandbox"])
	}
}

func TestNewKeepsGivenDir(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	sb, err := New(ctx, testDefinitions(), Options{Dir: dir})
	require.NoError(t, err)
	f, err := sb.Files.OpenFile("kept", true)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, sb.Close(ctx))

	_, err = os.Stat(dir + "/kept")
	assert.NoError(t, err)
}

func TestNewRejectsDefinitions(t *testing.T) {
	defs := testDefinitions()
	delete(defs.Limits, nanny.Memory)

	_, err := New(context.Background(), defs, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidData))
}

func TestRunModuleRejectsUnsafeCode(t *testing.T) {
	ctx := context.Background()
	sb, err := New(ctx, testDefinitions(), Options{})
	require.NoError(t, err)
	defer sb.Close(ctx)

	err = sb.RunModule(ctx, []byte{0x00, 0x61, 0x73, 0x6d, 0x02}, "run")
	assert.True(t, errors.Is(err, errors.ErrCodeUnsafe))
}

func TestGuestOutput(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	sb, err := New(ctx, testDefinitions(), Options{Output: &out})
	require.NoError(t, err)
	defer sb.Close(ctx)

	require.NoError(t, sb.Misc.Log("ready\n"))
	assert.Equal(t, "ready\n", out.String())
}

func TestExitAllUsesAbortHook(t *testing.T) {
	ctx := context.Background()
	codes := make(chan int, 1)
	sb, err := New(ctx, testDefinitions(), Options{Abort: func(code int, _ error) { codes <- code }})
	require.NoError(t, err)
	defer sb.Close(ctx)

	sb.Misc.ExitAll()
	assert.Equal(t, errors.ExitExitAll, <-codes)
}
