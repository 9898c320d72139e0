package guest

import (
	"context"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/resource"
)

const (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

type hostFunc struct {
	name      string
	params    []api.ValueType
	results   []api.ValueType
	available func(Bindings) bool
	fn        func(ctx context.Context, e *Engine, c *call)
}

var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

func always(Bindings) bool      { return true }
func withComm(b Bindings) bool  { return b.Comm != nil }
func withFiles(b Bindings) bool { return b.Files != nil }
func withTimer(b Bindings) bool { return b.Timer != nil }
func withMisc(b Bindings) bool  { return b.Misc != nil }

func handle(c *call, i int) resource.Handle { return resource.Handle(uint64(c.i64(i))) }

func fail(name string, err error) int32 {
	code := Code(err)
	Logger().Debug("sandbox call failed", zap.String("call", name), zap.Int32("code", code), zap.Error(err))
	return code
}

func (e *Engine) hostFuncs() []hostFunc {
	return []hostFunc{
		{
			name: "sleep", params: []api.ValueType{i64}, results: []api.ValueType{i32}, available: withTimer,
			fn: func(_ context.Context, e *Engine, c *call) {
				if err := e.b.Timer.Sleep(time.Duration(c.i64(0))); err != nil {
					c.ret32(fail("sleep", err))
					return
				}
				c.ret32(0)
			},
		},
		{
			name: "random_float", params: []api.ValueType{i32}, results: []api.ValueType{i32}, available: withMisc,
			fn: func(_ context.Context, e *Engine, c *call) {
				v, err := e.b.Misc.RandomFloat()
				if err != nil {
					c.ret32(fail("random_float", err))
					return
				}
				if mem := c.mod.Memory(); mem == nil || !mem.WriteFloat64Le(c.u32(0), v) {
					c.ret32(CodeInvalidArgument)
					return
				}
				c.ret32(0)
			},
		},
		{
			name: "get_runtime", results: []api.ValueType{i64}, available: always,
			fn: func(_ context.Context, e *Engine, c *call) {
				c.ret64(int64(e.b.Nanny.Runtime()))
			},
		},
		{
			name: "log", params: []api.ValueType{i32, i32}, results: []api.ValueType{i32}, available: withMisc,
			fn: func(_ context.Context, e *Engine, c *call) {
				msg, ok := c.str(0)
				if !ok {
					c.ret32(CodeInvalidArgument)
					return
				}
				if err := e.b.Misc.Log(msg); err != nil {
					c.ret32(fail("log", err))
					return
				}
				c.ret32(0)
			},
		},
		{
			name: "exit_all", available: withMisc,
			fn: func(ctx context.Context, e *Engine, c *call) {
				e.reportMemory(c.mod)
				e.b.Misc.ExitAll()
				_ = c.mod.CloseWithExitCode(ctx, uint32(errors.ExitExitAll))
			},
		},
		{
			name: "get_resources", params: []api.ValueType{i32, i32}, results: []api.ValueType{i64}, available: always,
			fn: func(_ context.Context, e *Engine, c *call) {
				data, err := encMode.Marshal(e.b.Nanny.Resources())
				if err != nil {
					c.ret64(int64(fail("get_resources", errors.Wrap(errors.PhaseGuest, errors.KindInvalidData, err, "encode report"))))
					return
				}
				c.ret64(c.emit(0, data))
			},
		},
		{
			name: "open_file", params: []api.ValueType{i32, i32, i32}, results: []api.ValueType{i64}, available: withFiles,
			fn: func(_ context.Context, e *Engine, c *call) {
				name, ok := c.str(0)
				if !ok {
					c.ret64(int64(CodeInvalidArgument))
					return
				}
				f, err := e.b.Files.OpenFile(name, c.i32(2) != 0)
				if err != nil {
					c.ret64(int64(fail("open_file", err)))
					return
				}
				c.ret64(int64(f.Handle()))
			},
		},
		{
			name: "file_read_at", params: []api.ValueType{i64, i32, i32, i64}, results: []api.ValueType{i64}, available: withFiles,
			fn: func(_ context.Context, e *Engine, c *call) {
				f, ok := e.b.Files.File(handle(c, 0))
				if !ok {
					c.ret64(int64(CodeNotFound))
					return
				}
				data, err := f.ReadAt(int(c.u32(2)), c.i64(3))
				if err != nil {
					c.ret64(int64(fail("file_read_at", err)))
					return
				}
				c.ret64(c.emit(1, data))
			},
		},
		{
			name: "file_write_at", params: []api.ValueType{i64, i32, i32, i64}, results: []api.ValueType{i32}, available: withFiles,
			fn: func(_ context.Context, e *Engine, c *call) {
				f, ok := e.b.Files.File(handle(c, 0))
				if !ok {
					c.ret32(CodeNotFound)
					return
				}
				data, ok := c.bytes(1)
				if !ok {
					c.ret32(CodeInvalidArgument)
					return
				}
				if err := f.WriteAt(data, c.i64(3)); err != nil {
					c.ret32(fail("file_write_at", err))
					return
				}
				c.ret32(0)
			},
		},
		{
			name: "file_close", params: []api.ValueType{i64}, results: []api.ValueType{i32}, available: withFiles,
			fn: func(_ context.Context, e *Engine, c *call) {
				f, ok := e.b.Files.File(handle(c, 0))
				if !ok {
					c.ret32(CodeFileClosed)
					return
				}
				if err := f.Close(); err != nil {
					c.ret32(fail("file_close", err))
					return
				}
				c.ret32(0)
			},
		},
		{
			name: "list_files", params: []api.ValueType{i32, i32}, results: []api.ValueType{i64}, available: withFiles,
			fn: func(_ context.Context, e *Engine, c *call) {
				names, err := e.b.Files.ListFiles()
				if err != nil {
					c.ret64(int64(fail("list_files", err)))
					return
				}
				data, err := encMode.Marshal(names)
				if err != nil {
					c.ret64(int64(CodeInvalidData))
					return
				}
				c.ret64(c.emit(0, data))
			},
		},
		{
			name: "remove_file", params: []api.ValueType{i32, i32}, results: []api.ValueType{i32}, available: withFiles,
			fn: func(_ context.Context, e *Engine, c *call) {
				name, ok := c.str(0)
				if !ok {
					c.ret32(CodeInvalidArgument)
					return
				}
				if err := e.b.Files.RemoveFile(name); err != nil {
					c.ret32(fail("remove_file", err))
					return
				}
				c.ret32(0)
			},
		},
		{
			name:      "send_mess",
			params:    []api.ValueType{i32, i32, i32, i32, i32, i32, i32, i32},
			results:   []api.ValueType{i64},
			available: withComm,
			fn: func(ctx context.Context, e *Engine, c *call) {
				dest, ok1 := c.str(0)
				msg, ok2 := c.bytes(3)
				local, ok3 := c.str(5)
				if !ok1 || !ok2 || !ok3 {
					c.ret64(int64(CodeInvalidArgument))
					return
				}
				n, err := e.b.Comm.SendMess(ctx, dest, int(c.i32(2)), msg, local, int(c.i32(7)))
				if err != nil {
					c.ret64(int64(fail("send_mess", err)))
					return
				}
				c.ret64(int64(n))
			},
		},
		{
			name:      "open_conn",
			params:    []api.ValueType{i32, i32, i32, i32, i32, i32, i64},
			results:   []api.ValueType{i64},
			available: withComm,
			fn: func(ctx context.Context, e *Engine, c *call) {
				dest, ok1 := c.str(0)
				local, ok2 := c.str(3)
				if !ok1 || !ok2 {
					c.ret64(int64(CodeInvalidArgument))
					return
				}
				timeout := time.Duration(c.i64(6)) * time.Millisecond
				sock, err := e.b.Comm.OpenConn(ctx, dest, int(c.i32(2)), local, int(c.i32(5)), timeout)
				if err != nil {
					c.ret64(int64(fail("open_conn", err)))
					return
				}
				c.ret64(int64(sock.Handle()))
			},
		},
		{
			name: "sock_send", params: []api.ValueType{i64, i32, i32}, results: []api.ValueType{i64}, available: withComm,
			fn: func(ctx context.Context, e *Engine, c *call) {
				sock, ok := e.b.Comm.Socket(handle(c, 0))
				if !ok {
					c.ret64(int64(CodeSocketClosed))
					return
				}
				data, ok := c.bytes(1)
				if !ok {
					c.ret64(int64(CodeInvalidArgument))
					return
				}
				n, err := sock.Send(ctx, data)
				if err != nil {
					c.ret64(int64(fail("sock_send", err)))
					return
				}
				c.ret64(int64(n))
			},
		},
		{
			name: "sock_recv", params: []api.ValueType{i64, i32, i32}, results: []api.ValueType{i64}, available: withComm,
			fn: func(ctx context.Context, e *Engine, c *call) {
				sock, ok := e.b.Comm.Socket(handle(c, 0))
				if !ok {
					c.ret64(int64(CodeSocketClosed))
					return
				}
				data, err := sock.Recv(ctx, int(c.u32(2)))
				if err != nil {
					c.ret64(int64(fail("sock_recv", err)))
					return
				}
				c.ret64(c.emit(1, data))
			},
		},
		{
			name: "sock_close", params: []api.ValueType{i64}, results: []api.ValueType{i32}, available: withComm,
			fn: func(_ context.Context, e *Engine, c *call) {
				sock, ok := e.b.Comm.Socket(handle(c, 0))
				if !ok || !sock.Close() {
					c.ret32(0)
					return
				}
				c.ret32(1)
			},
		},
		{
			name: "stop_comm", params: []api.ValueType{i64}, results: []api.ValueType{i32}, available: withComm,
			fn: func(_ context.Context, e *Engine, c *call) {
				if e.b.Comm.StopComm(handle(c, 0)) {
					c.ret32(1)
					return
				}
				c.ret32(0)
			},
		},
	}
}
