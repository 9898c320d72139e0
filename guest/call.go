package guest

import (
	"bytes"

	"github.com/tetratelabs/wazero/api"
)

// call gives a host function typed access to its stack and copies data
// across the guest memory boundary.
type call struct {
	mod   api.Module
	stack []uint64
}

func (c *call) i32(i int) int32  { return api.DecodeI32(c.stack[i]) }
func (c *call) u32(i int) uint32 { return api.DecodeU32(c.stack[i]) }
func (c *call) i64(i int) int64  { return int64(c.stack[i]) }

func (c *call) ret32(v int32) { c.stack[0] = api.EncodeI32(v) }
func (c *call) ret64(v int64) { c.stack[0] = api.EncodeI64(v) }

// bytes copies the (pointer, length) pair at stack slots i and i+1 out
// of guest memory.
func (c *call) bytes(i int) ([]byte, bool) {
	mem := c.mod.Memory()
	if mem == nil {
		return nil, false
	}
	view, ok := mem.Read(c.u32(i), c.u32(i+1))
	if !ok {
		return nil, false
	}
	return bytes.Clone(view), true
}

func (c *call) str(i int) (string, bool) {
	b, ok := c.bytes(i)
	return string(b), ok
}

// emit writes data to the guest buffer at stack slots i and i+1 if it
// fits and returns len(data). A guest seeing a result larger than its
// buffer retries with a bigger one.
func (c *call) emit(i int, data []byte) int64 {
	if uint64(len(data)) > uint64(c.u32(i+1)) {
		return int64(len(data))
	}
	mem := c.mod.Memory()
	if mem == nil || !mem.Write(c.u32(i), data) {
		return int64(CodeInvalidArgument)
	}
	return int64(len(data))
}
