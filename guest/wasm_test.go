package guest

// A minimal binary encoder for building test modules.

const (
	tI32 byte = 0x7f
	tI64 byte = 0x7e
)

type fnType struct {
	params, results []byte
}

type wasmImport struct {
	module, name string
	typ          uint32
}

type wasmFunc struct {
	typ    uint32
	locals []byte
	body   []byte
	export string
}

type wasmData struct {
	offset int32
	bytes  []byte
}

type wasmModule struct {
	types    []fnType
	imports  []wasmImport
	funcs    []wasmFunc
	memPages uint32
	data     []wasmData
}

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func vec(items []byte) []byte { return append(uleb(uint64(len(items))), items...) }
func name(s string) []byte    { return vec([]byte(s)) }

func i32c(v int32) []byte     { return append([]byte{0x41}, sleb(int64(v))...) }
func i64c(v int64) []byte     { return append([]byte{0x42}, sleb(v)...) }
func callf(idx uint32) []byte { return append([]byte{0x10}, uleb(uint64(idx))...) }
func localGet(i uint32) []byte {
	return append([]byte{0x20}, uleb(uint64(i))...)
}
func localSet(i uint32) []byte {
	return append([]byte{0x21}, uleb(uint64(i))...)
}

var (
	opDrop        = []byte{0x1a}
	opUnreachable = []byte{0x00}
	opWrapI64     = []byte{0xa7}
)

func code(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func (m *wasmModule) encode() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	section := func(id byte, body []byte) {
		out = append(out, id)
		out = append(out, vec(body)...)
	}

	if len(m.types) > 0 {
		b := uleb(uint64(len(m.types)))
		for _, t := range m.types {
			b = append(b, 0x60)
			b = append(b, vec(t.params)...)
			b = append(b, vec(t.results)...)
		}
		section(1, b)
	}
	if len(m.imports) > 0 {
		b := uleb(uint64(len(m.imports)))
		for _, imp := range m.imports {
			b = append(b, name(imp.module)...)
			b = append(b, name(imp.name)...)
			b = append(b, 0x00)
			b = append(b, uleb(uint64(imp.typ))...)
		}
		section(2, b)
	}
	if len(m.funcs) > 0 {
		b := uleb(uint64(len(m.funcs)))
		for _, f := range m.funcs {
			b = append(b, uleb(uint64(f.typ))...)
		}
		section(3, b)
	}
	if m.memPages > 0 {
		b := append([]byte{0x01, 0x00}, uleb(uint64(m.memPages))...)
		section(5, b)
	}

	var exports [][]byte
	if m.memPages > 0 {
		exports = append(exports, append(name("memory"), 0x02, 0x00))
	}
	for i, f := range m.funcs {
		if f.export == "" {
			continue
		}
		idx := uint64(len(m.imports) + i)
		exports = append(exports, append(append(name(f.export), 0x00), uleb(idx)...))
	}
	if len(exports) > 0 {
		b := uleb(uint64(len(exports)))
		for _, e := range exports {
			b = append(b, e...)
		}
		section(7, b)
	}

	if len(m.funcs) > 0 {
		b := uleb(uint64(len(m.funcs)))
		for _, f := range m.funcs {
			body := uleb(uint64(len(f.locals)))
			for _, l := range f.locals {
				body = append(body, 0x01, l)
			}
			body = append(body, f.body...)
			body = append(body, 0x0b)
			b = append(b, vec(body)...)
		}
		section(10, b)
	}
	if len(m.data) > 0 {
		b := uleb(uint64(len(m.data)))
		for _, d := range m.data {
			b = append(b, 0x00)
			b = append(b, i32c(d.offset)...)
			b = append(b, 0x0b)
			b = append(b, vec(d.bytes)...)
		}
		section(11, b)
	}
	return out
}
