package misc

// ring keeps the last size bytes written to it.
type ring struct {
	buf  []byte
	size int
}

func newRing(size int) *ring {
	if size <= 0 {
		size = DefaultTailSize
	}
	return &ring{size: size}
}

func (r *ring) Write(p []byte) {
	if len(p) >= r.size {
		r.buf = append(r.buf[:0], p[len(p)-r.size:]...)
		return
	}
	if over := len(r.buf) + len(p) - r.size; over > 0 {
		r.buf = append(r.buf[:0], r.buf[over:]...)
	}
	r.buf = append(r.buf, p...)
}

func (r *ring) Bytes() []byte {
	return append([]byte(nil), r.buf...)
}
