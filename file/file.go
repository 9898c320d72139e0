package file

import (
	stderrors "errors"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/nanny"
	"github.com/wippyai/sandbox-runtime/resource"
)

// File is an open sandbox file.
type File struct {
	host   *Host
	handle resource.Handle
	name   string
	entry  *resource.Entry

	mu     sync.Mutex
	f      *os.File
	closed bool
}

// Handle returns the file's handle.
func (f *File) Handle() resource.Handle { return f.handle }

// Name returns the file name.
func (f *File) Name() string { return f.name }

// blocks returns how many BlockSize-aligned blocks [offset, offset+n)
// touches.
func blocks(offset int64, n int) int64 {
	if n <= 0 {
		return 0
	}
	first := offset / BlockSize
	last := (offset + int64(n) - 1) / BlockSize
	return last - first + 1
}

// ReadAt reads up to size bytes at offset. A negative size reads to the
// end of the file.
func (f *File) ReadAt(size int, offset int64) ([]byte, error) {
	if offset < 0 {
		return nil, errors.InvalidArgument(errors.PhaseFile, "negative offset %d", offset)
	}
	n := f.host.nanny
	if err := n.AdmitQuantity(nanny.FileRead, 0); err != nil {
		return nil, err
	}

	data, err := f.readAt(size, offset)
	if err != nil {
		return nil, err
	}
	if err := n.AdmitQuantity(nanny.FileRead, float64(blocks(offset, len(data))*BlockSize)); err != nil {
		return nil, err
	}
	return data, nil
}

func (f *File) readAt(size int, offset int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, errors.FileClosed(f.name)
	}
	end, err := f.size()
	if err != nil {
		return nil, err
	}
	if offset > end {
		return nil, errors.SeekPastEnd(f.name, offset, end)
	}
	remaining := end - offset
	if size < 0 || int64(size) > remaining {
		size = int(remaining)
	}

	buf := make([]byte, size)
	got, err := f.f.ReadAt(buf, offset)
	if err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.Wrap(errors.PhaseFile, errors.KindInvalidArgument, err, "read failed")
	}
	return buf[:got], nil
}

// WriteAt writes data at offset. Writing may extend the file but not
// start past its end.
func (f *File) WriteAt(data []byte, offset int64) error {
	if offset < 0 {
		return errors.InvalidArgument(errors.PhaseFile, "negative offset %d", offset)
	}
	n := f.host.nanny
	if err := n.AdmitQuantity(nanny.FileWrite, 0); err != nil {
		return err
	}

	if err := f.writeAt(data, offset); err != nil {
		return err
	}
	return n.AdmitQuantity(nanny.FileWrite, float64(blocks(offset, len(data))*BlockSize))
}

func (f *File) writeAt(data []byte, offset int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return errors.FileClosed(f.name)
	}
	end, err := f.size()
	if err != nil {
		return err
	}
	if offset > end {
		return errors.SeekPastEnd(f.name, offset, end)
	}
	if _, err := f.f.WriteAt(data, offset); err != nil {
		return errors.Wrap(errors.PhaseFile, errors.KindInvalidArgument, err, "write failed")
	}
	return nil
}

func (f *File) size() (int64, error) {
	st, err := f.f.Stat()
	if err != nil {
		return 0, errors.Wrap(errors.PhaseFile, errors.KindInvalidArgument, err, "stat failed")
	}
	return st.Size(), nil
}

// Close releases the file. Closing a closed file fails with FileClosed
// and has no other effect.
func (f *File) Close() error {
	won, err := f.entry.Close(f.release)
	if !won {
		return errors.FileClosed(f.name)
	}
	if err != nil {
		return errors.Wrap(errors.PhaseFile, errors.KindInvalidArgument, err, "close failed")
	}
	return nil
}

// Drop releases the file when the handle table is torn down with it
// still open.
func (f *File) Drop() { _ = f.release() }

// release runs once, under the entry's close lock.
func (f *File) release() error {
	f.mu.Lock()
	f.closed = true
	err := f.f.Close()
	f.mu.Unlock()

	f.host.nanny.ReleaseItem(nanny.FilesOpened, f.handle)
	f.host.forget(f.name, f.handle)
	f.host.resources.Remove(f.handle)
	f.host.logger.Debug("file closed", zap.String("name", f.name), zap.Uint64("handle", uint64(f.handle)))
	return err
}
