package file

import (
	"os"
	"slices"
	"sync"

	securejoin "github.com/cyphar/filepath-securejoin"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/nanny"
	"github.com/wippyai/sandbox-runtime/resource"
)

// BlockSize is the unit file accesses are charged in.
const BlockSize = 4096

const maxNameLen = 120

// Option configures a Host.
type Option func(*Host)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// Host implements the file calls of one sandbox.
type Host struct {
	nanny     *nanny.Nanny
	resources *resource.UnifiedTable
	dir       string
	logger    *zap.Logger

	// mu guards open and serializes opens and removes.
	mu   sync.Mutex
	open map[string]resource.Handle
}

// NewHost creates a file host rooted at dir, creating it if needed.
func NewHost(n *nanny.Nanny, resources *resource.UnifiedTable, dir string, opts ...Option) (*Host, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.PhaseFile, errors.KindInvalidArgument, err, "cannot create sandbox directory")
	}
	h := &Host{
		nanny:     n,
		resources: resources,
		dir:       dir,
		logger:    zap.NewNop(),
		open:      make(map[string]resource.Handle),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Dir returns the sandbox directory.
func (h *Host) Dir() string { return h.dir }

// ValidName reports whether name may be used as a sandbox file name.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." || len(name) > maxNameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

func checkName(name string) error {
	if !ValidName(name) {
		return errors.New(errors.PhaseFile, errors.KindInvalidArgument).
			Detail("illegal file name %q", name).
			Value(name).
			Build()
	}
	return nil
}

func (h *Host) path(name string) (string, error) {
	p, err := securejoin.SecureJoin(h.dir, name)
	if err != nil {
		return "", errors.Wrap(errors.PhaseFile, errors.KindInvalidArgument, err, "cannot resolve file name")
	}
	return p, nil
}

// exists charges one block of fileread for looking name up.
func (h *Host) exists(path string) (bool, error) {
	if err := h.nanny.AdmitQuantity(nanny.FileRead, 0); err != nil {
		return false, err
	}
	_, err := os.Stat(path)
	if aerr := h.nanny.AdmitQuantity(nanny.FileRead, BlockSize); aerr != nil {
		return false, aerr
	}
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, errors.Wrap(errors.PhaseFile, errors.KindInvalidArgument, err, "cannot stat file")
	}
}

// OpenFile opens name, creating it when create is set. The name must
// not be open through another handle.
func (h *Host) OpenFile(name string, create bool) (*File, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	path, err := h.path(name)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, busy := h.open[name]; busy {
		return nil, errors.FileInUse(name)
	}
	found, err := h.exists(path)
	if err != nil {
		return nil, err
	}
	if !found && !create {
		return nil, errors.FileNotFound(name)
	}

	handle, err := h.resources.Reserve()
	if err != nil {
		return nil, err
	}
	if err := h.nanny.AdmitItem(nanny.FilesOpened, handle); err != nil {
		h.resources.Discard(handle)
		return nil, err
	}
	release := func() {
		h.nanny.ReleaseItem(nanny.FilesOpened, handle)
		h.resources.Discard(handle)
	}

	if !found {
		if err := h.nanny.AdmitQuantity(nanny.FileWrite, 0); err != nil {
			release()
			return nil, err
		}
	}
	osf, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		release()
		return nil, errors.Wrap(errors.PhaseFile, errors.KindInvalidArgument, err, "cannot open file")
	}
	if !found {
		if err := h.nanny.AdmitQuantity(nanny.FileWrite, BlockSize); err != nil {
			osf.Close()
			release()
			return nil, err
		}
	}

	f := &File{host: h, handle: handle, name: name, f: osf}
	e := &resource.Entry{Kind: resource.KindFile, Value: f, Path: name}
	if err := h.resources.Attach(handle, e); err != nil {
		osf.Close()
		h.nanny.ReleaseItem(nanny.FilesOpened, handle)
		return nil, err
	}
	f.entry = e
	h.open[name] = handle

	h.logger.Debug("file opened", zap.String("name", name), zap.Uint64("handle", uint64(handle)), zap.Bool("created", !found))
	return f, nil
}

// File returns the open file behind a handle.
func (h *Host) File(handle resource.Handle) (*File, bool) {
	e, ok := h.resources.GetKind(handle, resource.KindFile)
	if !ok {
		return nil, false
	}
	f, ok := e.Value.(*File)
	return f, ok
}

// ListFiles returns the names of the files in the sandbox directory.
func (h *Host) ListFiles() ([]string, error) {
	if err := h.nanny.AdmitQuantity(nanny.FileRead, 0); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(h.dir)
	if aerr := h.nanny.AdmitQuantity(nanny.FileRead, BlockSize); aerr != nil {
		return nil, aerr
	}
	if err != nil {
		return nil, errors.Wrap(errors.PhaseFile, errors.KindInvalidArgument, err, "cannot list sandbox directory")
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && ValidName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// RemoveFile deletes name. Open files cannot be removed.
func (h *Host) RemoveFile(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	path, err := h.path(name)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, busy := h.open[name]; busy {
		return errors.FileInUse(name)
	}
	found, err := h.exists(path)
	if err != nil {
		return err
	}
	if !found {
		return errors.FileNotFound(name)
	}

	if err := h.nanny.AdmitQuantity(nanny.FileWrite, 0); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return errors.Wrap(errors.PhaseFile, errors.KindInvalidArgument, err, "cannot remove file")
	}
	return h.nanny.AdmitQuantity(nanny.FileWrite, BlockSize)
}

// Close closes every file still open.
func (h *Host) Close() error {
	var err error
	for _, handle := range h.resources.Handles(resource.KindFile) {
		if f, ok := h.File(handle); ok {
			if cerr := f.Close(); cerr != nil && !errors.Is(cerr, errors.ErrFileClosed) {
				err = multierr.Append(err, cerr)
			}
		}
	}
	return err
}

func (h *Host) forget(name string, handle resource.Handle) {
	h.mu.Lock()
	if h.open[name] == handle {
		delete(h.open, name)
	}
	h.mu.Unlock()
}
