// Package guest runs untrusted WebAssembly programs against the sandbox.
//
// Verify compiles a module and rejects it unless every import is a
// function of the "sandbox" host module. Run instantiates a verified
// Unit with linear memory capped by the "memory" resource and calls one
// exported function. The host module copies every argument out of guest
// memory before handing it to the emulation layers, and reports
// failures as negative status codes (see Code).
package guest

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"slices"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/sandbox-runtime/comm"
	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/file"
	"github.com/wippyai/sandbox-runtime/misc"
	"github.com/wippyai/sandbox-runtime/nanny"
	"github.com/wippyai/sandbox-runtime/timer"
)

// ModuleName is the import module guests call the sandbox through.
const ModuleName = "sandbox"

const (
	pageSize = 65536
	maxPages = 65536
)

// Bindings are the emulation layers the host module calls into.
type Bindings struct {
	Nanny *nanny.Nanny
	Comm  *comm.Host
	Files *file.Host
	Timer *timer.Host
	Misc  *misc.Host
}

// Engine compiles and runs guest modules for one sandbox.
type Engine struct {
	runtime wazero.Runtime
	b       Bindings
	funcs   map[string]hostFunc
}

// Unit is a verified, compiled guest module.
type Unit struct {
	compiled wazero.CompiledModule
	exports  []string
}

// Exports lists the functions the unit exports.
func (u *Unit) Exports() []string { return u.exports }

// MemoryLimitPages converts a memory limit in bytes to wasm pages.
func MemoryLimitPages(limit float64) uint32 {
	pages := math.Floor(limit / pageSize)
	switch {
	case pages < 1:
		return 1
	case pages > maxPages:
		return maxPages
	default:
		return uint32(pages)
	}
}

// NewEngine creates an engine and instantiates the host module.
func NewEngine(ctx context.Context, b Bindings) (*Engine, error) {
	if b.Nanny == nil {
		return nil, fmt.Errorf("guest: nanny is required")
	}
	limit, _ := b.Nanny.Limit(nanny.Memory)
	cfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(MemoryLimitPages(limit)).
		WithCloseOnContextDone(true)

	e := &Engine{
		runtime: wazero.NewRuntimeWithConfig(ctx, cfg),
		b:       b,
		funcs:   make(map[string]hostFunc),
	}
	builder := e.runtime.NewHostModuleBuilder(ModuleName)
	for _, f := range e.hostFuncs() {
		if !f.available(b) {
			continue
		}
		e.funcs[f.name] = f
		builder.NewFunctionBuilder().
			WithGoModuleFunction(e.wrap(f), f.params, f.results).
			Export(f.name)
	}
	if _, err := builder.Instantiate(ctx); err != nil {
		_ = e.runtime.Close(ctx)
		return nil, fmt.Errorf("guest: instantiate host module: %w", err)
	}
	return e, nil
}

// Verify compiles src and checks that it only imports sandbox calls.
func (e *Engine) Verify(ctx context.Context, src []byte) (*Unit, error) {
	compiled, err := e.runtime.CompileModule(ctx, src)
	if err != nil {
		return nil, rejected(err, "module does not compile")
	}

	for _, def := range compiled.ImportedFunctions() {
		mod, name, _ := def.Import()
		if mod != ModuleName {
			_ = compiled.Close(ctx)
			return nil, rejected(nil, fmt.Sprintf("import %s.%s is outside the sandbox", mod, name))
		}
		f, ok := e.funcs[name]
		if !ok {
			_ = compiled.Close(ctx)
			return nil, rejected(nil, fmt.Sprintf("unknown sandbox call %q", name))
		}
		if !slices.Equal(def.ParamTypes(), f.params) || !slices.Equal(def.ResultTypes(), f.results) {
			_ = compiled.Close(ctx)
			return nil, rejected(nil, fmt.Sprintf("sandbox call %q imported with the wrong signature", name))
		}
	}
	if len(compiled.ImportedMemories()) > 0 {
		_ = compiled.Close(ctx)
		return nil, rejected(nil, "modules must define their own memory")
	}

	u := &Unit{compiled: compiled}
	for name := range compiled.ExportedFunctions() {
		u.exports = append(u.exports, name)
	}
	slices.Sort(u.exports)
	Logger().Debug("module verified", zap.Int("imports", len(compiled.ImportedFunctions())), zap.Strings("exports", u.exports))
	return u, nil
}

// Run instantiates unit and calls its entry export. The call stops
// when ctx is done or the sandbox is aborted.
func (e *Engine) Run(ctx context.Context, unit *Unit, entry string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.b.Nanny.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	mod, err := e.runtime.InstantiateModule(ctx, unit.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return errors.Wrap(errors.PhaseGuest, errors.KindCodeUnsafe, err, "instantiate failed")
	}
	defer mod.Close(context.Background())

	fn := mod.ExportedFunction(entry)
	if fn == nil {
		return errors.New(errors.PhaseGuest, errors.KindNotFound).
			Detail("module has no export %q", entry).
			Build()
	}
	if len(fn.Definition().ParamTypes()) != 0 {
		return errors.InvalidArgument(errors.PhaseGuest, "entry %q must take no parameters", entry)
	}

	_, err = fn.Call(ctx)
	e.reportMemory(mod)
	if err != nil {
		var exit *sys.ExitError
		if stderrors.As(err, &exit) && exit.ExitCode() == 0 {
			return nil
		}
		return fmt.Errorf("guest: %s: %w", entry, err)
	}
	return nil
}

// reportMemory records the guest's linear memory size as the memory
// level. A closed module has no memory left to read.
func (e *Engine) reportMemory(mod api.Module) {
	if mod.IsClosed() {
		return
	}
	if mem := mod.Memory(); mem != nil {
		_ = e.b.Nanny.ReportLevel(nanny.Memory, float64(mem.Size()))
	}
}

// Close releases compiled code and the host module.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

func (e *Engine) wrap(f hostFunc) api.GoModuleFunction {
	return api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
		c := &call{mod: mod, stack: stack}
		f.fn(ctx, e, c)
	})
}

func rejected(cause error, detail string) error {
	return errors.Wrap(errors.PhaseGuest, errors.KindCodeUnsafe, cause, detail)
}

