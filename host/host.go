package host

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/vfd/descriptor"
	"github.com/wippyai/vfd/errors"
)

// DefaultModuleName is the import module name guests use.
const DefaultModuleName = "vfd"

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// Options configures the host module.
type Options struct {
	// Logger receives debug records for instantiation and rejected guest calls.
	// Defaults to a no-op logger.
	Logger     *zap.Logger
	ModuleName string
}

// DefaultOptions returns default host module configuration.
func DefaultOptions() Options {
	return Options{
		Logger:     zap.NewNop(),
		ModuleName: DefaultModuleName,
	}
}

// Validate checks the options New depends on.
func (o Options) Validate() error {
	if o.ModuleName == "" {
		return errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Path("module_name").
			Detail("module name cannot be empty").
			Build()
	}
	return nil
}

// FuncDef describes one exported host function.
type FuncDef struct {
	Handler     api.GoModuleFunc
	Name        string
	ParamNames  []string
	ParamTypes  []api.ValueType
	ResultTypes []api.ValueType
}

// Module binds a registry to the set of host functions guests import.
type Module struct {
	reg   *descriptor.Registry
	log   *zap.Logger
	name  string
	funcs []FuncDef
}

// New creates a host module over reg.
func New(reg *descriptor.Registry, opts Options) (*Module, error) {
	if reg == nil {
		return nil, errors.InvalidInput(errors.PhaseHost, "registry cannot be nil")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	m := &Module{reg: reg, log: opts.Logger, name: opts.ModuleName}
	m.define()
	return m, nil
}

// NewFromContext creates a host module over the registry carried by ctx.
func NewFromContext(ctx context.Context, opts Options) (*Module, error) {
	reg, ok := descriptor.FromContext(ctx)
	if !ok {
		return nil, errors.NotFound(errors.PhaseHost, "registry", "in context")
	}
	return New(reg, opts)
}

// Name returns the import module name.
func (m *Module) Name() string {
	return m.name
}

// Registry returns the registry the module serves.
func (m *Module) Registry() *descriptor.Registry {
	return m.reg
}

// Funcs returns the exported function definitions.
func (m *Module) Funcs() []FuncDef {
	out := make([]FuncDef, len(m.funcs))
	copy(out, m.funcs)
	return out
}

// Instantiate builds the host module into rt. Guest modules importing it must
// be instantiated afterwards.
func (m *Module) Instantiate(ctx context.Context, rt wazero.Runtime) (api.Module, error) {
	if rt == nil {
		return nil, errors.InvalidInput(errors.PhaseHost, "runtime cannot be nil")
	}
	if existing := rt.Module(m.name); existing != nil {
		return nil, errors.Instantiation(m.name, fmt.Errorf("module already instantiated"))
	}

	builder := rt.NewHostModuleBuilder(m.name)
	for _, f := range m.funcs {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(f.Handler, f.ParamTypes, f.ResultTypes).
			WithParameterNames(f.ParamNames...).
			Export(f.Name)
	}

	mod, err := builder.Instantiate(ctx)
	if err != nil {
		return nil, errors.Instantiation(m.name, err)
	}
	m.log.Debug("descriptor host module instantiated",
		zap.String("module", m.name),
		zap.Int("functions", len(m.funcs)))
	return mod, nil
}

func (m *Module) def(name string, fn api.GoModuleFunc, paramNames []string, params, results []api.ValueType) {
	m.funcs = append(m.funcs, FuncDef{
		Name:        name,
		Handler:     fn,
		ParamNames:  paramNames,
		ParamTypes:  params,
		ResultTypes: results,
	})
}

func (m *Module) define() {
	reg := m.reg
	log := m.log

	m.def("register-socket", func(_ context.Context, _ api.Module, stack []uint64) {
		s := descriptor.Socket(stack[0])
		vd := reg.RegisterSocket(s)
		if vd == descriptor.InvalidVD {
			log.Debug("guest socket registration rejected", zap.Uint64("socket", uint64(s)))
		}
		stack[0] = encodeVD(vd)
	}, []string{"handle"}, []api.ValueType{i64}, []api.ValueType{i32})

	m.def("unregister-socket", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = encodeBool(reg.UnregisterSocket(descriptor.Socket(stack[0])))
	}, []string{"handle"}, []api.ValueType{i64}, []api.ValueType{i32})

	m.def("release", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = encodeBool(reg.ReleaseDescriptor(decodeVD(stack[0])))
	}, []string{"vd"}, []api.ValueType{i32}, []api.ValueType{i32})

	m.def("register-fd", func(_ context.Context, _ api.Module, stack []uint64) {
		fd := int(api.DecodeI32(stack[0]))
		stack[0] = encodeVD(reg.RegisterFileDescriptor(fd))
	}, []string{"fd"}, []api.ValueType{i32}, []api.ValueType{i32})

	m.def("unregister-fd", func(_ context.Context, _ api.Module, stack []uint64) {
		fd := int(api.DecodeI32(stack[0]))
		stack[0] = encodeBool(reg.UnregisterFileDescriptor(fd))
	}, []string{"fd"}, []api.ValueType{i32}, []api.ValueType{i32})

	m.def("lookup-socket", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = uint64(reg.LookupSocket(decodeVD(stack[0])))
	}, []string{"vd"}, []api.ValueType{i32}, []api.ValueType{i64})

	m.def("lookup-fd", func(_ context.Context, _ api.Module, stack []uint64) {
		fd := reg.LookupFileDescriptor(decodeVD(stack[0]))
		stack[0] = api.EncodeI32(int32(fd))
	}, []string{"vd"}, []api.ValueType{i32}, []api.ValueType{i32})

	m.def("get-flags", func(_ context.Context, _ api.Module, stack []uint64) {
		flags := -1
		reg.UpdateSocketInfo(decodeVD(stack[0]), func(si *descriptor.SocketInfo) {
			flags = si.Flags
		})
		stack[0] = api.EncodeI32(int32(flags))
	}, []string{"vd"}, []api.ValueType{i32}, []api.ValueType{i32})

	// Flags are a non-negative bit set so that -1 from get-flags always means
	// "no socket"; negative values are refused.
	m.def("set-flags", func(_ context.Context, _ api.Module, stack []uint64) {
		vd := decodeVD(stack[0])
		flags := int(api.DecodeI32(stack[1]))
		if flags < 0 {
			log.Debug("guest set negative socket flags", zap.Int32("vd", int32(vd)), zap.Int("flags", flags))
			stack[0] = encodeBool(false)
			return
		}
		ok := reg.UpdateSocketInfo(vd, func(si *descriptor.SocketInfo) {
			si.Flags = flags
		})
		stack[0] = encodeBool(ok)
	}, []string{"vd", "flags"}, []api.ValueType{i32, i32}, []api.ValueType{i32})

	m.def("count", func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = api.EncodeI32(int32(reg.Len()))
	}, nil, nil, []api.ValueType{i32})
}

func decodeVD(v uint64) descriptor.VD {
	return descriptor.VD(api.DecodeI32(v))
}

func encodeVD(vd descriptor.VD) uint64 {
	return api.EncodeI32(int32(vd))
}

func encodeBool(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
