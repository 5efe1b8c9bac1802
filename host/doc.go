// Package host exposes a descriptor.Registry to WebAssembly guests as a wazero
// host module.
//
// Guest code written against a POSIX descriptor model imports the module and
// trades native handles for virtual descriptors without seeing the handles'
// platform representation:
//
//	reg := descriptor.New()
//	m, err := host.New(reg, host.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	if _, err := m.Instantiate(ctx, rt); err != nil {
//	    return err
//	}
//
// Exported functions (module "vfd" by default):
//
//	register-socket(i64) -> i32     vd or -1
//	unregister-socket(i64) -> i32   1 if the handle was registered
//	release(i32) -> i32             1 if the vd was a live socket vd
//	register-fd(i32) -> i32         vd or -1, idempotent
//	unregister-fd(i32) -> i32       1 if the fd was registered
//	lookup-socket(i32) -> i64       handle or -1
//	lookup-fd(i32) -> i32           fd or -1
//	get-flags(i32) -> i32           socket flags or -1
//	set-flags(i32, i32) -> i32      1 if the vd was a socket vd and flags >= 0
//	count() -> i32                  live descriptors
//
// Socket flags are a non-negative bit set. set-flags refuses negative values, so
// -1 from get-flags is never a stored value.
//
// The module performs no I/O and never closes native resources.
package host
