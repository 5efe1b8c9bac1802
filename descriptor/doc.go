// Package descriptor provides the virtual descriptor registry.
//
// Native socket handles are opaque and need not be small or sequential, while
// code written against a POSIX descriptor model expects small integers that grow
// by one and are reused. The Registry maps both native sockets and native file
// descriptors onto one such space of virtual descriptors (VD).
//
// # Descriptor Space
//
// Descriptors 0, 1 and 2 are reserved for stdin, stdout and stderr and are never
// issued. The first issued descriptor is FirstVD (3). Released descriptors go to
// a FIFO recycle pool and are reissued before the counter grows, which keeps the
// live set dense:
//
//	reg := descriptor.New()
//
//	a := reg.RegisterSocket(h1)  // 3
//	b := reg.RegisterSocket(h2)  // 4
//	reg.UnregisterSocket(h1)
//	reg.ReleaseDescriptor(a)
//	c := reg.RegisterSocket(h3)  // 3 again
//
// # Sockets and Files
//
// The two registration paths differ on purpose:
//
//	RegisterSocket            - rejects a handle that is already registered (InvalidVD)
//	UnregisterSocket          - forgets the handle only; the vd stays live
//	ReleaseDescriptor         - drops the socket metadata and recycles the vd
//
//	RegisterFileDescriptor    - idempotent, returns the vd already issued
//	UnregisterFileDescriptor  - forgets the fd and recycles the vd in one step
//
// Each socket vd carries a SocketInfo whose State and Flags fields belong to the
// caller. The registry never closes native resources.
//
// # Failures
//
// Operations never return errors. Duplicate registration and lookups of free
// descriptors report through the sentinels InvalidVD, InvalidSocket, InvalidFD
// or a nil *SocketInfo. Verify reports broken invariants as structured errors.
//
// # Concurrency
//
// One mutex guards every table, the counter and the recycle pool; each method
// holds it for its whole body, so operations are linearizable. Observers
// registered with Subscribe run after the lock is released.
//
// # Ownership
//
// There is no package-level registry. The process startup path creates one with
// New and passes it to collaborators directly or through NewContext.
package descriptor
