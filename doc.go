// Package vfd maps native sockets and native file descriptors onto one space of
// small virtual descriptors.
//
// Native socket handles are opaque and need not be small or sequential. Code
// written against a POSIX descriptor model expects descriptors that start low,
// grow by one and are reused after close. This module issues such descriptors
// and keeps the association in both directions.
//
// # Architecture Overview
//
//	vfd/
//	├── descriptor/      Registry: virtual descriptor allocation, lookup, recycling
//	├── host/            wazero host module exposing the registry to guests
//	├── errors/          Structured error types for diagnostics
//	└── cmd/vfdctl/      Script runner and interactive TUI over a registry
//
// # Quick Start
//
//	reg := descriptor.New(descriptor.WithLogger(log))
//
//	vd := reg.RegisterSocket(handle)  // 3 on a fresh registry
//	s := reg.LookupSocket(vd)         // handle
//
//	reg.UnregisterSocket(handle)
//	reg.ReleaseDescriptor(vd)          // vd returns to the recycle pool
//
// Descriptors 0, 1 and 2 are never issued. Failures are reported through the
// sentinels descriptor.InvalidVD, descriptor.InvalidSocket and
// descriptor.InvalidFD rather than errors.
//
// # Guests
//
// The host package exports the registry as a core wasm host module:
//
//	m, err := host.New(reg, host.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	if _, err := m.Instantiate(ctx, rt); err != nil {
//	    return err
//	}
//
// Guests import functions such as "vfd" "register-socket" and receive the
// same sentinels as Go callers.
package vfd
