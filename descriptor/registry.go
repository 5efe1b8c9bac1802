package descriptor

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// association is the tagged value a live vd maps to.
type association struct {
	info *SocketInfo // KindSocket
	fd   int         // KindFile
	kind Kind
}

// Registry maps native sockets and native file descriptors onto one dense
// virtual descriptor space. A single mutex guards every table, the counter and
// the recycle pool, so paired updates are never observed half done.
// Thread-safe.
type Registry struct {
	log *zap.Logger

	sockets map[Socket]VD
	files   map[int]VD
	entries map[VD]association
	pool    recyclePool
	next    VD
	seq     uint64
	mu      sync.Mutex

	observers []subscription
	obsSeq    uint64
	obsMu     sync.RWMutex
}

type subscription struct {
	o  Observer
	id uint64
}

// New creates an empty registry. The caller owns it; there is no package-level
// instance.
func New(opts ...Option) *Registry {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if err := o.Validate(); err != nil {
		o.Logger.Warn("invalid registry options, using zero capacity", zap.Error(err))
		o.Capacity = 0
	}

	return &Registry{
		log:     o.Logger,
		sockets: make(map[Socket]VD, o.Capacity),
		files:   make(map[int]VD, o.Capacity),
		entries: make(map[VD]association, o.Capacity),
		next:    FirstVD,
	}
}

// allocLocked returns the front of the recycle pool, or the counter value when
// the pool is empty.
func (r *Registry) allocLocked() VD {
	if vd, ok := r.pool.pop(); ok {
		return vd
	}
	vd := r.next
	r.next++
	return vd
}

// RegisterSocket issues a descriptor for s and records a fresh SocketInfo for it.
// Returns InvalidVD if s is already registered or is InvalidSocket.
func (r *Registry) RegisterSocket(s Socket) VD {
	e, ok := r.registerSocket(s)
	if !ok {
		return InvalidVD
	}
	r.notify(e)
	return e.VD
}

func (r *Registry) registerSocket(s Socket) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s == InvalidSocket {
		r.log.Debug("refusing invalid socket handle")
		return Event{}, false
	}
	if existing, ok := r.sockets[s]; ok {
		r.log.Debug("socket already registered",
			zap.Uint64("socket", uint64(s)),
			zap.Int32("vd", int32(existing)))
		return Event{}, false
	}

	vd := r.allocLocked()
	r.sockets[s] = vd
	r.entries[vd] = association{
		kind: KindSocket,
		info: &SocketInfo{Socket: s},
	}
	return r.eventLocked(EventRegistered, KindSocket, vd, s, InvalidFD), true
}

// UnregisterSocket forgets the handle-to-descriptor entry for s. The descriptor
// and its SocketInfo stay live until ReleaseDescriptor is called.
// Returns false if s is not registered.
func (r *Registry) UnregisterSocket(s Socket) bool {
	e, ok := r.unregisterSocket(s)
	if ok {
		r.notify(e)
	}
	return ok
}

func (r *Registry) unregisterSocket(s Socket) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	vd, ok := r.sockets[s]
	if !ok {
		return Event{}, false
	}
	delete(r.sockets, s)
	return r.eventLocked(EventUnregistered, KindSocket, vd, s, InvalidFD), true
}

// ReleaseDescriptor drops the SocketInfo for vd and returns vd to the recycle
// pool. Returns false if vd is not a live socket descriptor.
func (r *Registry) ReleaseDescriptor(vd VD) bool {
	e, ok := r.releaseDescriptor(vd)
	if ok {
		r.notify(e)
	}
	return ok
}

func (r *Registry) releaseDescriptor(vd VD) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.entries[vd]
	if !ok || a.kind != KindSocket {
		r.log.Debug("release of non-socket descriptor ignored", zap.Int32("vd", int32(vd)))
		return Event{}, false
	}

	s := a.info.Socket
	// The handle may still be bound if the caller skipped UnregisterSocket.
	if bound, ok := r.sockets[s]; ok && bound == vd {
		delete(r.sockets, s)
	}
	delete(r.entries, vd)
	r.pool.push(vd)
	return r.eventLocked(EventReleased, KindSocket, vd, s, InvalidFD), true
}

// RegisterFileDescriptor issues a descriptor for the native fd. Registering the
// same fd again returns the descriptor already issued. Returns InvalidVD for a
// negative fd.
func (r *Registry) RegisterFileDescriptor(fd int) VD {
	vd, e, fresh := r.registerFileDescriptor(fd)
	if fresh {
		r.notify(e)
	}
	return vd
}

func (r *Registry) registerFileDescriptor(fd int) (VD, Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if fd < 0 {
		r.log.Debug("refusing negative file descriptor", zap.Int("fd", fd))
		return InvalidVD, Event{}, false
	}
	if vd, ok := r.files[fd]; ok {
		return vd, Event{}, false
	}

	vd := r.allocLocked()
	r.files[fd] = vd
	r.entries[vd] = association{kind: KindFile, fd: fd}
	return vd, r.eventLocked(EventRegistered, KindFile, vd, InvalidSocket, fd), true
}

// UnregisterFileDescriptor removes both directions of the fd association and
// recycles its descriptor. Returns false if fd is not registered.
func (r *Registry) UnregisterFileDescriptor(fd int) bool {
	e, ok := r.unregisterFileDescriptor(fd)
	if ok {
		r.notify(e)
	}
	return ok
}

func (r *Registry) unregisterFileDescriptor(fd int) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	vd, ok := r.files[fd]
	if !ok {
		return Event{}, false
	}
	delete(r.files, fd)
	delete(r.entries, vd)
	r.pool.push(vd)
	return r.eventLocked(EventReleased, KindFile, vd, InvalidSocket, fd), true
}

// eventLocked stamps the next sequence number. Called with mu held, so Seq
// follows the order in which the mutations took effect.
func (r *Registry) eventLocked(typ EventType, kind Kind, vd VD, s Socket, fd int) Event {
	r.seq++
	return Event{Seq: r.seq, Type: typ, Kind: kind, VD: vd, Socket: s, FD: fd}
}

// LookupSocket returns the native socket behind vd, or InvalidSocket.
// A socket whose handle was unregistered but whose vd is not yet released is
// still returned.
func (r *Registry) LookupSocket(vd VD) Socket {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.entries[vd]
	if !ok || a.kind != KindSocket {
		return InvalidSocket
	}
	return a.info.Socket
}

// LookupSocketInfo returns the live metadata record for vd, or nil.
// Callers that share the record across goroutines should use UpdateSocketInfo.
func (r *Registry) LookupSocketInfo(vd VD) *SocketInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.entries[vd]
	if !ok || a.kind != KindSocket {
		return nil
	}
	return a.info
}

// UpdateSocketInfo runs fn on the metadata for vd while holding the registry
// lock. fn must not call back into the registry. Returns false if vd has no
// socket association.
func (r *Registry) UpdateSocketInfo(vd VD, fn func(*SocketInfo)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.entries[vd]
	if !ok || a.kind != KindSocket {
		return false
	}
	fn(a.info)
	return true
}

// LookupFileDescriptor returns the native fd behind vd, or InvalidFD.
func (r *Registry) LookupFileDescriptor(vd VD) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.entries[vd]
	if !ok || a.kind != KindFile {
		return InvalidFD
	}
	return a.fd
}

// Kind returns the association tag of vd, KindNone when vd is free.
func (r *Registry) Kind(vd VD) Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[vd].kind
}

// Len returns the number of live descriptors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Next returns the value the counter would issue next. Every descriptor ever
// issued is below it, so callers can size descriptor tables from it.
func (r *Registry) Next() VD {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.next
}

// Free returns the number of descriptors waiting in the recycle pool.
func (r *Registry) Free() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool.len()
}

// Snapshot returns all live descriptors ordered by vd.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.entries))
	for vd, a := range r.entries {
		e := Entry{VD: vd, Kind: a.kind, Socket: InvalidSocket, FD: InvalidFD}
		switch a.kind {
		case KindSocket:
			e.Socket = a.info.Socket
			e.Flags = a.info.Flags
			bound, ok := r.sockets[a.info.Socket]
			e.Bound = ok && bound == vd
		case KindFile:
			e.FD = a.fd
			e.Bound = true
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VD < out[j].VD })
	return out
}

// Each iterates over a snapshot of the live descriptors in vd order.
// Iteration stops when fn returns false.
func (r *Registry) Each(fn func(Entry) bool) {
	for _, e := range r.Snapshot() {
		if !fn(e) {
			return
		}
	}
}

// Subscribe adds an observer for lifecycle events and returns a function that
// removes it again. Both may be called from inside an observer.
func (r *Registry) Subscribe(o Observer) (unsubscribe func()) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()

	r.obsSeq++
	id := r.obsSeq
	r.observers = append(r.observers, subscription{id: id, o: o})

	return func() {
		r.obsMu.Lock()
		defer r.obsMu.Unlock()

		kept := make([]subscription, 0, len(r.observers))
		for _, sub := range r.observers {
			if sub.id != id {
				kept = append(kept, sub)
			}
		}
		r.observers = kept
	}
}

// notify delivers e to the observers subscribed when it starts. The list is
// copied first so observers can subscribe or unsubscribe while being called.
func (r *Registry) notify(e Event) {
	r.obsMu.RLock()
	subs := make([]subscription, len(r.observers))
	copy(subs, r.observers)
	r.obsMu.RUnlock()

	for _, sub := range subs {
		sub.o.OnDescriptorEvent(e)
	}
}
