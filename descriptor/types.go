package descriptor

// VD is a virtual descriptor: the small non-negative integer handed to callers
// in place of a native handle.
type VD int32

// Socket is an opaque native socket handle. It is not assumed to be small or
// sequential and is only compared for equality.
type Socket uint64

const (
	// InvalidVD is returned when a descriptor could not be issued or found.
	InvalidVD VD = -1

	// InvalidFD is returned when a vd has no native file descriptor.
	InvalidFD = -1

	// InvalidSocket is returned when a vd has no native socket.
	InvalidSocket Socket = ^Socket(0)

	// FirstReservedVD through LastReservedVD are stdin, stdout and stderr.
	// They are never issued.
	FirstReservedVD VD = 0
	LastReservedVD  VD = 2

	// FirstVD is the first descriptor the counter issues.
	FirstVD = LastReservedVD + 1
)

// Reserved reports whether vd lies in the reserved range.
func (vd VD) Reserved() bool {
	return vd >= FirstReservedVD && vd <= LastReservedVD
}

// SocketInfo is the metadata record kept for a socket descriptor.
// State and Flags belong to the caller; the registry stores them untouched.
type SocketInfo struct {
	State  any
	Socket Socket
	Flags  int
}

// Kind tags the association a live vd carries.
type Kind uint8

const (
	KindNone Kind = iota
	KindSocket
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindSocket:
		return "socket"
	case KindFile:
		return "file"
	default:
		return "none"
	}
}

// Entry is a point-in-time view of one live descriptor.
type Entry struct {
	Socket Socket
	FD     int
	Flags  int
	VD     VD
	Kind   Kind
	// Bound is false for a socket vd whose handle was unregistered but whose
	// descriptor has not been released yet.
	Bound bool
}

// EventType identifies a descriptor lifecycle notification.
type EventType uint8

const (
	EventRegistered EventType = iota
	EventUnregistered
	EventReleased
)

func (t EventType) String() string {
	switch t {
	case EventRegistered:
		return "registered"
	case EventUnregistered:
		return "unregistered"
	case EventReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Event represents a descriptor lifecycle event.
type Event struct {
	// Seq numbers events in the order their changes were applied, starting at 1.
	// Delivery happens outside the registry lock, so events from concurrent
	// callers may arrive out of order; sort or compare by Seq when the order of a
	// release and a reissue of the same vd matters.
	Seq    uint64
	Socket Socket
	FD     int
	VD     VD
	Kind   Kind
	Type   EventType
}

// Observer receives notifications about descriptor lifecycle events.
// Observers run after the registry lock is released and may call back into it,
// including Subscribe and the function it returns. Concurrent callers can
// deliver events out of Seq order.
type Observer interface {
	OnDescriptorEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnDescriptorEvent implements Observer.
func (f ObserverFunc) OnDescriptorEvent(e Event) {
	f(e)
}
