package descriptor

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	vfderrors "github.com/wippyai/vfd/errors"
)

func TestRegistry_SocketScenario(t *testing.T) {
	r := New()

	if vd := r.RegisterSocket(0x1001); vd != 3 {
		t.Fatalf("first socket: got vd %d, want 3", vd)
	}
	if vd := r.RegisterSocket(0x1002); vd != 4 {
		t.Fatalf("second socket: got vd %d, want 4", vd)
	}

	if !r.ReleaseDescriptor(3) {
		t.Fatal("ReleaseDescriptor(3) failed")
	}

	if vd := r.RegisterSocket(0x1003); vd != 3 {
		t.Fatalf("third socket: got vd %d, want reused 3", vd)
	}
}

func TestRegistry_DuplicateSocket(t *testing.T) {
	r := New()

	if vd := r.RegisterSocket(0x1001); vd != 3 {
		t.Fatalf("got vd %d, want 3", vd)
	}
	if vd := r.RegisterSocket(0x1001); vd != InvalidVD {
		t.Fatalf("duplicate registration: got vd %d, want InvalidVD", vd)
	}

	// The failed call must not consume a descriptor.
	if vd := r.RegisterSocket(0x1002); vd != 4 {
		t.Fatalf("got vd %d, want 4", vd)
	}
}

func TestRegistry_InvalidSocketRejected(t *testing.T) {
	r := New()

	if vd := r.RegisterSocket(InvalidSocket); vd != InvalidVD {
		t.Fatalf("got vd %d, want InvalidVD", vd)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_FileDescriptorIdempotent(t *testing.T) {
	r := New()

	r.RegisterSocket(0xa)
	r.RegisterSocket(0xb)

	first := r.RegisterFileDescriptor(7)
	if first != 5 {
		t.Fatalf("got vd %d, want 5", first)
	}
	second := r.RegisterFileDescriptor(7)
	if second != first {
		t.Fatalf("second registration: got vd %d, want %d", second, first)
	}
	if len(r.files) != 1 {
		t.Fatalf("fd table has %d entries, want 1", len(r.files))
	}
	if got := r.LookupFileDescriptor(first); got != 7 {
		t.Fatalf("LookupFileDescriptor = %d, want 7", got)
	}
}

func TestRegistry_NegativeFileDescriptor(t *testing.T) {
	r := New()

	if vd := r.RegisterFileDescriptor(-1); vd != InvalidVD {
		t.Fatalf("got vd %d, want InvalidVD", vd)
	}
	if r.Next() != FirstVD {
		t.Fatalf("Next() = %d, counter should not move", r.Next())
	}
}

func TestRegistry_UnregisterFileDescriptorRecycles(t *testing.T) {
	r := New()

	vd := r.RegisterFileDescriptor(10)
	r.RegisterFileDescriptor(11)

	if !r.UnregisterFileDescriptor(10) {
		t.Fatal("UnregisterFileDescriptor(10) failed")
	}
	if r.UnregisterFileDescriptor(10) {
		t.Fatal("second UnregisterFileDescriptor(10) should be a no-op")
	}
	if got := r.LookupFileDescriptor(vd); got != InvalidFD {
		t.Fatalf("LookupFileDescriptor after unregister = %d, want InvalidFD", got)
	}

	if got := r.RegisterFileDescriptor(12); got != vd {
		t.Fatalf("got vd %d, want recycled %d", got, vd)
	}
}

func TestRegistry_SocketTwoStepLifecycle(t *testing.T) {
	r := New()

	vd := r.RegisterSocket(0x42)

	if !r.UnregisterSocket(0x42) {
		t.Fatal("UnregisterSocket failed")
	}
	if r.UnregisterSocket(0x42) {
		t.Fatal("second UnregisterSocket should report false")
	}

	// Unregistering the handle alone keeps the descriptor live.
	if got := r.LookupSocket(vd); got != 0x42 {
		t.Fatalf("LookupSocket = %#x, want 0x42", got)
	}
	if info := r.LookupSocketInfo(vd); info == nil {
		t.Fatal("LookupSocketInfo should still find metadata")
	}
	if r.Free() != 0 {
		t.Fatalf("Free() = %d, vd must not be recycled yet", r.Free())
	}

	// The handle can be registered again and gets a new descriptor.
	if again := r.RegisterSocket(0x42); again == vd || again == InvalidVD {
		t.Fatalf("re-registration got vd %d", again)
	}

	if !r.ReleaseDescriptor(vd) {
		t.Fatal("ReleaseDescriptor failed")
	}
	if r.ReleaseDescriptor(vd) {
		t.Fatal("second ReleaseDescriptor should be a no-op")
	}
	if err := r.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestRegistry_ReleaseWithoutUnregister(t *testing.T) {
	r := New()

	vd := r.RegisterSocket(0x42)
	if !r.ReleaseDescriptor(vd) {
		t.Fatal("ReleaseDescriptor failed")
	}

	// The stale handle entry is dropped so it cannot alias the reissued vd.
	other := r.RegisterSocket(0x43)
	if other != vd {
		t.Fatalf("got vd %d, want recycled %d", other, vd)
	}
	if got := r.RegisterSocket(0x42); got == InvalidVD {
		t.Fatal("released handle should be registrable again")
	}
	if err := r.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestRegistry_ReleaseIgnoresFileDescriptors(t *testing.T) {
	r := New()

	vd := r.RegisterFileDescriptor(3)
	if r.ReleaseDescriptor(vd) {
		t.Fatal("ReleaseDescriptor must not release an fd association")
	}
	if got := r.LookupFileDescriptor(vd); got != 3 {
		t.Fatalf("LookupFileDescriptor = %d, want 3", got)
	}
}

func TestRegistry_LookupsOnFreeDescriptors(t *testing.T) {
	r := New()

	if got := r.LookupSocket(42); got != InvalidSocket {
		t.Fatalf("LookupSocket(42) = %#x, want InvalidSocket", got)
	}
	if got := r.LookupSocketInfo(42); got != nil {
		t.Fatalf("LookupSocketInfo(42) = %v, want nil", got)
	}
	if got := r.LookupFileDescriptor(42); got != InvalidFD {
		t.Fatalf("LookupFileDescriptor(42) = %d, want InvalidFD", got)
	}

	vd := r.RegisterSocket(0x99)
	r.ReleaseDescriptor(vd)

	if got := r.LookupSocket(vd); got != InvalidSocket {
		t.Fatalf("LookupSocket after release = %#x, want InvalidSocket", got)
	}
	if got := r.LookupSocketInfo(vd); got != nil {
		t.Fatalf("LookupSocketInfo after release = %v, want nil", got)
	}
	if got := r.LookupFileDescriptor(vd); got != InvalidFD {
		t.Fatalf("LookupFileDescriptor after release = %d, want InvalidFD", got)
	}
	if got := r.Kind(vd); got != KindNone {
		t.Fatalf("Kind after release = %v, want none", got)
	}
}

func TestRegistry_CrossKindLookups(t *testing.T) {
	r := New()

	s := r.RegisterSocket(0x10)
	f := r.RegisterFileDescriptor(0x10)

	if got := r.LookupFileDescriptor(s); got != InvalidFD {
		t.Fatalf("socket vd has fd %d", got)
	}
	if got := r.LookupSocket(f); got != InvalidSocket {
		t.Fatalf("fd vd has socket %#x", got)
	}
	if r.Kind(s) != KindSocket || r.Kind(f) != KindFile {
		t.Fatalf("Kind: socket=%v file=%v", r.Kind(s), r.Kind(f))
	}
}

func TestRegistry_SocketInfoInitialState(t *testing.T) {
	r := New()

	vd := r.RegisterSocket(0x77)
	info := r.LookupSocketInfo(vd)
	if info == nil {
		t.Fatal("expected metadata")
	}
	if info.Socket != 0x77 || info.State != nil || info.Flags != 0 {
		t.Fatalf("unexpected initial metadata %+v", *info)
	}

	// The returned record is the live one.
	info.Flags = 0x4
	info.State = "conn"
	if got := r.LookupSocketInfo(vd); got.Flags != 0x4 || got.State != "conn" {
		t.Fatalf("metadata not shared: %+v", *got)
	}

	ok := r.UpdateSocketInfo(vd, func(si *SocketInfo) { si.Flags |= 0x1 })
	if !ok {
		t.Fatal("UpdateSocketInfo failed")
	}
	if got := r.LookupSocketInfo(vd).Flags; got != 0x5 {
		t.Fatalf("Flags = %#x, want 0x5", got)
	}
	if r.UpdateSocketInfo(99, func(*SocketInfo) { t.Fatal("fn called for free vd") }) {
		t.Fatal("UpdateSocketInfo on free vd should fail")
	}
}

func TestRegistry_NeverIssuesReserved(t *testing.T) {
	r := New()

	for i := 0; i < 200; i++ {
		var vd VD
		if i%2 == 0 {
			vd = r.RegisterSocket(Socket(1000 + i))
		} else {
			vd = r.RegisterFileDescriptor(i)
		}
		if vd.Reserved() || vd < FirstVD {
			t.Fatalf("issued reserved descriptor %d", vd)
		}
		if i%3 == 0 {
			if i%2 == 0 {
				r.UnregisterSocket(Socket(1000 + i))
				r.ReleaseDescriptor(vd)
			} else {
				r.UnregisterFileDescriptor(i)
			}
		}
	}
	if err := r.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestRegistry_RecycleIsFIFO(t *testing.T) {
	r := New()

	a := r.RegisterSocket(1)
	b := r.RegisterSocket(2)
	c := r.RegisterFileDescriptor(9)

	r.ReleaseDescriptor(b)
	r.UnregisterFileDescriptor(9)
	r.ReleaseDescriptor(a)

	want := []VD{b, c, a, 6}
	for i, w := range want {
		if got := r.RegisterSocket(Socket(100 + i)); got != w {
			t.Fatalf("allocation %d: got vd %d, want %d", i, got, w)
		}
	}
}

func TestRegistry_SnapshotAndEach(t *testing.T) {
	r := New()

	r.RegisterSocket(0xa)
	r.RegisterFileDescriptor(5)
	s := r.RegisterSocket(0xb)
	r.UnregisterSocket(0xb)
	r.UpdateSocketInfo(s, func(si *SocketInfo) { si.Flags = 2 })

	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("Snapshot len = %d, want 3", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i-1].VD >= snap[i].VD {
			t.Fatalf("snapshot not ordered: %v", snap)
		}
	}
	if snap[1].Kind != KindFile || snap[1].FD != 5 || snap[1].Socket != InvalidSocket {
		t.Fatalf("unexpected fd entry %+v", snap[1])
	}
	if snap[2].Bound || snap[2].Flags != 2 || snap[2].Socket != 0xb {
		t.Fatalf("unexpected unbound socket entry %+v", snap[2])
	}

	count := 0
	r.Each(func(Entry) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Fatalf("Each visited %d entries, want 2 (early stop)", count)
	}
}

func TestRegistry_Counters(t *testing.T) {
	r := New(WithCapacity(4))

	if r.Len() != 0 || r.Next() != FirstVD || r.Free() != 0 {
		t.Fatalf("fresh registry: len=%d next=%d free=%d", r.Len(), r.Next(), r.Free())
	}

	r.RegisterSocket(1)
	vd := r.RegisterSocket(2)
	r.ReleaseDescriptor(vd)

	if r.Len() != 1 || r.Next() != 5 || r.Free() != 1 {
		t.Fatalf("len=%d next=%d free=%d", r.Len(), r.Next(), r.Free())
	}
}

func TestRegistry_Observers(t *testing.T) {
	r := New()

	var events []Event
	unsubscribe := r.Subscribe(ObserverFunc(func(e Event) {
		events = append(events, e)
	}))

	vd := r.RegisterSocket(0x5)
	r.RegisterSocket(0x5) // duplicate, no event
	r.UnregisterSocket(0x5)
	r.ReleaseDescriptor(vd)
	fd := r.RegisterFileDescriptor(8)
	r.RegisterFileDescriptor(8) // idempotent, no event
	r.UnregisterFileDescriptor(8)

	want := []struct {
		typ  EventType
		kind Kind
		vd   VD
	}{
		{EventRegistered, KindSocket, vd},
		{EventUnregistered, KindSocket, vd},
		{EventReleased, KindSocket, vd},
		{EventRegistered, KindFile, fd},
		{EventReleased, KindFile, fd},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, w := range want {
		e := events[i]
		if e.Type != w.typ || e.Kind != w.kind || e.VD != w.vd {
			t.Errorf("event %d = %+v, want %v/%v/%d", i, e, w.typ, w.kind, w.vd)
		}
	}

	unsubscribe()
	r.RegisterSocket(0x6)
	if len(events) != len(want) {
		t.Fatal("observer called after unsubscribe")
	}
}

func TestRegistry_ObserverMayCallBack(t *testing.T) {
	r := New()

	var looked Socket
	r.Subscribe(ObserverFunc(func(e Event) {
		if e.Type == EventRegistered && e.Kind == KindSocket {
			looked = r.LookupSocket(e.VD)
		}
	}))

	r.RegisterSocket(0x31)
	if looked != 0x31 {
		t.Fatalf("observer saw socket %#x, want 0x31", looked)
	}
}

func TestRegistry_ObserverUnsubscribesItself(t *testing.T) {
	r := New()

	var calls, lateCalls int
	var unsubscribe func()
	unsubscribe = r.Subscribe(ObserverFunc(func(Event) {
		calls++
		unsubscribe()
		r.Subscribe(ObserverFunc(func(Event) { lateCalls++ }))
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.RegisterSocket(0x1)
		r.RegisterSocket(0x2)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RegisterSocket blocked on an observer that unsubscribed itself")
	}

	if calls != 1 {
		t.Fatalf("self-removing observer called %d times, want 1", calls)
	}
	// Added during the first event, so it sees only the second.
	if lateCalls != 1 {
		t.Fatalf("observer added from a callback called %d times, want 1", lateCalls)
	}
}

func TestRegistry_EventSeq(t *testing.T) {
	r := New()

	var seqs []uint64
	r.Subscribe(ObserverFunc(func(e Event) { seqs = append(seqs, e.Seq) }))

	vd := r.RegisterSocket(0x9)
	r.RegisterSocket(0x9) // rejected, consumes no number
	r.UnregisterSocket(0x9)
	r.ReleaseDescriptor(vd)
	r.RegisterFileDescriptor(4)
	r.UnregisterFileDescriptor(4)

	want := []uint64{1, 2, 3, 4, 5}
	if len(seqs) != len(want) {
		t.Fatalf("got seqs %v, want %v", seqs, want)
	}
	for i := range want {
		if seqs[i] != want[i] {
			t.Fatalf("got seqs %v, want %v", seqs, want)
		}
	}
}

func TestRegistry_LogsSentinelPaths(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := New(WithLogger(zap.New(core)))

	r.RegisterSocket(0x1)
	r.RegisterSocket(0x1)
	r.ReleaseDescriptor(42)

	if n := logs.FilterMessage("socket already registered").Len(); n != 1 {
		t.Fatalf("duplicate registration logged %d times, want 1", n)
	}
	if n := logs.FilterMessage("release of non-socket descriptor ignored").Len(); n != 1 {
		t.Fatalf("no-op release logged %d times, want 1", n)
	}
}

func TestRegistry_NilLoggerOption(t *testing.T) {
	r := New(WithLogger(nil), WithCapacity(-1))
	if vd := r.RegisterSocket(1); vd != FirstVD {
		t.Fatalf("got vd %d, want %d", vd, FirstVD)
	}
}

func TestOptions_Validate(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Fatalf("default options: %v", err)
	}

	err := Options{Capacity: -3}.Validate()
	if !errors.Is(err, &vfderrors.Error{Phase: vfderrors.PhaseConfig, Kind: vfderrors.KindInvalidInput}) {
		t.Fatalf("negative capacity error = %v, want config/invalid_input", err)
	}
}

func TestRegistry_NegativeCapacityLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	r := New(WithLogger(zap.New(core)), WithCapacity(-3))

	if logs.FilterMessage("invalid registry options, using zero capacity").Len() != 1 {
		t.Fatalf("negative capacity not reported: %v", logs.All())
	}
	if vd := r.RegisterFileDescriptor(0); vd != FirstVD {
		t.Fatalf("got vd %d, want %d", vd, FirstVD)
	}
}

func TestVD_Reserved(t *testing.T) {
	for vd := VD(-1); vd <= 4; vd++ {
		want := vd >= 0 && vd <= 2
		if vd.Reserved() != want {
			t.Errorf("VD(%d).Reserved() = %v, want %v", vd, vd.Reserved(), want)
		}
	}
}
