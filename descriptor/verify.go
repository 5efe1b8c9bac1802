package descriptor

import (
	"fmt"
	"strconv"

	"github.com/wippyai/vfd/errors"
)

// Verify checks the table invariants and returns the first violation found as
// an *errors.Error with PhaseVerify and KindInconsistent (KindReserved for a
// reserved descriptor), or nil.
//
// Checked relations:
//   - every socket and fd entry points at a live vd carrying the same native key
//   - every fd association has its forward entry
//   - no live or reserved vd waits in the recycle pool, and the pool holds no repeats
//   - every live or pooled vd lies in [FirstVD, Next)
func (r *Registry) Verify() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for s, vd := range r.sockets {
		a, ok := r.entries[vd]
		if !ok || a.kind != KindSocket {
			return errors.Inconsistent(socketPath(s), vd, "socket bound to a descriptor without socket metadata")
		}
		if a.info.Socket != s {
			return errors.New(errors.PhaseVerify, errors.KindInconsistent).
				Path(socketPath(s)...).
				Value(vd).
				Detail("descriptor %d carries socket %#x", vd, uint64(a.info.Socket)).
				Build()
		}
	}

	for fd, vd := range r.files {
		a, ok := r.entries[vd]
		if !ok || a.kind != KindFile || a.fd != fd {
			return errors.Inconsistent(fdPath(fd), vd, "fd bound to a descriptor without a matching fd association")
		}
	}

	for vd, a := range r.entries {
		if err := r.checkRangeLocked(vd); err != nil {
			return err
		}
		if a.kind == KindFile {
			if bound, ok := r.files[a.fd]; !ok || bound != vd {
				return errors.Inconsistent(vdPath(vd), a.fd, "fd association without forward entry")
			}
		}
		if a.kind == KindSocket && a.info == nil {
			return errors.Inconsistent(vdPath(vd), nil, "socket association without metadata")
		}
	}

	seen := make(map[VD]struct{}, r.pool.len())
	for _, vd := range r.pool.items() {
		if _, dup := seen[vd]; dup {
			return errors.Inconsistent([]string{"pool"}, vd, fmt.Sprintf("descriptor %d queued twice", vd))
		}
		seen[vd] = struct{}{}
		if _, live := r.entries[vd]; live {
			return errors.Inconsistent([]string{"pool"}, vd, fmt.Sprintf("live descriptor %d in recycle pool", vd))
		}
		if err := r.checkRangeLocked(vd); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) checkRangeLocked(vd VD) error {
	if vd.Reserved() {
		return errors.Reserved(errors.PhaseVerify, vd)
	}
	if vd < FirstVD || vd >= r.next {
		return errors.Inconsistent(vdPath(vd), vd, fmt.Sprintf("descriptor outside issued range [%d, %d)", FirstVD, r.next))
	}
	return nil
}

func socketPath(s Socket) []string {
	return []string{"socket", "0x" + strconv.FormatUint(uint64(s), 16)}
}

func fdPath(fd int) []string {
	return []string{"fd", strconv.Itoa(fd)}
}

func vdPath(vd VD) []string {
	return []string{"vd", strconv.Itoa(int(vd))}
}
