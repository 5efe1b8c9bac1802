package descriptor

// recyclePool is the FIFO queue of released descriptors.
// Not safe for concurrent use; the registry lock guards it.
type recyclePool struct {
	buf  []VD
	head int
}

func (p *recyclePool) push(vd VD) {
	p.buf = append(p.buf, vd)
}

func (p *recyclePool) pop() (VD, bool) {
	if p.head == len(p.buf) {
		return InvalidVD, false
	}
	vd := p.buf[p.head]
	p.head++

	switch {
	case p.head == len(p.buf):
		p.buf = p.buf[:0]
		p.head = 0
	case p.head >= 32 && p.head*2 >= len(p.buf):
		n := copy(p.buf, p.buf[p.head:])
		p.buf = p.buf[:n]
		p.head = 0
	}
	return vd, true
}

func (p *recyclePool) len() int {
	return len(p.buf) - p.head
}

// items returns the queued descriptors front to back.
func (p *recyclePool) items() []VD {
	return p.buf[p.head:]
}
