package pulse

// ring is a fixed-size byte FIFO.
type ring struct {
	buf  []byte
	head int // Read position.
	n    int
}

func newRing(size int) ring {
	return ring{buf: make([]byte, size)}
}

func (r *ring) len() int {
	return r.n
}

func (r *ring) free() int {
	return len(r.buf) - r.n
}

// write appends as much of p as fits and returns the number of bytes taken.
func (r *ring) write(p []byte) int {
	total := 0

	for len(p) > 0 && r.free() > 0 {
		tail := (r.head + r.n) % len(r.buf)
		end := len(r.buf)
		if tail < r.head {
			end = r.head
		}

		c := copy(r.buf[tail:end], p)
		r.n += c
		p = p[c:]
		total += c
	}

	return total
}

// read moves up to len(p) bytes out of the ring.
func (r *ring) read(p []byte) int {
	total := 0

	for len(p) > 0 && r.n > 0 {
		end := min(r.head+r.n, len(r.buf))

		c := copy(p, r.buf[r.head:end])
		r.head = (r.head + c) % len(r.buf)
		r.n -= c
		p = p[c:]
		total += c
	}

	return total
}

func (r *ring) reset() {
	r.head, r.n = 0, 0
}
