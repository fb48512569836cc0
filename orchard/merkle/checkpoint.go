package merkle

// checkpointRing is a fixed-capacity ring of checkpoints. head is the slot
// of the oldest entry.
type checkpointRing struct {
	buf   []Checkpoint
	head  int
	count int
}

func newCheckpointRing(capacity int) *checkpointRing {
	return &checkpointRing{buf: make([]Checkpoint, capacity)}
}

func (r *checkpointRing) capacity() int { return len(r.buf) }

func (r *checkpointRing) len() int { return r.count }

// push appends cp and returns the checkpoint it evicted, if any.
func (r *checkpointRing) push(cp Checkpoint) (Checkpoint, bool) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = cp
		r.count++
		return Checkpoint{}, false
	}
	evicted := r.buf[r.head]
	r.buf[r.head] = cp
	r.head = (r.head + 1) % len(r.buf)
	return evicted, true
}

// fromNewest returns the k-th most recent checkpoint, 0 being the newest.
func (r *checkpointRing) fromNewest(k int) (Checkpoint, bool) {
	if k < 0 || k >= r.count {
		return Checkpoint{}, false
	}
	return r.buf[(r.head+r.count-1-k)%len(r.buf)], true
}

// all returns the retained checkpoints oldest first.
func (r *checkpointRing) all() []Checkpoint {
	out := make([]Checkpoint, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

func (r *checkpointRing) reset() {
	for i := range r.buf {
		r.buf[i] = Checkpoint{}
	}
	r.head = 0
	r.count = 0
}
