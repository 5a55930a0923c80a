package segment

// frameRing is a fixed-capacity FIFO of classified frames. Pushing onto a
// full ring evicts the oldest entry. It keeps a running count of voiced
// entries so the ratio check is O(1) per frame.
type frameRing struct {
	frames [][]byte
	voiced []bool
	head   int // index of the oldest entry
	size   int
	nVoice int
}

func newFrameRing(capacity int) *frameRing {
	return &frameRing{
		frames: make([][]byte, capacity),
		voiced: make([]bool, capacity),
	}
}

func (r *frameRing) push(frame []byte, voiced bool) {
	c := len(r.frames)
	if c == 0 {
		return
	}
	var idx int
	if r.full() {
		idx = r.head
		if r.voiced[idx] {
			r.nVoice--
		}
		r.head = (r.head + 1) % c
	} else {
		idx = (r.head + r.size) % c
		r.size++
	}
	r.frames[idx] = frame
	r.voiced[idx] = voiced
	if voiced {
		r.nVoice++
	}
}

// each calls fn for every buffered frame, oldest first.
func (r *frameRing) each(fn func(frame []byte)) {
	for i := range r.size {
		fn(r.frames[(r.head+i)%len(r.frames)])
	}
}

func (r *frameRing) reset() {
	clear(r.frames)
	clear(r.voiced)
	r.head, r.size, r.nVoice = 0, 0, 0
}

func (r *frameRing) len() int      { return r.size }
func (r *frameRing) capacity() int { return len(r.frames) }
func (r *frameRing) full() bool    { return r.size == len(r.frames) }
func (r *frameRing) voicedCount() int {
	return r.nVoice
}
