package network

// Framer recovers discrete JSON message texts from a raw byte stream. TCP
// gives no message boundaries: one read may carry a fragment of a message,
// exactly one message, or several concatenated with no separator. The framer
// tracks bracket nesting across reads, skipping bracket characters inside
// quoted strings and honoring escape sequences, and emits each span whose
// nesting depth returns to zero.
//
// Scan state persists between Push calls so every byte is examined once.
type Framer struct {
	buf      []byte
	maxSize  int
	start    int // index of the current message start, -1 when between messages
	pos      int // resume offset for the next scan
	depth    int
	inString bool
	escaped  bool
}

// NewFramer returns a framer that aborts once maxSize bytes accumulate
// without completing a value.
func NewFramer(maxSize int) *Framer {
	return &Framer{maxSize: maxSize, start: -1}
}

// Push appends stream bytes and returns every complete message text they
// finish, in arrival order. A partial trailing message is retained for the
// next call. ErrFrameTooLarge means the connection must be closed.
func (f *Framer) Push(data []byte) ([]string, error) {
	f.buf = append(f.buf, data...)

	var frames []string
	for ; f.pos < len(f.buf); f.pos++ {
		c := f.buf[f.pos]

		if f.start == -1 {
			// Between messages: wait for an opener, discard noise.
			if c == '{' || c == '[' {
				f.start = f.pos
				f.depth = 1
			}
			continue
		}

		if f.inString {
			switch {
			case f.escaped:
				f.escaped = false
			case c == '\\':
				f.escaped = true
			case c == '"':
				f.inString = false
			}
			continue
		}

		switch c {
		case '"':
			f.inString = true
		case '{', '[':
			f.depth++
		case '}', ']':
			f.depth--
			if f.depth == 0 {
				frames = append(frames, string(f.buf[f.start:f.pos+1]))
				f.start = -1
			}
		}
	}

	f.compact()

	if len(f.buf) > f.maxSize {
		return frames, ErrFrameTooLarge
	}
	return frames, nil
}

// compact drops consumed and skipped bytes, keeping only the partial message
// still in flight.
func (f *Framer) compact() {
	if f.start == -1 {
		f.buf = f.buf[:0]
		f.pos = 0
		return
	}
	if f.start > 0 {
		f.buf = append(f.buf[:0], f.buf[f.start:]...)
		f.pos -= f.start
		f.start = 0
	}
}

// Pending reports how many buffered bytes belong to an incomplete message.
// On connection close a non-zero pending span is discarded, never emitted.
func (f *Framer) Pending() int {
	if f.start == -1 {
		return 0
	}
	return len(f.buf) - f.start
}
