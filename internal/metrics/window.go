package metrics

// boolWindow is a fixed-capacity ring of per-frame flags with a running
// count of true entries.
type boolWindow struct {
	buf   []bool
	next  int
	size  int
	count int
}

func newBoolWindow(capacity int) *boolWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &boolWindow{buf: make([]bool, capacity)}
}

func (w *boolWindow) push(v bool) {
	if w.size == len(w.buf) {
		if w.buf[w.next] {
			w.count--
		}
	} else {
		w.size++
	}
	w.buf[w.next] = v
	if v {
		w.count++
	}
	w.next = (w.next + 1) % len(w.buf)
}

// ratio is the fraction of true entries, 0 when empty.
func (w *boolWindow) ratio() float64 {
	if w.size == 0 {
		return 0
	}
	return float64(w.count) / float64(w.size)
}

func (w *boolWindow) len() int { return w.size }

func (w *boolWindow) reset() {
	for i := range w.buf {
		w.buf[i] = false
	}
	w.next, w.size, w.count = 0, 0, 0
}
