package session

// pressureWindow records whether the buffer was at bound on each of the last
// n submits.
type pressureWindow struct {
	samples []bool
	next    int
	filled  int
	hits    int
}

func newPressureWindow(n int) *pressureWindow {
	if n < 1 {
		n = 1
	}
	return &pressureWindow{samples: make([]bool, n)}
}

func (w *pressureWindow) record(atBound bool) {
	if w.filled == len(w.samples) {
		if w.samples[w.next] {
			w.hits--
		}
	} else {
		w.filled++
	}
	w.samples[w.next] = atBound
	if atBound {
		w.hits++
	}
	w.next = (w.next + 1) % len(w.samples)
}

// fraction returns the share of recorded samples taken at bound.
func (w *pressureWindow) fraction() float64 {
	if w.filled == 0 {
		return 0
	}
	return float64(w.hits) / float64(w.filled)
}

func (w *pressureWindow) reset() {
	clear(w.samples)
	w.next, w.filled, w.hits = 0, 0, 0
}
