package solvency

import "InfraSentinel/internal/model"

// DefaultHistoryCapacity is the number of reports retained per project.
const DefaultHistoryCapacity = 100

// history is a fixed-capacity ring buffer. When full, the oldest report is
// overwritten, so iteration order is always insertion order.
type history struct {
	buf   []model.SolvencyReport
	start int // index of the oldest entry
	n     int
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &history{buf: make([]model.SolvencyReport, capacity)}
}

func (h *history) push(r model.SolvencyReport) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = r
		h.n++
		return
	}
	h.buf[h.start] = r
	h.start = (h.start + 1) % len(h.buf)
}

func (h *history) len() int { return h.n }

// at returns the i-th oldest entry; callers check bounds.
func (h *history) at(i int) model.SolvencyReport {
	return h.buf[(h.start+i)%len(h.buf)]
}

func (h *history) slice() []model.SolvencyReport {
	out := make([]model.SolvencyReport, h.n)
	for i := range out {
		out[i] = h.at(i)
	}
	return out
}
