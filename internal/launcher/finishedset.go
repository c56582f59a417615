package launcher

import "github.com/gwozai/scrapyd/internal/domain"

// finishedSet is a fixed-capacity ring of finished jobs in completion order.
// When full, adding evicts the oldest entry. The durable job store is the
// unbounded record; this set only feeds status reporting.
type finishedSet struct {
	buf  []domain.Job
	head int
	size int
}

func newFinishedSet(capacity int) *finishedSet {
	if capacity < 1 {
		capacity = 1
	}
	return &finishedSet{buf: make([]domain.Job, capacity)}
}

func (s *finishedSet) add(job domain.Job) {
	if s.size < len(s.buf) {
		s.buf[(s.head+s.size)%len(s.buf)] = job
		s.size++
		return
	}
	s.buf[s.head] = job
	s.head = (s.head + 1) % len(s.buf)
}

// list returns the retained jobs, oldest first.
func (s *finishedSet) list() []domain.Job {
	out := make([]domain.Job, 0, s.size)
	for i := 0; i < s.size; i++ {
		out = append(out, s.buf[(s.head+i)%len(s.buf)])
	}
	return out
}

func (s *finishedSet) len() int {
	return s.size
}
