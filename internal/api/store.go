package api

import (
	"slices"
	"sync"

	"github.com/samcharles93/quantcfg/internal/pipeline"
)

const defaultStoreCapacity = 64

// ReportStore keeps the most recent reports by run id. The oldest report is
// evicted once capacity is reached.
type ReportStore struct {
	mu       sync.Mutex
	capacity int
	reports  map[string]*pipeline.Report
	order    []string
}

func NewReportStore(capacity int) *ReportStore {
	if capacity <= 0 {
		capacity = defaultStoreCapacity
	}
	return &ReportStore{
		capacity: capacity,
		reports:  make(map[string]*pipeline.Report),
	}
}

func (s *ReportStore) Put(r *pipeline.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[r.RunID]; !ok {
		s.order = append(s.order, r.RunID)
	}
	s.reports[r.RunID] = r
	for len(s.order) > s.capacity {
		delete(s.reports, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *ReportStore) Get(id string) (*pipeline.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	return r, ok
}

func (s *ReportStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[id]; !ok {
		return false
	}
	delete(s.reports, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	return true
}

func (s *ReportStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports)
}
