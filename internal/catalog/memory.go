package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/hackgods/sms-booking-engine/internal/schedule"
)

// MemoryRepository keeps the catalog in process. It backs STORE_DRIVER=memory
// and the tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	services map[int64]Service
	staff    map[int64]Staff
	skills   map[int64][]int64 // service id -> staff ids
	rules    []schedule.Rule
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		services: make(map[int64]Service),
		staff:    make(map[int64]Staff),
		skills:   make(map[int64][]int64),
	}
}

func (r *MemoryRepository) AddService(s Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[s.ID] = s
}

// AddStaff registers a staff member qualified for the given services.
func (r *MemoryRepository) AddStaff(s Staff, serviceIDs ...int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staff[s.ID] = s
	for _, id := range serviceIDs {
		r.skills[id] = append(r.skills[id], s.ID)
	}
}

func (r *MemoryRepository) AddRules(rules ...schedule.Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rule := range rules {
		if rule.ID == 0 {
			rule.ID = int64(len(r.rules) + 1)
		}
		r.rules = append(r.rules, rule)
	}
}

func (r *MemoryRepository) ListActiveServices(_ context.Context) ([]Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Service, 0, len(r.services))
	for _, s := range r.services {
		if s.Active {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) GetService(_ context.Context, id int64) (*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) StaffForService(_ context.Context, serviceID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []int64
	for _, id := range r.skills[serviceID] {
		if st, ok := r.staff[id]; ok && st.Active {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *MemoryRepository) RulesForStaff(_ context.Context, staffID int64, date schedule.Date) ([]schedule.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []schedule.Rule
	for _, rule := range r.rules {
		if rule.StaffID == staffID && rule.Weekday == date.Weekday() {
			out = append(out, rule)
		}
	}
	return out, nil
}
