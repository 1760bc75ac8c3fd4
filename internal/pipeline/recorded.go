package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/couchcryptid/climate-feature-etl/internal/domain"
)

const recordedLimit = 1024

// recordedSet remembers the most recently recorded observations, oldest
// evicted first.
type recordedSet struct {
	mu    sync.Mutex
	keys  map[string]struct{}
	order []string
	limit int
}

func newRecordedSet(limit int) *recordedSet {
	return &recordedSet{keys: make(map[string]struct{}, limit), limit: limit}
}

// claim reports whether key is new, and remembers it if so.
func (s *recordedSet) claim(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	if len(s.order) == s.limit {
		delete(s.keys, s.order[0])
		s.order = s.order[1:]
	}
	s.keys[key] = struct{}{}
	s.order = append(s.order, key)
	return true
}

// release forgets key so a failed write can be retried.
func (s *recordedSet) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; !ok {
		return
	}
	delete(s.keys, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func observationKey(obs domain.Observation) string {
	return fmt.Sprintf("%s|%g|%g|%g|%d", obs.Time.UTC().Format(time.RFC3339),
		obs.Temperature, obs.Humidity, obs.Rainfall, obs.WeatherCode)
}
