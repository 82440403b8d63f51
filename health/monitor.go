package health

import (
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
)

// Monitor holds the latest status of every link. It is safe for concurrent
// use; link state callbacks write to it while /health reads it.
type Monitor struct {
	mu    sync.RWMutex
	links map[string]Status
}

func NewMonitor() *Monitor {
	return &Monitor{links: make(map[string]Status)}
}

// Update records status under name, stamping it if the caller did not.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.links[name] = status
	m.mu.Unlock()
}

func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.links[name]
	return status, ok
}

// AggregateHealth rolls every link up under systemName, links ordered by name.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	links := slices.Collect(maps.Values(m.links))
	m.mu.RUnlock()

	slices.SortFunc(links, func(a, b Status) int {
		return strings.Compare(a.Component, b.Component)
	})
	return Aggregate(systemName, links)
}

// Handler serves AggregateHealth as JSON, answering 503 while any link is
// unhealthy.
func (m *Monitor) Handler(systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.AggregateHealth(systemName)

		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
