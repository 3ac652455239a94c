package metrics

import (
	"strconv"
	"sync"
	"time"
)

// InMemoryRecorder stores counters in memory for tests.
type InMemoryRecorder struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{counters: make(map[string]int)}
}

// Count returns the value of a counter. Keys look like "login/success" or
// "password_reset/verify/failed".
func (m *InMemoryRecorder) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[key]
}

func (m *InMemoryRecorder) inc(key string) {
	m.mu.Lock()
	m.counters[key]++
	m.mu.Unlock()
}

// IncRegistration increments the registration counter.
func (m *InMemoryRecorder) IncRegistration(status string) { m.inc("registration/" + status) }

// IncLogin increments the login counter.
func (m *InMemoryRecorder) IncLogin(status string) { m.inc("login/" + status) }

// IncLogout increments the logout counter.
func (m *InMemoryRecorder) IncLogout() { m.inc("logout") }

// IncPasswordReset increments the password reset counter.
func (m *InMemoryRecorder) IncPasswordReset(stage, status string) {
	m.inc("password_reset/" + stage + "/" + status)
}

// IncPublicKeyFetch increments the public key fetch counter.
func (m *InMemoryRecorder) IncPublicKeyFetch(status string) { m.inc("public_key/" + status) }

// IncRateLimited increments the rate limit counter.
func (m *InMemoryRecorder) IncRateLimited(scope string) { m.inc("rate_limited/" + scope) }

// IncAccountEvent increments the account event counter.
func (m *InMemoryRecorder) IncAccountEvent(status string) { m.inc("account_event/" + status) }

// ObserveRequest counts requests by method, route and status.
func (m *InMemoryRecorder) ObserveRequest(method, route string, status int, duration time.Duration) {
	m.inc("http/" + method + " " + route + "/" + strconv.Itoa(status))
}
