package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncRegistration is a no-op.
func (n *NoopRecorder) IncRegistration(status string) {}

// IncLogin is a no-op.
func (n *NoopRecorder) IncLogin(status string) {}

// IncLogout is a no-op.
func (n *NoopRecorder) IncLogout() {}

// IncPasswordReset is a no-op.
func (n *NoopRecorder) IncPasswordReset(stage, status string) {}

// IncPublicKeyFetch is a no-op.
func (n *NoopRecorder) IncPublicKeyFetch(status string) {}

// IncRateLimited is a no-op.
func (n *NoopRecorder) IncRateLimited(scope string) {}

// IncAccountEvent is a no-op.
func (n *NoopRecorder) IncAccountEvent(status string) {}

// ObserveRequest is a no-op.
func (n *NoopRecorder) ObserveRequest(method, route string, status int, duration time.Duration) {}
