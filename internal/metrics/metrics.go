// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Outcome labels shared by the counters.
const (
	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusError    = "error"
	StatusConflict = "conflict"
	StatusInvalid  = "invalid"
)

// Account event stream outcomes.
const (
	EventPublished    = "published"
	EventDropped      = "dropped"
	EventStored       = "stored"
	EventDeadLettered = "dead_lettered"
)

// Password reset stages.
const (
	StageRequest = "request"
	StageVerify  = "verify"
	StageReset   = "reset"
)

// Recorder captures metric events for the application.
type Recorder interface {
	// Account metrics
	IncRegistration(status string)
	IncLogin(status string)
	IncLogout()
	IncPasswordReset(stage, status string)

	// Key distribution metrics
	IncPublicKeyFetch(status string)

	// Abuse protection
	IncRateLimited(scope string)

	// Account event stream
	IncAccountEvent(status string)

	// HTTP metrics
	ObserveRequest(method, route string, status int, duration time.Duration)
}
