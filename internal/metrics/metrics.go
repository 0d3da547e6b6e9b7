// Package metrics records receiver activity.
package metrics

import "time"

// Verification outcomes.
const (
	OutcomeValid    = "valid"
	OutcomeInvalid  = "invalid"
	OutcomeUnsigned = "unsigned"
)

// Processing stages that can fail.
const (
	StageDedup = "dedup"
	StageStore = "store"
)

// Sink receives receiver metrics. Implementations must not block.
type Sink interface {
	// SignatureChecked records one verification attempt on a route.
	SignatureChecked(route, outcome string)

	// EventReceived records an accepted event by payload kind.
	EventReceived(kind string)

	// DuplicateSuppressed records a redelivery that was not processed again.
	DuplicateSuppressed(kind string)

	// ProcessingFailed records an error at stage.
	ProcessingFailed(stage string)

	// LargeAttachment records an event carrying an oversized attachment.
	LargeAttachment()

	// ProcessingDuration records the time spent handling one event.
	ProcessingDuration(d time.Duration)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) SignatureChecked(string, string)  {}
func (NopSink) EventReceived(string)             {}
func (NopSink) DuplicateSuppressed(string)       {}
func (NopSink) ProcessingFailed(string)          {}
func (NopSink) LargeAttachment()                 {}
func (NopSink) ProcessingDuration(time.Duration) {}
