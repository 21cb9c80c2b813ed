// Package ingest validates, deduplicates, and persists forensic events,
// raising notifications for high-severity alerts and handing cell
// sightings to the verification pipeline.
package ingest

import "fmt"

// ErrorKind classifies why an event was rejected.
type ErrorKind string

const (
	// KindInvalid marks a malformed event; Field names the violation.
	KindInvalid ErrorKind = "invalid"

	// KindDuplicate marks an event suppressed by the dedup window.
	KindDuplicate ErrorKind = "duplicate"

	// KindQueueFull marks a persist queue overflow after the blocking
	// retry timed out.
	KindQueueFull ErrorKind = "queue_full"
)

// IngestError is the typed rejection returned by Ingest.
type IngestError struct {
	Kind  ErrorKind
	Field string
}

func (e *IngestError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("ingest: %s event (field %s)", e.Kind, e.Field)
	}
	return fmt.Sprintf("ingest: %s event", e.Kind)
}

// IsKind reports whether err is an IngestError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	ie, ok := err.(*IngestError)
	return ok && ie.Kind == kind
}
