package domain

import "fmt"

// FetchError reports a network, HTTP or parse failure at one source's
// boundary. It ends that source's run only.
type FetchError struct {
	SourceID string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch source %s: %v", e.SourceID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// EnrichmentError reports that the generation service stayed unreachable
// after exhausting retries. Isolated to one item.
type EnrichmentError struct {
	Attempts int
	Err      error
}

func (e *EnrichmentError) Error() string {
	return fmt.Sprintf("enrichment failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *EnrichmentError) Unwrap() error { return e.Err }

// PersistenceError reports a store failure. Fatal to the current run; the
// run is retried whole on the next schedule tick.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ValidationError rejects a malformed on-demand request. Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }
