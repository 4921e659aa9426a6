// Package manifest keeps a JSON history of collection operations.
package manifest

import "time"

// Entry records one collection of a sweep.
type Entry struct {
	ID             string        `json:"id"`
	Timestamp      time.Time     `json:"timestamp"`
	Sweep          string        `json:"sweep"`
	Method         string        `json:"method,omitempty"`
	Runs           int           `json:"runs"`
	ConfigColumns  int           `json:"config_columns"`
	ResultsColumns int           `json:"results_columns"`
	Duration       time.Duration `json:"duration"`
	Outputs        []Output      `json:"outputs"`
}

// Output is one destination written during a collection.
type Output struct {
	Target string `json:"target"`
	Error  string `json:"error,omitempty"` // Empty when the write succeeded
}

// Failed reports whether any output failed.
func (e *Entry) Failed() bool {
	for _, o := range e.Outputs {
		if o.Error != "" {
			return true
		}
	}
	return false
}

// ShortID returns the first eight characters of the ID.
func (e *Entry) ShortID() string {
	if len(e.ID) <= 8 {
		return e.ID
	}
	return e.ID[:8]
}
