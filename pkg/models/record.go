package models

// Record is a singleton logical document held by the remote store. A record
// is identified by a stable key within a namespace; the remote store assigns
// the opaque Number on creation.
type Record struct {
	Number    int64    `json:"number"`
	Key       string   `json:"key"`
	Namespace string   `json:"namespace"`
	Title     string   `json:"title,omitempty"`
	Body      string   `json:"body"`
	Labels    []string `json:"labels,omitempty"`
	Locked    bool     `json:"locked,omitempty"`
	// Creator is the remote login that created the record. Records found
	// by query are only trusted when Creator matches a configured writer.
	Creator   string `json:"creator,omitempty"`
	State     string `json:"state,omitempty"`
	CreatedTS int64  `json:"created_ts,omitempty"`
	UpdatedTS int64  `json:"updated_ts,omitempty"`
}

// HasLabel reports whether the record carries the given label.
func (r Record) HasLabel(label string) bool {
	for _, l := range r.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// RecordSpec describes a record to be created when none exists yet.
// Factories hand one of these to the record manager.
type RecordSpec struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
	// Lock requests that the record be locked against external mutation
	// right after creation.
	Lock bool `json:"lock,omitempty"`
}
