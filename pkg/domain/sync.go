package domain

import "time"

// OfflineSession is a session recorded on a disconnected replica, waiting in the
// local queue. Score and priority are the replica's view and are never trusted.
type OfflineSession struct {
	LocalID    string `json:"localId"`
	OperatorID string `json:"operatorId,omitempty"`
	ProtocolID string `json:"protocolId,omitempty"`
	VersionID  string `json:"versionId"`

	Responses     []Response `json:"responses"`
	TotalScore    int        `json:"totalScore"`
	FinalPriority Priority   `json:"finalPriority"`
	Abandoned     bool       `json:"abandoned,omitempty"`

	OfflineCreatedAt time.Time `json:"offlineCreatedAt"`
	OfflineSavedAt   time.Time `json:"offlineSavedAt"`

	// Sealed holds the encrypted item when the queue is encrypted at rest.
	// Only LocalID and the timestamps stay readable next to it.
	Sealed []byte `json:"sealed,omitempty"`
}

// IDMapping pairs a client local ID with the authoritative session ID.
type IDMapping struct {
	LocalID   string `json:"localId"`
	SessionID string `json:"sessionId"`
	// Duplicate is set when the local ID had already been reconciled earlier.
	Duplicate bool `json:"duplicate,omitempty"`
}

// ItemError reports why one batch item was rejected.
type ItemError struct {
	LocalID string    `json:"localId"`
	Kind    ErrorKind `json:"kind"`
	Reason  string    `json:"error"`
	// Retryable items stay queued on the replica.
	Retryable bool `json:"retryable,omitempty"`
}

// ReconcileReport is the per-batch result. Items either appear in IDMapping or in
// Errors, never both and never neither.
type ReconcileReport struct {
	PersistedCount int         `json:"persistedCount"`
	IDMapping      []IDMapping `json:"idMapping"`
	Errors         []ItemError `json:"errors"`
}

// Failed reports whether any item was rejected.
func (r ReconcileReport) Failed() bool {
	return len(r.Errors) > 0
}
