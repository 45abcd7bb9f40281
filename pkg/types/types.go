package types

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"
)

type (
	// JobUIDType is the embedding job unique identifier
	JobUIDType = uuid.UUID
	// RequestUIDType is the search request unique identifier
	RequestUIDType = uuid.UUID
	// CallbackUIDType is the approval callback unique identifier
	CallbackUIDType = uuid.UUID
)

// ObjectRef identifies an uploaded object in storage.
type ObjectRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// String renders the reference in s3 URI form, which is also used as the
// workflow ID suffix and the dedup key for ingest triggers.
func (r ObjectRef) String() string {
	return fmt.Sprintf("s3://%s/%s", r.Bucket, r.Key)
}

// VideoAsset identifies an uploaded object. It is created on the upload
// notification and never mutated by the pipeline.
type VideoAsset struct {
	ObjectRef   ObjectRef
	ContentType string
	SizeBytes   int64
	CreatedAt   time.Time
}

// JobState is the state of an embedding job.
type JobState string

const (
	// JobStatePending is the initial state, entered on the ingest trigger.
	JobStatePending JobState = "pending"
	// JobStateExtracting derives the segments to embed from the object.
	JobStateExtracting JobState = "extracting"
	// JobStateEmbedding waits on the external embedding service.
	JobStateEmbedding JobState = "embedding"
	// JobStateIndexing writes vectors into the vector index.
	JobStateIndexing JobState = "indexing"
	// JobStateCompleted is terminal: all vectors are indexed.
	JobStateCompleted JobState = "completed"
	// JobStateFailed is terminal: the job gave up.
	JobStateFailed JobState = "failed"
)

// Terminal reports whether the state ends the job's lifecycle.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// VideoSegment describes a sub-range of a video derived during extraction.
// Each segment produces one vector in the index.
type VideoSegment struct {
	SegmentUID   string  `json:"segmentUid"`
	StartSeconds float64 `json:"startSeconds"`
	EndSeconds   float64 `json:"endSeconds"`
}

// SearchCandidate is one ranked result from the vector index.
type SearchCandidate struct {
	ObjectRef    ObjectRef
	SegmentUID   string
	StartSeconds float64
	EndSeconds   float64
	Score        float32
}

// Status is the closed enumeration of status event values published on the
// bus. Consumers must tolerate unknown values from newer producers.
type Status string

const (
	// StatusSearching signals that a search request started processing.
	StatusSearching Status = "SEARCHING"
	// StatusFound carries a result clip that needs no approval.
	StatusFound Status = "FOUND"
	// StatusAwaitingApproval carries a callbackId waiting on a human decision.
	StatusAwaitingApproval Status = "AWAITING_APPROVAL"
	// StatusApproved is the terminal outcome of an approved clip.
	StatusApproved Status = "APPROVED"
	// StatusRejected is the terminal outcome of a rejected or timed-out clip.
	StatusRejected Status = "REJECTED"
	// StatusFailed ends a request after an unrecoverable failure.
	StatusFailed Status = "FAILED"
)

// Valid reports whether the status belongs to the closed enumeration.
func (s Status) Valid() bool {
	switch s {
	case StatusSearching, StatusFound, StatusAwaitingApproval,
		StatusApproved, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// StatusEvent is the unit of the status stream. RequestID and Status are
// always set; the remaining fields are optional and consumers must tolerate
// their absence.
type StatusEvent struct {
	RequestID  string `json:"requestId"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	CallbackID string `json:"callbackId,omitempty"`
	VideoURL   string `json:"videoUrl,omitempty"`
}

// Validate enforces the bus boundary schema.
func (e StatusEvent) Validate() error {
	if e.RequestID == "" {
		return fmt.Errorf("status event without requestId")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("unknown status %q", e.Status)
	}
	return nil
}

// Decision is a human approval decision.
type Decision string

const (
	// DecisionApproved publishes the clip.
	DecisionApproved Decision = "APPROVED"
	// DecisionRejected discards the clip. Timeouts fail closed to this value.
	DecisionRejected Decision = "REJECTED"
)

// Valid reports whether the decision is one of the two accepted values.
func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// IngestEvent reports the terminal outcome of an embedding job on the
// diagnostics channel. Completed=true carries the vector count, otherwise
// Reason explains the failure.
type IngestEvent struct {
	ObjectRef   ObjectRef `json:"objectRef"`
	Completed   bool      `json:"completed"`
	VectorCount int       `json:"vectorCount,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}
