package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

// VideoAssetModel records an uploaded object. Rows are insert-only: the
// pipeline reads assets but never mutates them.
type VideoAssetModel struct {
	Bucket      string    `gorm:"primaryKey;size:255"`
	Key         string    `gorm:"primaryKey;size:1024"`
	ContentType string    `gorm:"size:255"`
	SizeBytes   int64     ``
	CreateTime  time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the table name
func (VideoAssetModel) TableName() string {
	return "video_asset"
}

// ObjectRef returns the storage reference of the asset.
func (m VideoAssetModel) ObjectRef() types.ObjectRef {
	return types.ObjectRef{Bucket: m.Bucket, Key: m.Key}
}

// EmbeddingJobModel is the durable record of one embedding workflow run. At
// most one non-terminal row may exist per object reference; the invariant is
// enforced by CreateJobIfNoneActive.
type EmbeddingJobModel struct {
	UID        types.JobUIDType `gorm:"primaryKey;type:uuid"`
	Bucket     string           `gorm:"size:255;index:idx_embedding_job_object"`
	Key        string           `gorm:"size:1024;index:idx_embedding_job_object"`
	State      types.JobState   `gorm:"size:32;index"`
	Attempt    int              ``
	LastError  string           ``
	PollToken  string           `gorm:"size:1024"`
	VectorCnt  int              `gorm:"column:vector_count"`
	CreateTime time.Time        `gorm:"autoCreateTime"`
	UpdateTime time.Time        `gorm:"autoUpdateTime"`
}

// TableName overrides the table name
func (EmbeddingJobModel) TableName() string {
	return "embedding_job"
}

// ObjectRef returns the storage reference the job processes.
func (m EmbeddingJobModel) ObjectRef() types.ObjectRef {
	return types.ObjectRef{Bucket: m.Bucket, Key: m.Key}
}

// SearchRequestModel records a submitted search. The UID doubles as the
// requestId correlation key on the status stream.
type SearchRequestModel struct {
	UID        types.RequestUIDType `gorm:"primaryKey;type:uuid"`
	QueryText  string               ``
	IssueTime  time.Time            `gorm:"autoCreateTime"`
	UpdateTime time.Time            `gorm:"autoUpdateTime"`
}

// TableName overrides the table name
func (SearchRequestModel) TableName() string {
	return "search_request"
}

// Approval callback states. A callback is single-use: the pending→resolved
// transition commits exactly once.
const (
	CallbackStatePending  = "pending"
	CallbackStateResolved = "resolved"
)

// ApprovalCallbackModel is the persisted continuation of a suspended workflow
// branch awaiting a human decision.
type ApprovalCallbackModel struct {
	UID         types.CallbackUIDType `gorm:"primaryKey;type:uuid"`
	RequestUID  types.RequestUIDType  `gorm:"type:uuid;index"`
	WorkflowID  string                `gorm:"size:255"`
	VideoURL    string                ``
	State       string                `gorm:"size:32;index"`
	Decision    string                `gorm:"size:32"`
	Message     string                ``
	SuspendTime time.Time             `gorm:"autoCreateTime"`
	TimeoutTime time.Time             ``
	DecideTime  *time.Time            ``
}

// TableName overrides the table name
func (ApprovalCallbackModel) TableName() string {
	return "approval_callback"
}

// AutoMigrate creates or updates the pipeline tables. Invoked by both
// binaries on startup; schema changes are additive.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&VideoAssetModel{},
		&EmbeddingJobModel{},
		&SearchRequestModel{},
		&ApprovalCallbackModel{},
	)
}
