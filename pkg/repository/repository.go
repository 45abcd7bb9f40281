package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/EducloudHQ/video-agent-nova-embeddings/pkg/types"
)

// Repository is the persistence boundary of the pipeline. All cross-instance
// coordination state (jobs, requests, callbacks) lives behind it, keyed by
// jobUID / requestUID / callbackUID.
type Repository interface {
	// Video assets
	CreateVideoAsset(ctx context.Context, asset *VideoAssetModel) error

	// Embedding jobs
	CreateJobIfNoneActive(ctx context.Context, job *EmbeddingJobModel) (*EmbeddingJobModel, error)
	GetJob(ctx context.Context, jobUID types.JobUIDType) (*EmbeddingJobModel, error)
	GetActiveJobByObjectRef(ctx context.Context, ref types.ObjectRef) (*EmbeddingJobModel, error)
	UpdateJobState(ctx context.Context, jobUID types.JobUIDType, update JobStateUpdate) error

	// Search requests
	CreateSearchRequest(ctx context.Context, req *SearchRequestModel) error
	GetSearchRequest(ctx context.Context, requestUID types.RequestUIDType) (*SearchRequestModel, error)

	// Approval callbacks
	CreateApprovalCallback(ctx context.Context, cb *ApprovalCallbackModel) error
	GetApprovalCallback(ctx context.Context, callbackUID types.CallbackUIDType) (*ApprovalCallbackModel, error)
	ResolveApprovalCallback(ctx context.Context, callbackUID types.CallbackUIDType, decision types.Decision, message string) (*ApprovalCallbackModel, error)
	ListPendingCallbacks(ctx context.Context, olderThan time.Time) ([]ApprovalCallbackModel, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns the gorm-backed Repository implementation.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// JobStateUpdate carries the fields mutated on a stage transition. Nil
// pointers leave the column untouched.
type JobStateUpdate struct {
	State       types.JobState
	Attempt     *int
	LastError   *string
	PollToken   *string
	VectorCount *int
}
